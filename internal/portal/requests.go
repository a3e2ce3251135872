package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_portal_page            = "portal.page"
	report_portal_login           = "portal.login"
	report_portal_logout          = "portal.logout"
	report_portal_course_contents = "portal.course-contents"
	report_portal_open            = "portal.open"
)

func spanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

func checkResponse(res *resty.Response) error {
	raw := res.RawResponse
	if isLoginUrl(finalUrl(raw)) {
		return ErrLoggedOut
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return &StatusError{Code: res.StatusCode(), Url: res.Request.URL}
	}
	return nil
}

// Page fetches an html page as the session identified by cookie.
func (c *Client) Page(ctx context.Context, cookie, path string) (string, error) {
	ctx, span := tracer.Start(ctx, "Page", trace.WithAttributes(
		attribute.String("path", strings.SplitN(path, "?", 2)[0]),
	))
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(cookie)).
		Get(c.Resolve(path))
	if err != nil {
		spanError(span, err, "request failed")
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	err = checkResponse(res)
	if err != nil {
		c.tel.ReportDebug(report_portal_page, path, err)
		spanError(span, err, "unexpected response")
		return "", err
	}
	return res.String(), nil
}

// Login submits the login form and returns the session cookie the portal issued.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	client, jar, err := c.newLoginHttp()
	if err != nil {
		return "", err
	}

	res, err := client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"uname_static": email,
			"username":     email,
			"uname":        email,
			"password":     password,
		}).
		Post(c.Resolve(PathLogin))
	if err != nil {
		spanError(span, err, "login request failed")
		return "", fmt.Errorf("login request: %w", err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err := &StatusError{Code: res.StatusCode(), Url: res.Request.URL}
		spanError(span, err, "login request failed")
		return "", err
	}

	body := res.String()
	switch {
	case strings.Contains(body, "Invalid login, please try again"):
		span.SetStatus(codes.Error, "invalid credentials")
		return "", ErrInvalidCredentials
	case !IsLoggedInPage(body):
		c.tel.ReportWarning(report_portal_login, ErrLoginUnrecognized, finalUrl(res.RawResponse))
		span.SetStatus(codes.Error, "unrecognized response")
		return "", ErrLoginUnrecognized
	}

	for _, cookie := range jar.Cookies(c.baseUrl) {
		if cookie.Name == SessionCookie && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	c.tel.ReportBroken(report_portal_login, ErrNoSessionCookie)
	return "", ErrNoSessionCookie
}

// Logout ends the portal session, it needs the session key as a csrf token.
func (c *Client) Logout(ctx context.Context, cookie, sesskey string) error {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	query := url.Values{"sesskey": {sesskey}}
	res, err := c.http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(cookie)).
		Get(c.Resolve(PathLogout + "?" + query.Encode()))
	if err != nil {
		spanError(span, err, "logout request failed")
		return fmt.Errorf("logout: %w", err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err := &StatusError{Code: res.StatusCode(), Url: PathLogout}
		c.tel.ReportWarning(report_portal_logout, err)
		spanError(span, err, "logout rejected")
		return err
	}
	return nil
}

// CourseContents calls core_course_get_contents and returns the raw json body.
func (c *Client) CourseContents(ctx context.Context, wstoken string, courseId int64) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "CourseContents", trace.WithAttributes(
		attribute.Int64("course_id", courseId),
	))
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"wstoken":            wstoken,
			"wsfunction":         "core_course_get_contents",
			"moodlewsrestformat": "json",
			"courseid":           strconv.FormatInt(courseId, 10),
		}).
		Post(c.Resolve(PathWebService))
	if err != nil {
		spanError(span, err, "request failed")
		return nil, fmt.Errorf("course contents: %w", err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err := &StatusError{Code: res.StatusCode(), Url: PathWebService}
		c.tel.ReportWarning(report_portal_course_contents, err, courseId)
		spanError(span, err, "unexpected status")
		return nil, err
	}
	return res.Body(), nil
}

// Open starts a download of rawUrl. The status is checked before returning,
// the caller owns the returned body and must close it.
func (c *Client) Open(ctx context.Context, cookie, rawUrl string) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()

	res, err := c.stream.R().
		SetContext(ctx).
		SetCookie(sessionCookie(cookie)).
		SetDoNotParseResponse(true).
		Get(rawUrl)
	if err != nil {
		spanError(span, err, "request failed")
		return nil, fmt.Errorf("open document: %w", err)
	}

	raw := res.RawResponse
	if raw == nil {
		err := fmt.Errorf("open document: empty response")
		spanError(span, err, "empty response")
		return nil, err
	}
	err = checkResponse(res)
	if err != nil {
		raw.Body.Close()
		c.tel.ReportWarning(report_portal_open, err)
		spanError(span, err, "unexpected response")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("content_length", raw.ContentLength))
	return raw, nil
}
