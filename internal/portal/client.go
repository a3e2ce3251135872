// Package portal talks to the Moodle portal: authenticated page fetches,
// the login form, the REST web service and raw file downloads.
package portal

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("mydylms.internal.portal")

// SessionCookie is the name of the cookie the portal authenticates with.
const SessionCookie = "MoodleSession"

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var (
	// ErrLoggedOut means the portal answered with its login page, the cookie is no longer valid.
	ErrLoggedOut          = errors.New("portal session is not logged in")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginUnrecognized  = errors.New("unrecognized login response")
	ErrNoSessionCookie    = errors.New("portal did not issue a session cookie")
)

// StatusError is a non-2xx answer from the portal.
type StatusError struct {
	Code int
	Url  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal responded %d for %s", e.Code, e.Url)
}

type Options struct {
	BaseUrl   string
	UserAgent string
	// Timeout bounds a whole page or api call.
	Timeout time.Duration
	// StreamTimeout bounds the wait for response headers of a file download,
	// the body itself is not bounded.
	StreamTimeout     time.Duration
	RequestsPerSecond float64
	// Retries is the number of extra attempts for idempotent requests.
	Retries int
	// RetryWait is the first backoff interval, it doubles per attempt.
	RetryWait        time.Duration
	CloudflareBypass bool
}

type Client struct {
	baseUrl *url.URL
	opts    Options
	limiter *rate.Limiter
	http    *resty.Client
	stream  *resty.Client
	tel     telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	base := opts.BaseUrl
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseUrl, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}

	c := &Client{
		baseUrl: baseUrl,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("portal", tel),
	}
	if opts.RequestsPerSecond > 0 {
		// max burst >= 2 just means that no requests will be dropped
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2)
	}

	c.http = c.newHttp(nil, opts.Timeout, 0)
	c.stream = c.newHttp(nil, 0, opts.StreamTimeout)
	return c, nil
}

// newHttp builds a resty client, a nil jar means cookies are attached per request.
func (c *Client) newHttp(jar http.CookieJar, timeout, headerTimeout time.Duration) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	var rt http.RoundTripper = transport
	if c.opts.CloudflareBypass {
		rt = cloudflarebp.AddCloudFlareByPass(rt)
	}

	client := resty.New()
	client.SetTransport(rt)
	// resty installs a jar by default, shared clients must not keep the portal's cookies
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", c.opts.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(c.baseUrl.Hostname()))
	client.SetTimeout(timeout)

	client.SetRetryCount(c.opts.Retries)
	client.SetRetryWaitTime(c.opts.RetryWait)
	client.SetRetryMaxWaitTime(8 * c.opts.RetryWait)
	client.AddRetryCondition(retryIdempotent)

	if c.limiter != nil {
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return c.limiter.Wait(req.Context())
		})
	}
	telemetry.InstrumentResty(client, c.tel)
	return client
}

func retryIdempotent(res *resty.Response, err error) bool {
	if res == nil || res.Request == nil {
		return false
	}
	if res.Request.Method != http.MethodGet && res.Request.Method != http.MethodHead {
		return false
	}
	if err != nil {
		return true
	}
	switch res.StatusCode() {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) newLoginHttp() (*resty.Client, *cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}
	return c.newHttp(jar, c.opts.Timeout, 0), jar, nil
}

// BaseUrl is the portal root every path is resolved against.
func (c *Client) BaseUrl() *url.URL {
	copied := *c.baseUrl
	return &copied
}

// Resolve resolves a portal relative path (which may carry a query) to an absolute url.
func (c *Client) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseUrl.String() + strings.TrimPrefix(path, "/")
	}
	return c.baseUrl.ResolveReference(ref).String()
}

func sessionCookie(value string) *http.Cookie {
	return &http.Cookie{Name: SessionCookie, Value: value}
}

func isLoginUrl(u *url.URL) bool {
	return u != nil && strings.HasSuffix(u.Path, "/"+PathLogin)
}

// finalUrl is the url of the last request after redirects.
func finalUrl(res *http.Response) *url.URL {
	if res == nil || res.Request == nil {
		return nil
	}
	return res.Request.URL
}
