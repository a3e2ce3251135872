package content

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/cache"
	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/portal"
	"mydylms-backend/internal/session"
)

const (
	report_content_profile           = "content.profile"
	report_content_semesters         = "content.semesters"
	report_content_course_contents   = "content.course-contents"
	report_content_attendance        = "content.attendance"
	report_content_course_attendance = "content.course-attendance"
	report_content_cache             = "content.cache"
)

// Cache entry names.
const (
	CacheProfile                = "user_profile"
	CacheSemesters              = "semesters"
	CacheCoursePrefix           = "course_"
	CacheAttendance             = "attendance"
	CacheCourseAttendancePrefix = "attendance_course_"
)

func CourseCacheName(courseId int64) string {
	return CacheCoursePrefix + strconv.FormatInt(courseId, 10)
}

func CourseAttendanceCacheName(altId int64) string {
	return CacheCourseAttendancePrefix + strconv.FormatInt(altId, 10)
}

// TTLs are the freshness windows of each resource in hours.
type TTLs struct {
	Profile          float64
	Semesters        float64
	CourseContents   float64
	Attendance       float64
	CourseAttendance float64
}

func DefaultTTLs() TTLs {
	return TTLs{
		Profile:          12,
		Semesters:        6,
		CourseContents:   1,
		Attendance:       1,
		CourseAttendance: 1,
	}
}

type Portal interface {
	Page(ctx context.Context, cookie, path string) (string, error)
	CourseContents(ctx context.Context, wstoken string, courseId int64) ([]byte, error)
	BaseUrl() *url.URL
	Resolve(path string) string
}

// Resolver fills in derived credentials missing from the stored session.
type Resolver interface {
	Resolve(ctx context.Context) (session.Session, error)
}

type Sessions interface {
	Snapshot(ctx context.Context) (session.Session, error)
}

type Service struct {
	portal   Portal
	cache    *cache.Cache
	sessions Sessions
	resolver Resolver
	ttl      TTLs
	docs     DocumentUrl
	tel      telemetry.API
}

func NewService(
	p Portal,
	c *cache.Cache,
	sessions Sessions,
	resolver Resolver,
	ttl TTLs,
	tel telemetry.API,
) *Service {
	assert.NotNil(p)
	assert.NotNil(c)
	assert.NotNil(sessions)
	assert.NotNil(resolver)
	assert.NotNil(tel)

	return &Service{
		portal:   p,
		cache:    c,
		sessions: sessions,
		resolver: resolver,
		ttl:      ttl,
		docs:     DocumentUrl{Pluginfile: p.Resolve(portal.PathPluginfile)},
		tel:      telemetry.NewScopedAPI("content", tel),
	}
}

// cached serves name from the cache unless refetch is set or the entry is
// stale, fresh results are written back. A malformed upstream answer
// invalidates the entry so the next call goes to the portal too.
func cached[T any](
	ctx context.Context,
	s *Service,
	name string,
	ttl float64,
	refetch bool,
	fetch func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	generation := s.cache.Generation()
	if !refetch && s.cache.Get(ctx, name, ttl, &out) {
		return out, nil
	}
	if meta, ok := s.cache.Metadata(ctx, name); ok {
		s.tel.ReportDebug("refreshing cache entry", name, meta.Age.String(), meta.TtlHours, refetch)
	}

	out, err := fetch(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindUpstreamMalformed) {
			invalidateErr := s.cache.Invalidate(ctx, name)
			if invalidateErr != nil {
				s.tel.ReportWarning(report_content_cache, invalidateErr, name)
			}
		}
		return out, err
	}

	err = s.cache.PutSince(ctx, generation, name, out, ttl)
	switch {
	case errors.Is(err, cache.ErrCleared):
		s.tel.ReportDebug("session cleared during fetch, not caching", name)
	case err != nil:
		// the response is still good, only the next call pays for this
		s.tel.ReportWarning(report_content_cache, err, name)
	}
	return out, nil
}

func (s *Service) cookie(ctx context.Context, op string) (session.Session, error) {
	sess, err := s.sessions.Snapshot(ctx)
	if err != nil {
		return sess, apperr.Internal(op, err)
	}
	if !sess.Authenticated() {
		return sess, apperr.Unauthenticated(op, "not logged in")
	}
	return sess, nil
}

// credentials is cookie plus a pass through the resolver when need says a
// derived field is missing.
func (s *Service) credentials(ctx context.Context, op string, need func(session.Session) bool) (session.Session, error) {
	sess, err := s.cookie(ctx, op)
	if err != nil {
		return sess, err
	}
	if !need(sess) {
		return sess, nil
	}
	return s.resolver.Resolve(ctx)
}

func (s *Service) Profile(ctx context.Context, refetch bool) (Profile, error) {
	const op = report_content_profile

	sess, err := s.credentials(ctx, op, func(sess session.Session) bool { return sess.UserId == 0 })
	if err != nil {
		return Profile{}, err
	}
	if sess.UserId == 0 {
		return Profile{}, apperr.Unauthenticated(op, "user id could not be determined")
	}

	return cached(ctx, s, CacheProfile, s.ttl.Profile, refetch, func(ctx context.Context) (Profile, error) {
		query := url.Values{"id": {strconv.FormatInt(sess.UserId, 10)}}
		page, err := s.portal.Page(ctx, sess.Cookie, portal.PathProfile+"?"+query.Encode())
		if err != nil {
			return Profile{}, PortalError(op, err)
		}
		fields, err := portal.ScrapeProfile(page)
		if err != nil {
			return Profile{}, malformed(op, "unreadable profile page", err)
		}
		profile, err := ParseProfile(sess.UserId, fields)
		if err != nil {
			return Profile{}, malformed(op, "profile page had no profile", err)
		}
		return profile, nil
	})
}

func (s *Service) Semesters(ctx context.Context, refetch bool) ([]Semester, error) {
	const op = report_content_semesters

	sess, err := s.cookie(ctx, op)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, CacheSemesters, s.ttl.Semesters, refetch, func(ctx context.Context) ([]Semester, error) {
		page, err := s.portal.Page(ctx, sess.Cookie, portal.PathLanding)
		if err != nil {
			return nil, PortalError(op, err)
		}
		return s.parseSemesters(ctx, op, page)
	})
}

func (s *Service) parseSemesters(ctx context.Context, op, page string) ([]Semester, error) {
	if !portal.IsLandingPage(page) {
		return nil, apperr.Unauthenticated(op, "portal session expired, log in again")
	}
	raw, err := portal.ScrapeSemesters(ctx, page, s.portal.BaseUrl())
	if err != nil {
		return nil, malformed(op, "unreadable landing page", err)
	}

	semesters := make([]Semester, 0, len(raw))
	for _, r := range raw {
		semester, err := ParseSemester(r)
		if err != nil {
			s.tel.ReportDebug("dropping semester", err)
			continue
		}
		semesters = append(semesters, semester)
	}
	if len(semesters) == 0 {
		return nil, malformed(op, "no semesters found on the portal", nil)
	}
	return semesters, nil
}

// PrimeSemesters caches the semesters of a landing page fetched elsewhere, like at login.
func (s *Service) PrimeSemesters(ctx context.Context, landingPage string) error {
	semesters, err := s.parseSemesters(ctx, report_content_semesters, landingPage)
	if err != nil {
		return err
	}
	return s.cache.Put(ctx, CacheSemesters, semesters, s.ttl.Semesters)
}

// ResolveSemesterIndex turns a 1-indexed or negative (counted from the end)
// semester number into a zero based index.
func ResolveSemesterIndex(n, total int) (int, error) {
	const op = "content.semester"
	if total == 0 {
		return 0, apperr.NotFound(op, "no semesters found")
	}
	index := n - 1
	if n < 0 {
		index = total + n
	}
	if n == 0 || index < 0 || index >= total {
		return 0, apperr.New(
			apperr.KindInvalidIndex, op,
			fmt.Sprintf("semester %d out of range, there are %d semesters", n, total),
		)
	}
	return index, nil
}

func (s *Service) Semester(ctx context.Context, n int, refetch bool) (Semester, error) {
	semesters, err := s.Semesters(ctx, refetch)
	if err != nil {
		return Semester{}, err
	}
	index, err := ResolveSemesterIndex(n, len(semesters))
	if err != nil {
		return Semester{}, err
	}
	return semesters[index], nil
}

func (s *Service) CourseContents(ctx context.Context, courseId int64, refetch bool) ([]CourseSection, error) {
	const op = report_content_course_contents

	sess, err := s.credentials(ctx, op, func(sess session.Session) bool { return sess.WebKey == "" })
	if err != nil {
		return nil, err
	}
	if sess.WebKey == "" {
		return nil, apperr.Unauthenticated(op, "missing web service key")
	}

	return cached(ctx, s, CourseCacheName(courseId), s.ttl.CourseContents, refetch, func(ctx context.Context) ([]CourseSection, error) {
		body, err := s.portal.CourseContents(ctx, sess.WebKey, courseId)
		if err != nil {
			return nil, PortalError(op, err)
		}

		sections, skipped, err := s.docs.ParseCourseContents(body)
		var apiErr *ApiError
		switch {
		case errors.As(err, &apiErr) && apiErr.ErrorCode == "invalidtoken":
			return nil, apperr.Wrap(apperr.KindUnauthenticated, op, "web service key rejected", err)
		case errors.As(err, &apiErr):
			return nil, malformed(op, apiErr.Message, err)
		case err != nil:
			return nil, malformed(op, "unexpected course contents format", err)
		}
		if skipped > 0 {
			s.tel.ReportWarning(op, "skipped malformed sections", courseId, skipped)
		}
		if len(sections) == 0 {
			return nil, malformed(op, "course has no sections", nil)
		}
		return sections, nil
	})
}

func (s *Service) Attendance(ctx context.Context, refetch bool) (AttendanceSummary, error) {
	const op = report_content_attendance

	sess, err := s.cookie(ctx, op)
	if err != nil {
		return AttendanceSummary{}, err
	}
	records, err := cached(ctx, s, CacheAttendance, s.ttl.Attendance, refetch, func(ctx context.Context) ([]AttendanceRecord, error) {
		page, err := s.portal.Page(ctx, sess.Cookie, portal.PathAttendance+"?action=attendance")
		if err != nil {
			return nil, PortalError(op, err)
		}
		rows, err := portal.ScrapeAttendance(page)
		if err != nil {
			return nil, malformed(op, "unreadable attendance page", err)
		}
		records := collect(s.tel, op, rows, ParseAttendanceRecord)
		if len(records) == 0 {
			return nil, malformed(op, "no attendance records found", nil)
		}
		return records, nil
	})
	if err != nil {
		return AttendanceSummary{}, err
	}
	return Summarize(records), nil
}

func (s *Service) CourseAttendance(ctx context.Context, altId int64, refetch bool) (CourseAttendance, error) {
	const op = report_content_course_attendance

	sess, err := s.cookie(ctx, op)
	if err != nil {
		return CourseAttendance{}, err
	}
	details, err := cached(ctx, s, CourseAttendanceCacheName(altId), s.ttl.CourseAttendance, refetch, func(ctx context.Context) ([]AttendanceDetail, error) {
		query := url.Values{"id": {strconv.FormatInt(altId, 10)}}
		page, err := s.portal.Page(ctx, sess.Cookie, portal.PathCourseAttendance+"?"+query.Encode())
		if err != nil {
			return nil, PortalError(op, err)
		}
		rows, err := portal.ScrapeCourseAttendance(page)
		if err != nil {
			return nil, malformed(op, "unreadable attendance report", err)
		}
		details := collect(s.tel, op, rows, ParseAttendanceDetail)
		if len(details) == 0 {
			return nil, malformed(op, "no attendance entries found", nil)
		}
		return details, nil
	})
	if err != nil {
		return CourseAttendance{}, err
	}
	return CourseAttendance{AltId: altId, Attendance: details}, nil
}

// collect keeps the rows that parse, rejected rows are only reported.
func collect[T any](tel telemetry.API, op string, rows []portal.Fields, parse func(portal.Fields) (T, error)) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		record, err := parse(row)
		if err != nil {
			tel.ReportDebug("dropping row", op, err)
			continue
		}
		out = append(out, record)
	}
	return out
}
