package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/documents"
	"mydylms-backend/internal/session"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	sess      session.Session
	err       error
	loggedOut bool
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (session.Session, error) {
	if password != "hunter2" {
		return session.Session{}, apperr.Unauthenticated("auth.login", "invalid credentials")
	}
	return f.sess, nil
}

func (f *fakeAuth) ValidateSession(context.Context) (bool, error) {
	return f.sess.Authenticated(), f.err
}

func (f *fakeAuth) Logout(context.Context) error {
	f.loggedOut = true
	return f.err
}

func (f *fakeAuth) Credentials(context.Context) (session.Session, error) {
	return f.sess, f.err
}

type fakeContent struct {
	err      error
	refetch  bool
	semester int
}

func (f *fakeContent) Profile(_ context.Context, refetch bool) (content.Profile, error) {
	f.refetch = refetch
	return content.Profile{UserId: 31, UserName: "A Student"}, f.err
}

func (f *fakeContent) Semesters(_ context.Context, refetch bool) ([]content.Semester, error) {
	f.refetch = refetch
	if f.err != nil {
		return nil, f.err
	}
	return []content.Semester{{Name: "Semester IV", Subjects: []content.Subject{{Id: 101, Name: "Compilers"}}}}, nil
}

func (f *fakeContent) Semester(_ context.Context, n int, refetch bool) (content.Semester, error) {
	f.semester = n
	f.refetch = refetch
	return content.Semester{Name: "Semester IV"}, f.err
}

func (f *fakeContent) CourseContents(_ context.Context, courseId int64, refetch bool) ([]content.CourseSection, error) {
	f.refetch = refetch
	return []content.CourseSection{{Docs: []content.CourseDocument{}}}, f.err
}

func (f *fakeContent) Attendance(_ context.Context, refetch bool) (content.AttendanceSummary, error) {
	f.refetch = refetch
	return content.AttendanceSummary{OverallTotalClasses: 4, OverallPresent: 3, OverallPercentage: 75}, f.err
}

func (f *fakeContent) CourseAttendance(_ context.Context, altId int64, refetch bool) (content.CourseAttendance, error) {
	f.refetch = refetch
	return content.CourseAttendance{AltId: altId}, f.err
}

type fakeDocuments struct {
	decision  documents.Decision
	err       error
	streamErr error
	action    documents.Action
}

func (f *fakeDocuments) Prepare(_ context.Context, courseId, docId int64, action documents.Action, refetch bool) (content.CourseDocument, documents.Decision, error) {
	f.action = action
	id := docId
	return content.CourseDocument{ViewId: 11, DocId: &id, Mod: "resource"}, f.decision, f.err
}

func (f *fakeDocuments) Stream(_ context.Context, w http.ResponseWriter, doc content.CourseDocument, decision documents.Decision) (int64, error) {
	if f.streamErr != nil && !errors.Is(f.streamErr, documents.ErrStreamInterrupted) {
		return 0, f.streamErr
	}
	w.Header().Set("Content-Disposition", decision.Disposition)
	w.WriteHeader(http.StatusOK)
	n, _ := io.WriteString(w, "%PDF-1.4")
	return int64(n), f.streamErr
}

type fixture struct {
	handler   http.Handler
	auth      *fakeAuth
	content   *fakeContent
	documents *fakeDocuments
	tel       *telemetry.TestAPI
}

func newFixture() fixture {
	f := fixture{
		auth:      &fakeAuth{sess: session.Session{Cookie: "c", Sesskey: "Fresh12345", UserId: 31}},
		content:   &fakeContent{},
		documents: &fakeDocuments{},
		tel:       telemetry.NewTestAPI(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.handler = NewServer(f.auth, f.content, f.documents, f.tel).Handler(logger)
	return f
}

type response struct {
	Success    bool            `json:"success"`
	Error      *string         `json:"error"`
	Data       json.RawMessage `json:"data"`
	StatusCode int             `json:"status_code"`
}

func (f fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, response) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Equal(t, rec.Code, out.StatusCode)
	}
	return rec, out
}

func TestEnvelope(t *testing.T) {
	f := newFixture()

	rec, res := f.do(t, http.MethodGet, "/sem/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Success)
	require.Nil(t, res.Error)
	require.JSONEq(t, `[{"semester": "Semester IV", "subjects": [{"id": 101, "name": "Compilers"}]}]`, string(res.Data))
	require.False(t, f.content.refetch)

	_, res = f.do(t, http.MethodGet, "/sem/?refetch=true", "")
	require.True(t, res.Success)
	require.True(t, f.content.refetch)

	rec, res = f.do(t, http.MethodGet, "/nowhere", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, res.Success)
	require.Equal(t, "null", string(res.Data))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"unauthenticated", apperr.Unauthenticated("op", "not logged in"), 401, "not logged in"},
		{"not found", apperr.NotFound("op", "no such course"), 404, "no such course"},
		{"invalid index", apperr.New(apperr.KindInvalidIndex, "op", "out of range"), 400, "out of range"},
		{"upstream", apperr.New(apperr.KindUpstreamUnavailable, "op", "portal unreachable"), 502, "portal unreachable"},
		{"malformed", apperr.New(apperr.KindUpstreamMalformed, "op", "bad page"), 502, "bad page"},
		{"unclassified", errors.New("disk on fire"), 500, "internal error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.content.err = tc.err

			rec, res := f.do(t, http.MethodGet, "/attendance/overall", "")
			require.Equal(t, tc.status, rec.Code)
			require.False(t, res.Success)
			require.NotNil(t, res.Error)
			require.Equal(t, tc.message, *res.Error)
		})
	}

	f := newFixture()
	f.content.err = errors.New("disk on fire")
	f.do(t, http.MethodGet, "/auth/me", "")
	require.Len(t, f.tel.Reports("broken", "server.response"), 1)
}

func TestParams(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/sem/?refetch=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/sem/two/course", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/sem/-1/course?refetch=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, -1, f.content.semester)
	require.True(t, f.content.refetch)

	rec, _ = f.do(t, http.MethodGet, "/course/abc/docs", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, res := f.do(t, http.MethodGet, "/attendance/course/77", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"alt_id": 77, "attendance": null}`, string(res.Data))
}

func TestAuthRoutes(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodPost, "/auth/login", "not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, res := f.do(t, http.MethodPost, "/auth/login", `{"email": "s@example.edu", "password": "wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", *res.Error)

	rec, res = f.do(t, http.MethodPost, "/auth/login", `{"email": "s@example.edu", "password": "hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"user_id": 31, "sesskey": "Fresh12345", "cookie": "c",
		"web_key": null, "features_key": null, "my_key": null
	}`, string(res.Data))

	_, res = f.do(t, http.MethodGet, "/auth/validate-session", "")
	require.JSONEq(t, `{"valid": true}`, string(res.Data))

	rec, _ = f.do(t, http.MethodGet, "/auth/logout", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.False(t, f.auth.loggedOut)

	rec, _ = f.do(t, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.auth.loggedOut)
}

func TestDocumentRoute(t *testing.T) {
	t.Run("metadata", func(t *testing.T) {
		f := newFixture()
		f.documents.decision = documents.Decision{Kind: documents.DecideMetadata}

		rec, res := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var doc content.CourseDocument
		require.NoError(t, json.Unmarshal(res.Data, &doc))
		require.Equal(t, int64(456), *doc.DocId)
		require.Equal(t, documents.Action(""), f.documents.action)
	})

	t.Run("viewer", func(t *testing.T) {
		f := newFixture()
		viewer := documents.FrontendViewer{ViewerType: "frontend", DocName: "slides.pptx", DocUrl: "https://portal.example/slides.pptx"}
		f.documents.decision = documents.Decision{Kind: documents.DecideFrontendViewer, Viewer: viewer}

		_, res := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=view", "")
		var out documents.FrontendViewer
		require.NoError(t, json.Unmarshal(res.Data, &out))
		if diff := cmp.Diff(viewer, out); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("redirect", func(t *testing.T) {
		f := newFixture()
		f.documents.decision = documents.Decision{Kind: documents.DecideRedirect, Url: "https://www.youtube.com/watch?v=abc"}

		rec, _ := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=download", "")
		require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		require.Equal(t, "https://www.youtube.com/watch?v=abc", rec.Header().Get("Location"))
		require.Equal(t, documents.ActionDownload, f.documents.action)
	})

	t.Run("stream", func(t *testing.T) {
		f := newFixture()
		f.documents.decision = documents.Decision{Kind: documents.DecideStream, Url: "https://portal.example/notes.pdf", Disposition: "inline"}

		rec, _ := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=view", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "%PDF-1.4", rec.Body.String())
		require.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	})

	t.Run("stream fails before writing", func(t *testing.T) {
		f := newFixture()
		f.documents.decision = documents.Decision{Kind: documents.DecideStream, Url: "https://portal.example/notes.pdf"}
		f.documents.streamErr = apperr.New(apperr.KindUpstreamUnavailable, "documents.stream", "fetch failed")

		rec, res := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=view", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Equal(t, "fetch failed", *res.Error)
	})

	t.Run("stream interrupted", func(t *testing.T) {
		f := newFixture()
		f.documents.decision = documents.Decision{Kind: documents.DecideStream, Url: "https://portal.example/notes.pdf"}
		f.documents.streamErr = documents.ErrStreamInterrupted

		rec, _ := f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=view", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.tel.Reports("warning", "server.document-stream"), 1)
	})

	t.Run("bad params", func(t *testing.T) {
		f := newFixture()
		rec, _ := f.do(t, http.MethodGet, "/course/5/doc", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		rec, _ = f.do(t, http.MethodGet, "/course/5/doc?doc_id=456&action=print", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec, res := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, string(res.Data))

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mydylms_http_requests_total")
}

func TestRequestId(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/health", "")
	generated := rec.Header().Get("X-Request-Id")
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "from-proxy")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, "from-proxy", rec.Header().Get("X-Request-Id"))
}
