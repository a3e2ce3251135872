package server

import (
	"context"
	"log/slog"
	"net/http"

	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/documents"
	"mydylms-backend/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Auth interface {
	Login(ctx context.Context, email, password string) (session.Session, error)
	ValidateSession(ctx context.Context) (bool, error)
	Logout(ctx context.Context) error
	Credentials(ctx context.Context) (session.Session, error)
}

type Content interface {
	Profile(ctx context.Context, refetch bool) (content.Profile, error)
	Semesters(ctx context.Context, refetch bool) ([]content.Semester, error)
	Semester(ctx context.Context, n int, refetch bool) (content.Semester, error)
	CourseContents(ctx context.Context, courseId int64, refetch bool) ([]content.CourseSection, error)
	Attendance(ctx context.Context, refetch bool) (content.AttendanceSummary, error)
	CourseAttendance(ctx context.Context, altId int64, refetch bool) (content.CourseAttendance, error)
}

type Documents interface {
	Prepare(ctx context.Context, courseId, docId int64, action documents.Action, refetch bool) (content.CourseDocument, documents.Decision, error)
	Stream(ctx context.Context, w http.ResponseWriter, doc content.CourseDocument, decision documents.Decision) (int64, error)
}

type Server struct {
	auth      Auth
	content   Content
	documents Documents
	tel       telemetry.API
}

func NewServer(auth Auth, c Content, docs Documents, tel telemetry.API) *Server {
	assert.NotNil(auth)
	assert.NotNil(c)
	assert.NotNil(docs)
	assert.NotNil(tel)

	return &Server{
		auth:      auth,
		content:   c,
		documents: docs,
		tel:       telemetry.NewScopedAPI("server", tel),
	}
}

// Handler builds the router with every route of the gateway.
func (s *Server) Handler(logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(RequestId())
	router.Use(middleware.Recoverer)
	router.Use(RequestLogger(logger))
	router.Use(Metrics())

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		message := "route not found"
		writeEnvelope(w, s.tel, envelope{Error: &message, StatusCode: http.StatusNotFound})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		message := "method not allowed"
		writeEnvelope(w, s.tel, envelope{Error: &message, StatusCode: http.StatusMethodNotAllowed})
	})

	router.Get("/", s.root)
	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Get("/validate-session", s.validateSession)
		r.Post("/logout", s.logout)
		r.Get("/creds", s.credentials)
		r.Get("/me", s.profile)
	})
	router.Route("/sem", func(r chi.Router) {
		r.Get("/", s.semesters)
		r.Get("/{n}/course", s.semester)
	})
	router.Route("/course/{id}", func(r chi.Router) {
		r.Get("/docs", s.courseContents)
		r.Get("/doc", s.document)
	})
	router.Route("/attendance", func(r chi.Router) {
		r.Get("/overall", s.attendance)
		r.Get("/course/{alt_id}", s.courseAttendance)
	})

	return router
}
