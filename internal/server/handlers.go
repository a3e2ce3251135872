package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/documents"
	"mydylms-backend/internal/session"

	"github.com/go-chi/chi/v5"
)

const (
	report_server_stream = "server.document-stream"
)

// credentialsView is the JSON shape of a session, missing fields are null.
type credentialsView struct {
	UserId      *int64  `json:"user_id"`
	Sesskey     *string `json:"sesskey"`
	Cookie      *string `json:"cookie"`
	WebKey      *string `json:"web_key"`
	FeaturesKey *string `json:"features_key"`
	MyKey       *string `json:"my_key"`
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func newCredentialsView(sess session.Session) credentialsView {
	view := credentialsView{
		Sesskey:     optional(sess.Sesskey),
		Cookie:      optional(sess.Cookie),
		WebKey:      optional(sess.WebKey),
		FeaturesKey: optional(sess.FeaturesKey),
		MyKey:       optional(sess.MyKey),
	}
	if sess.UserId != 0 {
		userId := sess.UserId
		view.UserId = &userId
	}
	return view
}

func refetch(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("refetch")
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.BadRequest("server.refetch", "refetch must be true or false")
	}
	return value, nil
}

func int64Param(raw, name string) (int64, error) {
	if raw == "" {
		return 0, apperr.BadRequest("server.params", name+" is required")
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest("server.params", name+" must be an integer")
	}
	return value, nil
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.tel, map[string]string{"message": "mydylms gateway is running"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.tel, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)
	if err != nil {
		writeError(w, s.tel, apperr.BadRequest("server.login", "body must be a json object with email and password"))
		return
	}
	sess, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	writeData(w, s.tel, newCredentialsView(sess))
}

func (s *Server) validateSession(w http.ResponseWriter, r *http.Request) {
	valid, err := s.auth.ValidateSession(r.Context())
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	writeData(w, s.tel, map[string]bool{"valid": valid})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	err := s.auth.Logout(r.Context())
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	writeData(w, s.tel, map[string]string{"message": "logged out"})
}

func (s *Server) credentials(w http.ResponseWriter, r *http.Request) {
	sess, err := s.auth.Credentials(r.Context())
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	writeData(w, s.tel, newCredentialsView(sess))
}

// respond runs fetch with the refetch flag of the request.
func respond(s *Server, w http.ResponseWriter, r *http.Request, fetch func(refetch bool) (any, error)) {
	force, err := refetch(r)
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	data, err := fetch(force)
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	writeData(w, s.tel, data)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.Profile(r.Context(), force)
	})
}

func (s *Server) semesters(w http.ResponseWriter, r *http.Request) {
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.Semesters(r.Context(), force)
	})
}

func (s *Server) semester(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, s.tel, apperr.BadRequest("server.semester", "semester number must be an integer"))
		return
	}
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.Semester(r.Context(), n, force)
	})
}

func (s *Server) courseContents(w http.ResponseWriter, r *http.Request) {
	courseId, err := int64Param(chi.URLParam(r, "id"), "course id")
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.CourseContents(r.Context(), courseId, force)
	})
}

func (s *Server) attendance(w http.ResponseWriter, r *http.Request) {
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.Attendance(r.Context(), force)
	})
}

func (s *Server) courseAttendance(w http.ResponseWriter, r *http.Request) {
	altId, err := int64Param(chi.URLParam(r, "alt_id"), "alt id")
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	respond(s, w, r, func(force bool) (any, error) {
		return s.content.CourseAttendance(r.Context(), altId, force)
	})
}

// document answers with the document record, a viewer descriptor, a
// redirect or the document bytes depending on the action.
func (s *Server) document(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	courseId, err := int64Param(chi.URLParam(r, "id"), "course id")
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	docId, err := int64Param(query.Get("doc_id"), "doc_id")
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	action, err := documents.ParseAction(query.Get("action"))
	if err != nil {
		writeError(w, s.tel, err)
		return
	}
	force, err := refetch(r)
	if err != nil {
		writeError(w, s.tel, err)
		return
	}

	doc, decision, err := s.documents.Prepare(r.Context(), courseId, docId, action, force)
	if err != nil {
		writeError(w, s.tel, err)
		return
	}

	switch decision.Kind {
	case documents.DecideMetadata:
		writeData(w, s.tel, doc)
	case documents.DecideFrontendViewer:
		writeData(w, s.tel, decision.Viewer)
	case documents.DecideRedirect:
		http.Redirect(w, r, decision.Url, http.StatusTemporaryRedirect)
	case documents.DecideStream:
		_, err := s.documents.Stream(r.Context(), w, doc, decision)
		if errors.Is(err, documents.ErrStreamInterrupted) {
			// the status line is already out, all that is left is to cut the body short
			s.tel.ReportWarning(report_server_stream, err, courseId, docId)
			return
		}
		if err != nil {
			writeError(w, s.tel, err)
		}
	}
}
