package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mydylms-backend/internal/components/chrono"
	"mydylms-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const (
	webKey      = "0123456789abcdef0123456789abcdef"
	featuresKey = "11111111111111111111111111111111"
	myKey       = "22222222222222222222222222222222"
	pdf         = "%PDF-1.4 pretend this is a lecture"
)

const landing = `<html><body>
<script>M.cfg = {"sesskey":"Ab12Cd34Ef"};</script>
<a href="/rait/user/profile.php?id=31">me</a>
<h2>Academic Status</h2>
<ul>
	<li class="type_course">
		<p><span class="usdimmed_text">Semester IV</span></p>
		<ul>
			<li><a href="/rait/course/view.php?id=101">Compilers</a></li>
			<li><a href="/rait/course/view.php?id=102">Networks</a></li>
		</ul>
	</li>
</ul>
</body></html>`

// portal is a fake of the learning portal with a single student account.
type fakePortal struct {
	server    *httptest.Server
	loggedIn  atomic.Bool
	landing   atomic.Int32
	downloads atomic.Int32
}

func (f *fakePortal) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("MoodleSession")
	return err == nil && cookie.Value == "sess-1" && f.loggedIn.Load()
}

func (f *fakePortal) contents() string {
	pluginfile := f.server.URL + "/rait/webservice/pluginfile.php"
	return fmt.Sprintf(`[
		{"name": "Week 1", "modules": [
			{"id": 11, "name": "Lecture notes", "modname": "resource", "contents": [
				{"type": "file", "filename": "notes.pdf", "filesize": %d,
				 "fileurl": "%s/456/mod_resource/content/0/notes.pdf?forcedownload=1", "timemodified": 1700000000}
			]},
			{"id": 12, "name": "Recording", "modname": "url", "contents": [
				{"type": "url", "filename": "watch", "fileurl": "%s/457/mod_url/content/0/watch"}
			]}
		]}
	]`, len(pdf), pluginfile, pluginfile)
}

func newFakePortal(t *testing.T) *fakePortal {
	f := &fakePortal{}
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			io.WriteString(w, "<form>login</form>")
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("password") != "hunter2" {
			io.WriteString(w, "<div>Invalid login, please try again</div>")
			return
		}
		f.loggedIn.Store(true)
		http.SetCookie(w, &http.Cookie{Name: "MoodleSession", Value: "sess-1", Path: "/rait/"})
		http.Redirect(w, r, "/rait/my/", http.StatusSeeOther)
	})
	mux.HandleFunc("/rait/my/", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Redirect(w, r, "/rait/login/index.php", http.StatusSeeOther)
			return
		}
		f.landing.Add(1)
		io.WriteString(w, landing)
	})
	mux.HandleFunc("/rait/user/managetoken.php", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, f.authorized(r))
		require.Equal(t, "Ab12Cd34Ef", r.URL.Query().Get("sesskey"))
		fmt.Fprintf(w, `<table class="generaltable"><tbody>
			<tr><td class="cell c0">%s</td></tr>
			<tr><td class="cell c0">%s</td></tr>
			<tr><td class="cell c0">%s</td></tr>
		</tbody></table>`, webKey, featuresKey, myKey)
	})
	mux.HandleFunc("/rait/webservice/rest/server.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("wstoken") != webKey {
			io.WriteString(w, `{"exception": "moodle_exception", "errorcode": "invalidtoken", "message": "Invalid token"}`)
			return
		}
		require.Equal(t, "101", r.PostForm.Get("courseid"))
		io.WriteString(w, f.contents())
	})
	mux.HandleFunc("/rait/pluginfile.php/456/mod_resource/content/0/notes.pdf", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Redirect(w, r, "/rait/login/index.php", http.StatusSeeOther)
			return
		}
		f.downloads.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, pdf)
	})
	mux.HandleFunc("/rait/login/logout.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Ab12Cd34Ef", r.URL.Query().Get("sesskey"))
		f.loggedIn.Store(false)
		io.WriteString(w, "bye")
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type envelope struct {
	Success    bool            `json:"success"`
	Error      *string         `json:"error"`
	Data       json.RawMessage `json:"data"`
	StatusCode int             `json:"status_code"`
}

type gateway struct {
	app     *App
	handler http.Handler
}

func newGateway(t *testing.T, cfg Config) gateway {
	clock := chrono.NewFixedImpl(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC))
	a, err := New(cfg, clock, telemetry.NewTestAPI())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gateway{app: a, handler: a.Handler(logger)}
}

func (g gateway) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func testConfig(portalUrl string) Config {
	cfg := DefaultConfig()
	cfg.Database = ":memory:"
	cfg.Portal.BaseUrl = portalUrl + "/rait"
	cfg.Portal.RequestsPerSecond = 0
	cfg.Portal.Retries = 0
	return cfg
}

func TestGateway(t *testing.T) {
	p := newFakePortal(t)
	g := newGateway(t, testConfig(p.server.URL))

	rec, res := g.do(t, http.MethodGet, "/sem/", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, res = g.do(t, http.MethodPost, "/auth/login", `{"email": "s@example.edu", "password": "wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", *res.Error)

	rec, res = g.do(t, http.MethodPost, "/auth/login", `{"email": "s@example.edu", "password": "hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, fmt.Sprintf(`{
		"user_id": 31, "sesskey": "Ab12Cd34Ef", "cookie": "sess-1",
		"web_key": %q, "features_key": %q, "my_key": %q
	}`, webKey, featuresKey, myKey), string(res.Data))
	landingAfterLogin := p.landing.Load()

	// semesters were primed from the landing page fetched at login
	rec, res = g.do(t, http.MethodGet, "/sem/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"semester": "Semester IV", "subjects": [
		{"id": 101, "name": "Compilers"}, {"id": 102, "name": "Networks"}
	]}]`, string(res.Data))
	require.Equal(t, landingAfterLogin, p.landing.Load())

	rec, res = g.do(t, http.MethodGet, "/sem/-1/course", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = g.do(t, http.MethodGet, "/sem/2/course", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, res = g.do(t, http.MethodGet, "/auth/validate-session", "")
	require.JSONEq(t, `{"valid": true}`, string(res.Data))

	rec, res = g.do(t, http.MethodGet, "/course/101/docs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, string(res.Data), `"doc_id":456`)
	require.Contains(t, string(res.Data), p.server.URL+"/rait/pluginfile.php/456/mod_resource/content/0/notes.pdf")

	rec, res = g.do(t, http.MethodGet, "/course/101/doc?doc_id=456", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(res.Data), `"doc_name":"notes.pdf"`)

	rec, _ = g.do(t, http.MethodGet, "/course/101/doc?doc_id=456&action=download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pdf, rec.Body.String())
	require.Equal(t, `attachment; filename="notes.pdf"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, int32(1), p.downloads.Load())

	rec, _ = g.do(t, http.MethodGet, "/course/101/doc?doc_id=457&action=view", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	require.Equal(t, p.server.URL+"/rait/pluginfile.php/457/mod_url/content/0/watch", rec.Header().Get("Location"))

	rec, _ = g.do(t, http.MethodGet, "/course/101/doc?doc_id=999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	entries, err := g.app.Cache.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	rec, _ = g.do(t, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err = g.app.Cache.Entries(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)

	rec, _ = g.do(t, http.MethodGet, "/sem/", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	_, res = g.do(t, http.MethodGet, "/auth/validate-session", "")
	require.JSONEq(t, `{"valid": false}`, string(res.Data))
}

func TestExpiredPortalSession(t *testing.T) {
	p := newFakePortal(t)
	cfg := testConfig(p.server.URL)
	cfg.CacheDir = t.TempDir()
	g := newGateway(t, cfg)

	rec, _ := g.do(t, http.MethodPost, "/auth/login", `{"email": "s@example.edu", "password": "hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	files, err := filepath.Glob(filepath.Join(cfg.CacheDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1, "semesters are written to the cache directory")

	// the portal forgets the session behind the gateway's back
	p.loggedIn.Store(false)

	rec, res := g.do(t, http.MethodGet, "/sem/?refetch=true", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, res.Error)

	rec, _ = g.do(t, http.MethodGet, "/course/101/doc?doc_id=456&action=view", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "config.json5")

	cfg, err := ReadConfig(name)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	require.NoError(t, os.WriteFile(name, []byte(`{
		// only what differs from the defaults
		listen: ":9000",
		ttl: { semesters: 2 },
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		portal: { base_url: "http://localhost:8080/rait" },
	}`), 0o644))

	cfg, err = ReadConfig(name)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 2.0, cfg.TTL.Semesters)
	require.Equal(t, 12.0, cfg.TTL.Profile)
	require.Equal(t, "http://localhost:8080/rait", cfg.Portal.BaseUrl)
	require.Equal(t, 15, cfg.Portal.TimeoutSeconds)

	cfg.TTL.Attendance = -1
	require.Error(t, cfg.Validate())
}

func TestReadConfigExplicitZeroes(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(name, []byte(`{
		portal: { retries: 0, requests_per_second: 0 },
		documents: { non_viewable_mods: [] },
	}`), 0o644))

	cfg, err := ReadConfig(name)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Portal.Retries)
	require.Equal(t, 0.0, cfg.Portal.RequestsPerSecond)
	require.Empty(t, cfg.Documents.NonViewableMods)
	require.Empty(t, cfg.Policy().NonViewableMods)
	require.Equal(t, 15, cfg.Portal.TimeoutSeconds)
	require.Equal(t, DefaultConfig().Documents.NonDownloadableMods, cfg.Documents.NonDownloadableMods)
	require.NotEmpty(t, DefaultConfig().Documents.NonViewableMods)
}
