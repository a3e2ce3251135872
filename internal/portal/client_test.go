package portal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mydylms-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		BaseUrl:       server.URL + "/rait",
		Timeout:       5 * time.Second,
		StreamTimeout: 5 * time.Second,
		Retries:       2,
		RetryWait:     time.Millisecond,
	}, telemetry.NewTestAPI())
	require.NoError(t, err)
	return client, server
}

func requireCookie(t *testing.T, r *http.Request, expected string) {
	cookie, err := r.Cookie(SessionCookie)
	require.NoError(t, err)
	require.Equal(t, expected, cookie.Value)
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "s@example.edu", r.PostForm.Get("uname_static"))
		require.Equal(t, "s@example.edu", r.PostForm.Get("username"))
		require.Equal(t, "s@example.edu", r.PostForm.Get("uname"))

		if r.PostForm.Get("password") != "hunter2" {
			io.WriteString(w, "<div>Invalid login, please try again</div>")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "sess-1", Path: "/rait/"})
		http.Redirect(w, r, "/rait/my/", http.StatusSeeOther)
	})
	mux.HandleFunc("/rait/my/", func(w http.ResponseWriter, r *http.Request) {
		requireCookie(t, r, "sess-1")
		io.WriteString(w, "<h2>Academic Status</h2>")
	})
	client, _ := newTestClient(t, mux)

	cookie, err := client.Login(context.Background(), "s@example.edu", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "sess-1", cookie)

	_, err = client.Login(context.Background(), "s@example.edu", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPageLoggedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/my/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/rait/login/index.php", http.StatusFound)
	})
	mux.HandleFunc("/rait/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<form>login</form>")
	})
	mux.HandleFunc("/rait/user/profile.php", func(w http.ResponseWriter, r *http.Request) {
		requireCookie(t, r, "c")
		require.Equal(t, "12", r.URL.Query().Get("id"))
		io.WriteString(w, "profile")
	})
	client, _ := newTestClient(t, mux)

	_, err := client.Page(context.Background(), "c", PathLanding)
	require.ErrorIs(t, err, ErrLoggedOut)

	page, err := client.Page(context.Background(), "c", PathProfile+"?id=12")
	require.NoError(t, err)
	require.Equal(t, "profile", page)
}

func TestRetriesOnlyIdempotent(t *testing.T) {
	var gets, posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/my/", func(w http.ResponseWriter, r *http.Request) {
		if gets.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	})
	mux.HandleFunc("/rait/webservice/rest/server.php", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client, _ := newTestClient(t, mux)

	page, err := client.Page(context.Background(), "c", PathLanding)
	require.NoError(t, err)
	require.Equal(t, "ok", page)
	require.Equal(t, int32(3), gets.Load())

	_, err = client.CourseContents(context.Background(), "token", 5)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.Equal(t, int32(1), posts.Load())
}

func TestCourseContents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/webservice/rest/server.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok", r.PostForm.Get("wstoken"))
		require.Equal(t, "core_course_get_contents", r.PostForm.Get("wsfunction"))
		require.Equal(t, "json", r.PostForm.Get("moodlewsrestformat"))
		require.Equal(t, "42", r.PostForm.Get("courseid"))
		io.WriteString(w, `[{"name":"Week 1","modules":[]}]`)
	})
	client, _ := newTestClient(t, mux)

	body, err := client.CourseContents(context.Background(), "tok", 42)
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"Week 1","modules":[]}]`, string(body))
}

func TestOpen(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rait/pluginfile.php/1/a.pdf", func(w http.ResponseWriter, r *http.Request) {
		requireCookie(t, r, "c")
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.4")
	})
	mux.HandleFunc("/rait/pluginfile.php/2/missing.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	client, server := newTestClient(t, mux)

	res, err := client.Open(context.Background(), "c", server.URL+"/rait/pluginfile.php/1/a.pdf")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(body))
	require.Equal(t, "application/pdf", res.Header.Get("Content-Type"))

	_, err = client.Open(context.Background(), "c", server.URL+"/rait/pluginfile.php/2/missing.pdf")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestResolve(t *testing.T) {
	client, err := NewClient(Options{BaseUrl: "https://portal.example/rait"}, telemetry.NewTestAPI())
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/rait/my/", client.Resolve(PathLanding))
	require.Equal(t, "https://portal.example/rait/user/profile.php?id=3", client.Resolve(PathProfile+"?id=3"))
}
