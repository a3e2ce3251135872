package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChunkSize is the size of each read from the portal while streaming.
const ChunkSize = 64 * 1024

const (
	report_documents_resolve = "documents.resolve"
	report_documents_stream  = "documents.stream"
)

// ErrStreamInterrupted means the stream broke after headers were sent, the
// caller can no longer answer with an error.
var ErrStreamInterrupted = errors.New("document stream interrupted")

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mydylms_document_streams_total",
		Help: "Document streams by outcome.",
	}, []string{"status"})
	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mydylms_document_stream_duration_seconds",
		Help:    "Duration of a document stream from request to last byte.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mydylms_document_stream_bytes_total",
		Help: "Bytes streamed to callers.",
	})
	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mydylms_document_streams_active",
		Help: "Document streams in progress.",
	})
)

type Contents interface {
	CourseContents(ctx context.Context, courseId int64, refetch bool) ([]content.CourseSection, error)
}

type Opener interface {
	Open(ctx context.Context, cookie, rawUrl string) (*http.Response, error)
}

type Sessions interface {
	Snapshot(ctx context.Context) (session.Session, error)
}

type Pipeline struct {
	contents Contents
	opener   Opener
	sessions Sessions
	policy   Policy
	tel      telemetry.API
	active   atomic.Int64
}

func NewPipeline(contents Contents, opener Opener, sessions Sessions, policy Policy, tel telemetry.API) *Pipeline {
	assert.NotNil(contents)
	assert.NotNil(opener)
	assert.NotNil(sessions)
	assert.NotNil(tel)

	return &Pipeline{
		contents: contents,
		opener:   opener,
		sessions: sessions,
		policy:   policy,
		tel:      telemetry.NewScopedAPI("documents", tel),
	}
}

// FindDocument scans every section for the first document with docId.
func FindDocument(sections []content.CourseSection, docId int64) (content.CourseDocument, bool) {
	for _, section := range sections {
		for _, doc := range section.Docs {
			if doc.DocId != nil && *doc.DocId == docId {
				return doc, true
			}
		}
	}
	return content.CourseDocument{}, false
}

// Resolve finds a document in the (possibly cached) contents of a course.
func (p *Pipeline) Resolve(ctx context.Context, courseId, docId int64, refetch bool) (content.CourseDocument, error) {
	const op = report_documents_resolve

	sections, err := p.contents.CourseContents(ctx, courseId, refetch)
	if apperr.Is(err, apperr.KindUnauthenticated) {
		return content.CourseDocument{}, err
	}
	if err != nil {
		return content.CourseDocument{}, apperr.Wrap(
			apperr.KindNotFound, op,
			fmt.Sprintf("failed to fetch contents of course %d", courseId),
			err,
		)
	}

	doc, ok := FindDocument(sections, docId)
	if !ok {
		return content.CourseDocument{}, apperr.NotFound(op, fmt.Sprintf("document %d not found in course %d", docId, courseId))
	}
	return doc, nil
}

// Prepare resolves the document and decides how it is served.
func (p *Pipeline) Prepare(ctx context.Context, courseId, docId int64, action Action, refetch bool) (content.CourseDocument, Decision, error) {
	doc, err := p.Resolve(ctx, courseId, docId, refetch)
	if err != nil {
		return doc, Decision{}, err
	}
	decision := p.policy.Decide(doc, action)
	needsUrl := decision.Kind == DecideRedirect || decision.Kind == DecideStream
	if needsUrl && decision.Url == "" {
		return doc, Decision{}, apperr.New(apperr.KindInternalFormat, report_documents_resolve, "document has no url")
	}
	return doc, decision, nil
}

// Stream copies the document to w in ChunkSize reads. Nothing is written to
// w unless the portal answered successfully, errors before that point are
// classified, errors after it wrap ErrStreamInterrupted.
func (p *Pipeline) Stream(ctx context.Context, w http.ResponseWriter, doc content.CourseDocument, decision Decision) (int64, error) {
	const op = report_documents_stream
	assert.NotEmptyStr(decision.Url)

	start := time.Now()
	activeDownloads.Inc()
	p.tel.ReportCount("active-streams", p.active.Add(1))
	defer func() {
		activeDownloads.Dec()
		p.tel.ReportCount("active-streams", p.active.Add(-1))
	}()

	sess, err := p.sessions.Snapshot(ctx)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return 0, apperr.Internal(op, err)
	}
	if !sess.Authenticated() {
		downloadsTotal.WithLabelValues("unauthenticated").Inc()
		return 0, apperr.Unauthenticated(op, "not logged in")
	}

	res, err := p.opener.Open(ctx, sess.Cookie, decision.Url)
	if err != nil {
		downloadsTotal.WithLabelValues("fetch_failed").Inc()
		classified := content.PortalError(op, err)
		if apperr.Is(classified, apperr.KindUpstreamUnavailable) {
			return 0, apperr.Wrap(apperr.KindUpstreamUnavailable, op, "fetch failed", err)
		}
		return 0, classified
	}
	defer res.Body.Close()

	name := documentName(doc)
	writeHeaders(w.Header(), res, name, decision.Disposition)
	w.WriteHeader(http.StatusOK)

	written, err := copyChunks(w, res.Body)
	if err != nil {
		downloadsTotal.WithLabelValues("stream_error").Inc()
		p.tel.ReportWarning(op, err, written)
		return written, fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
	}

	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(time.Since(start).Seconds())
	downloadBytesTotal.Add(float64(written))
	p.tel.ReportDebug("document streamed", name, written, time.Since(start).String())
	return written, nil
}

func writeHeaders(header http.Header, res *http.Response, name, disposition string) {
	filename := name
	if filename == "" {
		filename = "file"
	}
	filename = strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(filename)
	header.Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, filename))

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = ContentType(name)
	}
	header.Set("Content-Type", contentType)

	if res.ContentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	for _, h := range []string{"Last-Modified", "ETag"} {
		if v := res.Header.Get(h); v != "" {
			header.Set(h, v)
		}
	}
	header.Set("Cache-Control", "no-store")
}

// copyChunks is io.Copy with a fixed buffer, a write failure usually means
// the caller went away.
func copyChunks(w io.Writer, body io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, writeErr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
