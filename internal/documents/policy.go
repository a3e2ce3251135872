package documents

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/content"
)

type Action string

const (
	ActionMetadata Action = ""
	ActionView     Action = "view"
	ActionDownload Action = "download"
)

func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionMetadata:
		return ActionMetadata, nil
	case ActionView:
		return ActionView, nil
	case ActionDownload:
		return ActionDownload, nil
	}
	return "", apperr.BadRequest("documents.action", fmt.Sprintf("unknown action %q, expected view or download", raw))
}

type DecisionKind int

const (
	// DecideMetadata returns the document record itself.
	DecideMetadata DecisionKind = iota
	// DecideRedirect sends the caller to the raw document url.
	DecideRedirect
	// DecideFrontendViewer returns a descriptor the frontend renders itself.
	DecideFrontendViewer
	// DecideStream proxies the document bytes.
	DecideStream
)

// FrontendViewer describes a document the frontend renders with its own viewer.
type FrontendViewer struct {
	ViewerType string `json:"viewer_type"`
	DocName    string `json:"doc_name"`
	MimeType   string `json:"mime_type"`
	DocUrl     string `json:"doc_url"`
}

type Decision struct {
	Kind DecisionKind
	// Url is the redirect target or the url to stream from.
	Url string
	// Disposition is inline or attachment for streams.
	Disposition string
	Viewer      FrontendViewer
}

// Policy is the module type table deciding how documents are served.
type Policy struct {
	NonViewableMods            []string
	NonDownloadableMods        []string
	FrontendViewableExtensions []string
}

func DefaultPolicy() Policy {
	return Policy{
		NonViewableMods:            []string{"url"},
		NonDownloadableMods:        []string{"url"},
		FrontendViewableExtensions: []string{".pptx", ".docx"},
	}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// Decide is evaluated before any byte is transferred.
func (p Policy) Decide(doc content.CourseDocument, action Action) Decision {
	name := documentName(doc)

	switch action {
	case ActionView:
		if contains(p.NonViewableMods, doc.Mod) {
			return Decision{Kind: DecideRedirect, Url: doc.DocUrl}
		}
		if contains(p.FrontendViewableExtensions, extension(name)) {
			return Decision{
				Kind: DecideFrontendViewer,
				Viewer: FrontendViewer{
					ViewerType: "frontend",
					DocName:    name,
					MimeType:   ContentType(name),
					DocUrl:     doc.DocUrl,
				},
			}
		}
		return Decision{Kind: DecideStream, Url: doc.DocUrl, Disposition: "inline"}
	case ActionDownload:
		if contains(p.NonDownloadableMods, doc.Mod) {
			return Decision{Kind: DecideRedirect, Url: doc.DocUrl}
		}
		return Decision{Kind: DecideStream, Url: WithForceDownload(doc.DocUrl), Disposition: "attachment"}
	}
	return Decision{Kind: DecideMetadata}
}

// documentName is the file name of a document, falling back to the last
// segment of its url.
func documentName(doc content.CourseDocument) string {
	if doc.DocName != nil && *doc.DocName != "" {
		return *doc.DocName
	}
	parsed, err := url.Parse(doc.DocUrl)
	if err == nil {
		base := path.Base(parsed.Path)
		if base != "." && base != "/" {
			return base
		}
	}
	return ""
}

func extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// WithForceDownload appends forcedownload=1 unless the url already asks for it.
func WithForceDownload(raw string) string {
	parsed, err := url.Parse(raw)
	if err == nil && parsed.Query().Has("forcedownload") {
		return raw
	}
	if strings.Contains(raw, "?") {
		return raw + "&forcedownload=1"
	}
	return raw + "?forcedownload=1"
}

var officeTypes = map[string]string{
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".pdf":  "application/pdf",
}

const defaultContentType = "application/octet-stream"

// ContentType guesses a mime type from a file name.
func ContentType(name string) string {
	ext := extension(name)
	if ext == "" {
		return defaultContentType
	}
	if t, ok := officeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultContentType
}
