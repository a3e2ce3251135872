package telemetry

// API is how components report what happened to them. Production wires
// SlogAPI (optionally behind MeteredAPI), tests wire TestAPI and assert on
// the recorded reports.
type API interface {
	// ReportBroken reports a failure that needs fixing, the portal changing
	// its markup or the database refusing writes.
	//
	// The id names the component, not the failing line. A failed attendance
	// fetch is "content.attendance" with the cause in params. Ids are
	// lowercase with dots between package and operation and dashes inside
	// an operation name.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something worth a look that is not necessarily
	// broken, a stale cache entry that could not be invalidated for example.
	ReportWarning(id string, params ...any)

	// ReportDebug is dropped unless verbose logging is enabled.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current value of a level, like the number of
	// streams in flight. Values are samples over time, never summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id and debug message with a namespace.
type ScopedAPI struct {
	prefix string
	inner  API
}

// NewScopedAPI scopes inner under namespace, scoping a ScopedAPI again
// nests the namespaces.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{prefix: namespace + ": ", inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.prefix+id, params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.prefix+id, params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.prefix+msg, params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.prefix+id, count)
}
