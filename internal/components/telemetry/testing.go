package telemetry

import (
	"strings"
	"sync"
)

// Report is a single event recorded by TestAPI.
type Report struct {
	Level  string
	Id     string
	Params []any
}

// TestAPI records every report so tests can assert on them.
type TestAPI struct {
	mu      sync.Mutex
	reports []Report
}

func NewTestAPI() *TestAPI {
	return &TestAPI{}
}

func (t *TestAPI) record(level, id string, params []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reports = append(t.reports, Report{Level: level, Id: id, Params: params})
}

func (t *TestAPI) ReportBroken(id string, params ...any) {
	t.record("broken", id, params)
}

func (t *TestAPI) ReportWarning(id string, params ...any) {
	t.record("warning", id, params)
}

func (t *TestAPI) ReportDebug(msg string, params ...any) {
	t.record("debug", msg, params)
}

func (t *TestAPI) ReportCount(id string, count int64) {
	t.record("count", id, []any{count})
}

// Reports returns the reports at a level whose id contains the given substring.
func (t *TestAPI) Reports(level, contains string) []Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Report
	for _, r := range t.reports {
		if r.Level == level && strings.Contains(r.Id, contains) {
			out = append(out, r)
		}
	}
	return out
}
