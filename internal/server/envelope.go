package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mydylms-backend/internal/apperr"
	"mydylms-backend/internal/components/telemetry"
)

const report_server_response = "server.response"

// envelope wraps every JSON response.
type envelope struct {
	Success    bool    `json:"success"`
	Error      *string `json:"error"`
	Data       any     `json:"data"`
	StatusCode int     `json:"status_code"`
}

func writeEnvelope(w http.ResponseWriter, tel telemetry.API, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.StatusCode)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		tel.ReportWarning(report_server_response, err)
	}
}

func writeData(w http.ResponseWriter, tel telemetry.API, data any) {
	writeEnvelope(w, tel, envelope{
		Success:    true,
		Data:       data,
		StatusCode: http.StatusOK,
	})
}

// writeError maps err onto its status, unclassified errors are reported as
// broken since every service is expected to classify its failures.
func writeError(w http.ResponseWriter, tel telemetry.API, err error) {
	status := apperr.StatusCode(err)
	message := apperr.Message(err)

	var classified *apperr.Error
	switch {
	case !errors.As(err, &classified):
		tel.ReportBroken(report_server_response, "unclassified error", err)
	case status >= http.StatusInternalServerError:
		tel.ReportWarning(report_server_response, err)
	default:
		tel.ReportDebug("request failed", err)
	}

	writeEnvelope(w, tel, envelope{
		Error:      &message,
		StatusCode: status,
	})
}
