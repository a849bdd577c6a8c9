package endpoint

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

// errorResponse is the structured error body returned to HTTP clients.
// Field order is significant for stable client parsing; it is fixed by the
// struct declaration order.
type errorResponse struct {
	HTTPStatus        int    `json:"httpStatus"`
	HTTPStatusMessage string `json:"httpStatusMessage"`
	Timestamp         string `json:"timestamp"`
	Message           string `json:"message"`
}

// writeError writes the structured error body with the given status. The
// message is the human-readable description of the underlying failure; raw
// stack traces never reach the client.
func writeError(w http.ResponseWriter, status int, message string) {
	body := errorResponse{
		HTTPStatus:        status,
		HTTPStatusMessage: http.StatusText(status),
		Timestamp:         time.Now().Format(timestampLayout),
		Message:           message,
	}
	b, err := json.Marshal(body)
	if err != nil {
		// cannot happen for this struct; fall back to a bare status
		log.Errorf("marshaling error body: %v", err)
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
