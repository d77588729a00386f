package apierror

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/teemow/sheetsproxy/internal/logging"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// Write logs err in full and sends its sanitized form as JSON.
func Write(w http.ResponseWriter, logger *slog.Logger, context string, err error) {
	res := Sanitize(err)
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("request failed",
		logging.Operation(context),
		slog.String("kind", KindOf(err).String()),
		slog.Int(logging.KeyStatus, res.StatusCode),
		logging.Err(err))

	WriteJSON(w, res.StatusCode, Body{Error: res.Message})
}

// WriteJSON sends body with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
