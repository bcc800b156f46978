package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/devinv/internal/gateway"
	"github.com/kalambet/devinv/internal/queue"
	"github.com/kalambet/devinv/internal/reconcile"
	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/resolve"
)

const (
	msgStillOffline = "Device is still offline."
	msgSyncFailed   = "Failed to sync offline queue."
	msgSaveLocally  = "Failed to save data locally."
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// classify maps a domain error to a status, an error type and the message
// shown to the user.
func classify(err error) (int, string, string) {
	var ve *records.ValidationError
	var he *gateway.HTTPError
	var te *gateway.TransportError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_request_error", ve.Message
	case errors.Is(err, resolve.ErrNoObjectsFound):
		return http.StatusNotFound, "not_found_error", resolve.NotFoundMessage
	case errors.Is(err, reconcile.ErrStillOffline):
		return http.StatusConflict, "offline_error", msgStillOffline
	case errors.Is(err, reconcile.ErrSyncFailed):
		return http.StatusInternalServerError, "storage_error", msgSyncFailed
	case errors.Is(err, queue.ErrSaveLocally):
		return http.StatusInternalServerError, "storage_error", msgSaveLocally
	case errors.As(err, &he):
		return http.StatusBadGateway, "gateway_error", he.Message
	case errors.As(err, &te):
		return http.StatusBadGateway, "gateway_error", te.Error()
	default:
		return http.StatusInternalServerError, "api_error", err.Error()
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, errType, msg := classify(err)
	httpError(w, code, errType, "%s", msg)
}
