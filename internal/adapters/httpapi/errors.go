package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
)

type errorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestID nullable.Nullable[string]         `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func newErrorBody(r *http.Request, e *apperr.Error) errorBody {
	body := errorBody{Code: e.Code, Message: e.Message}
	if e.Message == "" {
		body.Message = e.Code
	}
	if e.Details != nil {
		body.Details = nullable.NewNullableWithValue(e.Details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		body.RequestID = nullable.NewNullableWithValue(rid)
	}
	return body
}

// asAppError maps err onto the application taxonomy. Anything outside it is logged and
// answered as a generic 500 so internals never reach the caller.
func asAppError(r *http.Request, log *slog.Logger, err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	log.ErrorContext(r.Context(), "unhandled error",
		"method", r.Method,
		"path", r.URL.Path,
		"requestId", middleware.GetReqID(r.Context()),
		"err", err,
	)
	return apperr.ErrInternal
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	ae := asAppError(r, log, err)
	writeJSON(w, ae.Status, errorResponse{Error: newErrorBody(r, ae)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
