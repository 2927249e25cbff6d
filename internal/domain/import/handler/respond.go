package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/pkg/logging"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error, logger *slog.Logger) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code}, logger)
}

// errorStatus maps pipeline errors onto HTTP status codes
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{errInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{model.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{model.ErrFileNotArchived, http.StatusNotFound, "file_not_archived"},
	{model.ErrResourceUnavailable, http.StatusServiceUnavailable, "resource_unavailable"},
	{model.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{model.ErrStaleCommit, http.StatusConflict, "stale_commit"},
	{model.ErrMappingFrozen, http.StatusConflict, "mapping_frozen"},
	{model.ErrUnsupportedFileType, http.StatusUnsupportedMediaType, "unsupported_file_type"},
	{model.ErrUnreadableFile, http.StatusUnprocessableEntity, "unreadable_file"},
	{model.ErrEmptyFile, http.StatusUnprocessableEntity, "empty_file"},
	{model.ErrTooManyRows, http.StatusRequestEntityTooLarge, "too_many_rows"},
	{model.ErrNoTable, http.StatusUnprocessableEntity, "no_file"},
	{model.ErrIncompleteMapping, http.StatusUnprocessableEntity, "incomplete_mapping"},
	{model.ErrUnknownColumn, http.StatusUnprocessableEntity, "unknown_column"},
	{model.ErrUnknownField, http.StatusUnprocessableEntity, "unknown_field"},
	{model.ErrInvalidTransactionType, http.StatusUnprocessableEntity, "invalid_transaction_type"},
	{model.ErrNoAccount, http.StatusUnprocessableEntity, "no_account"},
	{model.ErrNothingToImport, http.StatusUnprocessableEntity, "nothing_to_import"},
}

func (h *ImportHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context(), h.logger)
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				logger.Error("import request failed",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
			}
			writeError(w, e.status, e.code, err, h.logger)
			return
		}
	}

	logger.Error("unexpected import error",
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	writeError(w, http.StatusInternalServerError, "internal", errors.New("internal error"), h.logger)
}
