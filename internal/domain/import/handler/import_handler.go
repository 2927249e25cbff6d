// Package handler exposes the import pipeline over HTTP
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
)

// ImportHandler serves the import wizard and the one-shot import endpoints
type ImportHandler struct {
	importSvc *importservice.ImportService
	validate  *validator.Validate
	maxUpload int64
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler. maxUpload bounds request
// bodies carrying files.
func NewImportHandler(importSvc *importservice.ImportService, maxUpload int64, logger *slog.Logger) *ImportHandler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &ImportHandler{
		importSvc: importSvc,
		validate:  newValidator(),
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Routes registers the import endpoints on r
func (h *ImportHandler) Routes(r chi.Router) {
	r.Post("/import/column-mapping/{fileType}", h.ColumnMapping)
	r.Post("/import/{fileType}", h.ImportFile)

	r.Route("/imports", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Put("/file", h.UploadFile)
			r.Put("/mapping", h.UpdateMapping)
			r.Put("/account", h.SelectAccount)
			r.Post("/preview", h.Preview)
			r.Post("/back", h.Back)
			r.Post("/commit", h.Commit)
			r.Post("/reset", h.Reset)
			r.Get("/report.csv", h.Report)
			r.Get("/file", h.OriginalFile)
		})
	})
}

var errNoFile = errors.New("no file provided")

type uploadedFile struct {
	name     string
	fileType model.FileType
	data     []byte
}

// readUpload reads the multipart "file" field. The file type comes from
// declared when set, else from the filename extension.
func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request, declared string) (*uploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, fmt.Errorf("%w: file too large or invalid form", errInvalidRequest)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, errNoFile)
	}
	defer file.Close()

	if declared == "" {
		declared = r.FormValue("file_type")
	}
	var fileType model.FileType
	if declared != "" {
		fileType, err = model.ParseFileType(declared)
	} else {
		fileType, err = model.DetectFileType(header.Filename)
	}
	if err != nil {
		return nil, err
	}
	// Clients send "excel" for both spreadsheet formats
	if fileType == model.FileTypeExcel {
		if detected, err := model.DetectFileType(header.Filename); err == nil && detected == model.FileTypeXLS {
			fileType = detected
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return &uploadedFile{name: header.Filename, fileType: fileType, data: data}, nil
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed session id", model.ErrSessionNotFound)
	}
	return id, nil
}

func (h *ImportHandler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return h.validateStruct(v)
}

// ============================================================================
// Stateless endpoints
// ============================================================================

type columnMappingResponse struct {
	Columns           []string            `json:"columns"`
	SampleData        []map[string]string `json:"sample_data"`
	SuggestedMappings model.ColumnMapping `json:"suggested_mappings"`
	Remembered        bool                `json:"remembered"`
	RowCount          int                 `json:"row_count"`
}

// ColumnMapping reads a file and suggests a mapping without keeping any state
func (h *ImportHandler) ColumnMapping(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readUpload(w, r, chi.URLParam(r, "fileType"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	table, err := h.importSvc.ReadTable(r.Context(), upload.fileType, upload.data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	suggested, remembered := h.importSvc.SuggestMapping(r.Context(), table)

	sample := table.Sample()
	rows := make([]map[string]string, len(sample))
	for i, row := range sample {
		rows[i] = row.Values
	}

	writeJSON(w, http.StatusOK, columnMappingResponse{
		Columns:           table.Columns(),
		SampleData:        rows,
		SuggestedMappings: suggested,
		Remembered:        remembered,
		RowCount:          table.Len(),
	}, h.logger)
}

// importForm mirrors the form fields of a one-shot import
type importForm struct {
	AccountID              int64  `validate:"required,gt=0"`
	DateColumn             string `validate:"required,notblank"`
	AmountColumn           string `validate:"required,notblank"`
	DescriptionColumn      string `validate:"required,notblank"`
	PayeeColumn            string
	CategoryColumn         string
	TransactionTypeColumn  string
	DefaultTransactionType string `validate:"required,txtype"`
}

func (f importForm) mapping() model.ColumnMapping {
	return model.ColumnMapping{
		Date:            f.DateColumn,
		Amount:          f.AmountColumn,
		Description:     f.DescriptionColumn,
		Payee:           f.PayeeColumn,
		Category:        f.CategoryColumn,
		TransactionType: f.TransactionTypeColumn,
	}
}

// ImportFile maps and commits an uploaded file in one request
func (h *ImportHandler) ImportFile(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readUpload(w, r, chi.URLParam(r, "fileType"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	form := importForm{
		DateColumn:             r.FormValue("date_column"),
		AmountColumn:           r.FormValue("amount_column"),
		DescriptionColumn:      r.FormValue("description_column"),
		PayeeColumn:            r.FormValue("payee_column"),
		CategoryColumn:         r.FormValue("category_column"),
		TransactionTypeColumn:  r.FormValue("transaction_type_column"),
		DefaultTransactionType: r.FormValue("default_transaction_type"),
	}
	if form.DefaultTransactionType == "" {
		form.DefaultTransactionType = "expense"
	}
	if raw := r.FormValue("account_id"); raw != "" {
		form.AccountID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if err := h.validateStruct(form); err != nil {
		h.fail(w, r, err)
		return
	}

	table, err := h.importSvc.ReadTable(r.Context(), upload.fileType, upload.data)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.importSvc.Commit(r.Context(), table, form.mapping(), form.AccountID, form.DefaultTransactionType, importservice.CommitOptions{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession starts a session, loading the file when one is attached
func (h *ImportHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	view := h.importSvc.StartSession()

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		writeJSON(w, http.StatusCreated, view, h.logger)
		return
	}

	upload, err := h.readUpload(w, r, "")
	if err != nil {
		_ = h.importSvc.Delete(r.Context(), view.ID)
		h.fail(w, r, err)
		return
	}
	view, err = h.importSvc.Upload(r.Context(), view.ID, upload.name, upload.fileType, upload.data)
	if err != nil {
		_ = h.importSvc.Delete(r.Context(), view.ID)
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view, h.logger)
}

// GetSession returns the session snapshot
func (h *ImportHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.importSvc.Get(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

// DeleteSession drops the session
func (h *ImportHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.importSvc.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFile replaces the session's file, resetting everything else
func (h *ImportHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	upload, err := h.readUpload(w, r, "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.importSvc.Upload(r.Context(), id, upload.name, upload.fileType, upload.data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

type mappingRequest struct {
	Date                   string `json:"date"`
	Amount                 string `json:"amount"`
	Description            string `json:"description"`
	Payee                  string `json:"payee"`
	Category               string `json:"category"`
	TransactionType        string `json:"transaction_type"`
	DefaultTransactionType string `json:"default_transaction_type" validate:"omitempty,txtype"`
}

// UpdateMapping replaces the mapping. Completeness is checked when previewing.
func (h *ImportHandler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req mappingRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	mapping := model.ColumnMapping{
		Date:            req.Date,
		Amount:          req.Amount,
		Description:     req.Description,
		Payee:           req.Payee,
		Category:        req.Category,
		TransactionType: req.TransactionType,
	}
	view, err := h.importSvc.UpdateMapping(r.Context(), id, mapping, req.DefaultTransactionType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

type accountRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

// SelectAccount sets the commit target
func (h *ImportHandler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req accountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.importSvc.SelectAccount(id, req.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

// Preview stages the session's rows. ?limit= bounds the rows returned.
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidRequest))
			return
		}
	}

	preview, err := h.importSvc.Preview(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview, h.logger)
}

// Back returns from preview to mapping
func (h *ImportHandler) Back(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.importSvc.Back(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}

// Commit writes the session's valid rows
func (h *ImportHandler) Commit(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.importSvc.CommitSession(r.Context(), id, importservice.CommitOptions{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// Reset returns the session to the upload step
func (h *ImportHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.importSvc.Reset(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view, h.logger)
}
