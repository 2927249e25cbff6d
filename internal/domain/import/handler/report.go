package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

var errNoResult = fmt.Errorf("%w: session has no import result yet", model.ErrIllegalTransition)

// Report downloads the skipped and failed rows of a finished import as CSV
func (h *ImportHandler) Report(w http.ResponseWriter, r *http.Request) {
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
	if view.Result == nil {
		h.fail(w, r, errNoResult)
		return
	}

	problems := view.Result.Problems()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "import-"+view.Result.BatchID.String()+".csv"))
	if err := gocsv.Marshal(&problems, w); err != nil {
		h.logger.Error("failed to write import report", slog.Any("error", err))
	}
}

// OriginalFile downloads the archived copy of the session's uploaded file
func (h *ImportHandler) OriginalFile(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rc, info, err := h.importSvc.OriginalFile(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream archived upload",
			slog.String("session_id", id.String()),
			slog.Any("error", err),
		)
	}
}
