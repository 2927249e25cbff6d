package model

import (
	"time"

	"github.com/google/uuid"
)

// RowStatus is the terminal state of a submitted candidate
type RowStatus string

const (
	StatusCreated          RowStatus = "created"
	StatusSkippedDuplicate RowStatus = "skipped_duplicate"
	StatusFailed           RowStatus = "failed"
)

// Reasons recorded on row outcomes
const (
	ReasonDuplicate          = "duplicate of an existing transaction"
	ReasonCancelled          = "cancelled"
	ReasonPayeeUnresolved    = "payee could not be resolved"
	ReasonCategoryUnresolved = "category could not be resolved"
	ReasonInsertFailed       = "insert failed"
	ReasonLookupFailed       = "duplicate check failed"
	ReasonAmountPrecision    = "amount does not fit the account currency"
)

// RowOutcome records what happened to one submitted row
type RowOutcome struct {
	Index         int       `json:"index" csv:"index"`
	Line          int       `json:"line" csv:"line"`
	Status        RowStatus `json:"status" csv:"status"`
	Reason        string    `json:"reason,omitempty" csv:"reason"`
	Detail        string    `json:"detail,omitempty" csv:"detail"`
	Description   string    `json:"description" csv:"description"`
	TransactionID int64     `json:"transaction_id,omitempty" csv:"-"`
}

// ImportResult is the immutable report of one batch commit
type ImportResult struct {
	BatchID    uuid.UUID    `json:"batch_id"`
	AccountID  int64        `json:"account_id"`
	Submitted  int          `json:"submitted"`
	Created    int          `json:"created"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Excluded   int          `json:"excluded"` // invalid rows never submitted
	Cancelled  bool         `json:"cancelled"`
	Currency   string       `json:"currency"`
	NetMinor   int64        `json:"net_minor"` // balance change from created rows
	Outcomes   []RowOutcome `json:"outcomes"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Balanced reports whether every submitted row is accounted for
func (r *ImportResult) Balanced() bool {
	return r.Created+r.Skipped+r.Failed == r.Submitted
}

// Problems returns the skipped and failed outcomes
func (r *ImportResult) Problems() []RowOutcome {
	out := make([]RowOutcome, 0, r.Skipped+r.Failed)
	for _, o := range r.Outcomes {
		if o.Status != StatusCreated {
			out = append(out, o)
		}
	}
	return out
}
