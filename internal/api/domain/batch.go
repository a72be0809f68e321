package domain

import (
	"errors"
)

const (
	BatchStatusPending   = "PENDING"
	BatchStatusRunning   = "RUNNING"
	BatchStatusCompleted = "COMPLETED"
	BatchStatusFailed    = "FAILED"
	BatchStatusCanceled  = "CANCELED"
)

var (
	ErrBatchNotFound      = errors.New("batch not found")
	ErrBatchNotCancelable = errors.New("only PENDING batches can be canceled")
	ErrBatchNotDeletable  = errors.New("only finished batches can be deleted")
)

// IsTerminal reports whether a batch in status will not change again
func IsTerminal(status string) bool {
	switch status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCanceled:
		return true
	}
	return false
}
