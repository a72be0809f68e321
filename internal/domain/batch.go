package domain

import "time"

// Save modes
const (
	ModeOverwrite = "Overwrite"
	ModeNewFile   = "NewFile"
)

// Outcome statuses
const (
	StatusOk    = "Ok"
	StatusError = "Error"
)

// BatchItem is one document in the queue and its outcome
type BatchItem struct {
	Source     string    `json:"source" db:"source_path"`
	Target     string    `json:"target" db:"target_path"`
	Mode       string    `json:"mode" db:"mode"`
	BackupPath string    `json:"backup_path,omitempty" db:"backup_path"`
	Status     string    `json:"status" db:"status"`
	Message    string    `json:"message" db:"message"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// Ok reports whether the document was processed and saved
func (b BatchItem) Ok() bool {
	return b.Status == StatusOk
}
