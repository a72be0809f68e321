package domain

// Batch status constants
const (
	BatchStatusPending   = "PENDING"
	BatchStatusRunning   = "RUNNING"
	BatchStatusCompleted = "COMPLETED"
	BatchStatusFailed    = "FAILED"
	BatchStatusCanceled  = "CANCELED"
)
