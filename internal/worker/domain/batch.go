package domain

// Batch represents a queued document batch claimed for processing
type Batch struct {
	BatchID        string
	Paths          []string
	Options        string // JSON string, empty for the worker defaults
	Status         string
	WorkerID       string
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
}

// BatchMessage represents a batch message from RabbitMQ
type BatchMessage struct {
	BatchID     string `json:"batch_id"`
	DeliveryTag uint64 `json:"-"`
}

// Summary holds the per-batch counters written when a batch finishes
type Summary struct {
	Documents int
	Saved     int
	Failed    int
	Missing   int
}
