package model

import "time"

// Message status values. SENT and FAILED are terminal.
const (
	StatusScheduled   = "SCHEDULED"
	StatusProcessing  = "PROCESSING"
	StatusSent        = "SENT"
	StatusFailed      = "FAILED"
	StatusRateLimited = "RATE_LIMITED"
)

type Message struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	SenderID          *string    `json:"senderId,omitempty"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	ScheduledAt       time.Time  `json:"scheduledAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	RetryCount        int        `json:"retryCount"`
	MaxRetries        int        `json:"maxRetries"`
	JobID             *string    `json:"jobId,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	PreviewURL        *string    `json:"previewUrl,omitempty"`
	BatchID           string     `json:"batchId"`
	BatchIndex        int        `json:"batchIndex"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether no further worker activity may touch the message.
func IsTerminal(status string) bool {
	return status == StatusSent || status == StatusFailed
}
