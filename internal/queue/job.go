package queue

import (
	"fmt"
	"time"
)

// SendJob is the queue payload for one attempt to send one message.
type SendJob struct {
	MessageID string  `json:"messageId"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	SenderID  *string `json:"senderId,omitempty"`
	UserID    string  `json:"userId"`
	BatchID   string  `json:"batchId"`
	// Attempt starts at 1 and increases on rate-limit reschedules.
	Attempt int `json:"attempt"`
}

// JobID is deterministic so an identical re-enqueue of the same
// (message, attempt) pair is rejected as a duplicate.
func JobID(messageID string, attempt int) string {
	return fmt.Sprintf("email-%s-attempt-%d", messageID, attempt)
}

// Backoff configures exponential queue-level retry delays.
type Backoff struct {
	InitialDelay time.Duration `json:"initialDelay"`
}

// Delay returns the backoff before retry number n (1-based):
// initial, 2*initial, 4*initial, ...
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.InitialDelay
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Options controls a single enqueue.
type Options struct {
	Delay    time.Duration
	Priority int
	Attempts int
	Backoff  Backoff
}

// Envelope is what the queue stores and what travels over the broker:
// the job plus the queue's own book-keeping.
type Envelope struct {
	ID          string    `json:"id"`
	Job         SendJob   `json:"job"`
	DueAt       time.Time `json:"dueAt"`
	Priority    int       `json:"priority"`
	Attempts    int       `json:"attempts"`
	RetriesDone int       `json:"retriesDone"`
	Backoff     Backoff   `json:"backoff"`
}

// score orders the delayed set: due time first, priority (smaller wins)
// breaking ties. Milliseconds*1000 + priority stays exact in a float64
// well past 2200-01-01.
func score(dueAt time.Time, priority int) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > 999 {
		priority = 999
	}
	return float64(dueAt.UnixMilli()*1000 + int64(priority))
}
