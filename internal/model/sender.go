package model

import "time"

// Sender is a user-owned outbound identity. SMTP fields are optional
// overrides of the process-wide transport defaults.
type Sender struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	SMTPHost     *string   `json:"smtpHost,omitempty"`
	SMTPPort     *int      `json:"smtpPort,omitempty"`
	SMTPUser     *string   `json:"smtpUser,omitempty"`
	SMTPPassword *string   `json:"-"`
	IsDefault    bool      `json:"isDefault"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
