package model

import "time"

type Batch struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	TotalEmails     int       `json:"totalEmails"`
	ScheduledEmails int       `json:"scheduledEmails"`
	SentEmails      int       `json:"sentEmails"`
	FailedEmails    int       `json:"failedEmails"`
	StartTime       time.Time `json:"startTime"`
	DelaySeconds    int       `json:"delaySeconds"`
	HourlyLimit     int       `json:"hourlyLimit"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
