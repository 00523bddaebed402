package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mailflow/internal/model"
	"mailflow/internal/repository"
	"mailflow/internal/service"
)

const (
	maxRecipients   = 1000
	maxDelaySeconds = 3600
	maxHourlyLimit  = 1000
)

type scheduleRequest struct {
	Recipients         []string `json:"recipients"`
	Subject            string   `json:"subject"`
	Body               string   `json:"body"`
	StartTime          string   `json:"startTime"`
	DelayBetweenEmails *int     `json:"delayBetweenEmails"`
	HourlyLimit        *int     `json:"hourlyLimit"`
	SenderID           string   `json:"senderId"`
}

type scheduleResponse struct {
	BatchID         string           `json:"batchId"`
	TotalEmails     int              `json:"totalEmails"`
	ScheduledEmails []*model.Message `json:"scheduledEmails"`
}

type EmailHandler struct {
	scheduler    *service.ScheduleService
	emails       *service.EmailService
	defaultDelay int
}

func NewEmailHandler(scheduler *service.ScheduleService, emails *service.EmailService, defaultDelaySeconds int) *EmailHandler {
	return &EmailHandler{scheduler: scheduler, emails: emails, defaultDelay: defaultDelaySeconds}
}

// Schedule validates and submits a batch.
func (h *EmailHandler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	parsed, errMsg := req.validate(h.defaultDelay)
	if errMsg != "" {
		respondError(c, http.StatusBadRequest, errMsg)
		return
	}

	result, err := h.scheduler.ScheduleBatch(c.Request.Context(), currentUserID(c), *parsed)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSender):
			respondError(c, http.StatusBadRequest, "sender not found or inactive")
		case errors.Is(err, service.ErrNoSender):
			respondError(c, http.StatusBadRequest, "no active sender configured")
		default:
			respondError(c, http.StatusInternalServerError, "failed to schedule batch")
		}
		return
	}

	respondCreated(c, scheduleResponse{
		BatchID:         result.Batch.ID,
		TotalEmails:     result.Batch.TotalEmails,
		ScheduledEmails: result.Messages,
	})
}

func (r *scheduleRequest) validate(defaultDelay int) (*service.ScheduleRequest, string) {
	if len(r.Recipients) == 0 {
		return nil, "recipients must not be empty"
	}
	if len(r.Recipients) > maxRecipients {
		return nil, "too many recipients"
	}
	for _, rcpt := range r.Recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return nil, "invalid recipient address: " + rcpt
		}
	}
	if strings.TrimSpace(r.Subject) == "" {
		return nil, "subject must not be empty"
	}
	if strings.TrimSpace(r.Body) == "" {
		return nil, "body must not be empty"
	}

	delay := defaultDelay
	if r.DelayBetweenEmails != nil {
		delay = *r.DelayBetweenEmails
	}
	if delay < 0 || delay > maxDelaySeconds {
		return nil, "delayBetweenEmails must be between 0 and 3600"
	}

	hourly := 100
	if r.HourlyLimit != nil {
		hourly = *r.HourlyLimit
	}
	if hourly < 1 || hourly > maxHourlyLimit {
		return nil, "hourlyLimit must be between 1 and 1000"
	}

	var start time.Time
	if r.StartTime != "" {
		t, err := time.Parse(time.RFC3339, r.StartTime)
		if err != nil {
			return nil, "startTime must be RFC 3339"
		}
		start = t
	}

	return &service.ScheduleRequest{
		Recipients:   r.Recipients,
		Subject:      r.Subject,
		Body:         r.Body,
		StartTime:    start,
		DelaySeconds: delay,
		HourlyLimit:  hourly,
		SenderID:     r.SenderID,
	}, ""
}

// ListScheduled returns the user's non-terminal messages.
func (h *EmailHandler) ListScheduled(c *gin.Context) {
	h.list(c, []string{model.StatusScheduled, model.StatusProcessing, model.StatusRateLimited})
}

// ListSent returns the user's terminal messages.
func (h *EmailHandler) ListSent(c *gin.Context) {
	h.list(c, []string{model.StatusSent, model.StatusFailed})
}

func (h *EmailHandler) list(c *gin.Context, allowed []string) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	opts := repository.ListOptions{
		Statuses:  allowed,
		Page:      page,
		Limit:     limit,
		SortBy:    c.DefaultQuery("sortBy", "scheduledAt"),
		SortOrder: c.DefaultQuery("sortOrder", "asc"),
	}
	// An explicit status filter narrows the route's own status set.
	if status := strings.ToUpper(strings.TrimSpace(c.Query("status"))); status != "" {
		found := false
		for _, s := range allowed {
			if s == status {
				found = true
				break
			}
		}
		if !found {
			respondError(c, http.StatusBadRequest, "status not valid for this listing: "+status)
			return
		}
		opts.Statuses = []string{status}
	}

	messages, total, err := h.emails.List(c.Request.Context(), currentUserID(c), opts)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list messages")
		return
	}
	respondList(c, messages, newPagination(page, limit, total))
}

func (h *EmailHandler) Get(c *gin.Context) {
	m, err := h.emails.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			respondError(c, http.StatusNotFound, "message not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load message")
		return
	}
	respondOK(c, m)
}

func (h *EmailHandler) Stats(c *gin.Context) {
	stats, err := h.emails.Stats(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondOK(c, stats)
}

func (h *EmailHandler) GetBatch(c *gin.Context) {
	b, err := h.emails.GetBatch(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrBatchNotFound) {
			respondError(c, http.StatusNotFound, "batch not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load batch")
		return
	}
	respondOK(c, b)
}

// Cancel deletes a pending message.
func (h *EmailHandler) Cancel(c *gin.Context) {
	err := h.emails.Cancel(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMessageNotFound):
			respondError(c, http.StatusNotFound, "message not found")
		case errors.Is(err, service.ErrNotCancellable):
			respondError(c, http.StatusConflict, "message can no longer be cancelled")
		default:
			respondError(c, http.StatusInternalServerError, "failed to cancel message")
		}
		return
	}
	respondMessage(c, "message cancelled")
}
