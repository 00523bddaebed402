package api

import (
	"errors"
	"net/http"
	"net/mail"

	"github.com/gin-gonic/gin"

	"mailflow/internal/service"
)

type senderRequest struct {
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	SMTPHost     *string `json:"smtpHost"`
	SMTPPort     *int    `json:"smtpPort"`
	SMTPUser     *string `json:"smtpUser"`
	SMTPPassword *string `json:"smtpPassword"`
	IsDefault    bool    `json:"isDefault"`
	IsActive     *bool   `json:"isActive"`
}

func (r *senderRequest) toInput() (service.SenderInput, string) {
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return service.SenderInput{}, "invalid sender email"
	}
	if r.SMTPPort != nil && (*r.SMTPPort < 1 || *r.SMTPPort > 65535) {
		return service.SenderInput{}, "smtpPort out of range"
	}

	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return service.SenderInput{
		Email:        r.Email,
		Name:         r.Name,
		SMTPHost:     r.SMTPHost,
		SMTPPort:     r.SMTPPort,
		SMTPUser:     r.SMTPUser,
		SMTPPassword: r.SMTPPassword,
		IsDefault:    r.IsDefault,
		IsActive:     active,
	}, ""
}

type SenderHandler struct {
	senders *service.SenderService
}

func NewSenderHandler(senders *service.SenderService) *SenderHandler {
	return &SenderHandler{senders: senders}
}

func (h *SenderHandler) Create(c *gin.Context) {
	var req senderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	in, errMsg := req.toInput()
	if errMsg != "" {
		respondError(c, http.StatusBadRequest, errMsg)
		return
	}

	sender, err := h.senders.Create(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create sender")
		return
	}
	respondCreated(c, sender)
}

func (h *SenderHandler) Update(c *gin.Context) {
	var req senderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	in, errMsg := req.toInput()
	if errMsg != "" {
		respondError(c, http.StatusBadRequest, errMsg)
		return
	}

	sender, err := h.senders.Update(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		if errors.Is(err, service.ErrSenderNotFound) {
			respondError(c, http.StatusNotFound, "sender not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to update sender")
		return
	}
	respondOK(c, sender)
}

func (h *SenderHandler) List(c *gin.Context) {
	senders, err := h.senders.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list senders")
		return
	}
	respondOK(c, senders)
}

func (h *SenderHandler) Get(c *gin.Context) {
	sender, err := h.senders.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSenderNotFound) {
			respondError(c, http.StatusNotFound, "sender not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load sender")
		return
	}
	respondOK(c, sender)
}

func (h *SenderHandler) Delete(c *gin.Context) {
	err := h.senders.Delete(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSenderNotFound):
			respondError(c, http.StatusNotFound, "sender not found")
		case errors.Is(err, service.ErrLastSender):
			respondError(c, http.StatusConflict, "cannot delete the only sender")
		default:
			respondError(c, http.StatusInternalServerError, "failed to delete sender")
		}
		return
	}
	respondMessage(c, "sender deleted")
}
