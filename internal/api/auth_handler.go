package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailflow/internal/service"
)

const stateCookie = "oauth_state"

type AuthHandler struct {
	auth           *service.AuthService
	frontendOrigin string
	jwtExpirySecs  int
}

func NewAuthHandler(auth *service.AuthService, frontendOrigin string, jwtExpirySecs int) *AuthHandler {
	return &AuthHandler{auth: auth, frontendOrigin: frontendOrigin, jwtExpirySecs: jwtExpirySecs}
}

// Login redirects to the Google consent page with a fresh CSRF state.
func (h *AuthHandler) Login(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to start login")
		return
	}
	state := hex.EncodeToString(buf)

	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.auth.AuthURL(state))
}

// Callback finishes the OAuth flow and sets the session cookie.
func (h *AuthHandler) Callback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || c.Query("state") != state {
		respondError(c, http.StatusBadRequest, "state mismatch")
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		respondError(c, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, _, err := h.auth.HandleCallback(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrAuthFailed) {
			respondError(c, http.StatusUnauthorized, "authentication failed")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to complete login")
		return
	}

	c.SetCookie(authCookie, token, h.jwtExpirySecs, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.frontendOrigin)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.auth.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load user")
		return
	}
	respondOK(c, user)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetCookie(authCookie, "", -1, "/", "", false, true)
	respondMessage(c, "logged out")
}
