package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"

	"mailflow/config"
	"mailflow/internal/model"
	"mailflow/internal/util"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

type userStore interface {
	Upsert(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// tokenValidator verifies a Google ID token; swapped out in tests.
type tokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// AuthService runs the Google OAuth code flow and issues session JWTs.
type AuthService struct {
	users     userStore
	oauth     config.OAuthConfig
	jwtSecret string
	jwtExpiry time.Duration
	validate  tokenValidator
	client    *http.Client
	logger    *zap.Logger
}

func NewAuthService(users userStore, oauth config.OAuthConfig, jwtCfg config.JWTConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		oauth:     oauth,
		jwtSecret: jwtCfg.Secret,
		jwtExpiry: time.Duration(jwtCfg.ExpiryHours) * time.Hour,
		validate:  idtoken.Validate,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// AuthURL builds the Google consent page redirect.
func (s *AuthService) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", s.oauth.ClientID)
	q.Set("redirect_uri", s.oauth.CallbackURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	return googleAuthURL + "?" + q.Encode()
}

// HandleCallback exchanges the authorization code, verifies the returned ID
// token, upserts the user, and issues a session JWT.
func (s *AuthService) HandleCallback(ctx context.Context, code string) (string, *model.User, error) {
	rawIDToken, err := s.exchangeCode(ctx, code)
	if err != nil {
		s.logger.Warn("OAuth code exchange failed", zap.Error(err))
		return "", nil, ErrAuthFailed
	}

	payload, err := s.validate(ctx, rawIDToken, s.oauth.ClientID)
	if err != nil {
		s.logger.Warn("ID token validation failed", zap.Error(err))
		return "", nil, ErrAuthFailed
	}

	user := &model.User{
		ID:       uuid.NewString(),
		GoogleID: payload.Subject,
		Email:    claimString(payload, "email"),
		Name:     claimString(payload, "name"),
	}
	if pic := claimString(payload, "picture"); pic != "" {
		user.AvatarURL = &pic
	}
	if user.Email == "" {
		return "", nil, ErrAuthFailed
	}

	if err := s.users.Upsert(ctx, user); err != nil {
		return "", nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	token, err := util.GenerateJWT(user.ID, user.Email, s.jwtSecret, s.jwtExpiry)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.logger.Info("User authenticated", zap.String("user_id", user.ID))
	return token, user, nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.FindByID(ctx, id)
}

// exchangeCode trades the authorization code for tokens and returns the raw
// ID token.
func (s *AuthService) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", s.oauth.ClientID)
	form.Set("client_secret", s.oauth.ClientSecret)
	form.Set("redirect_uri", s.oauth.CallbackURL)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.IDToken == "" {
		return "", fmt.Errorf("token response carried no id_token")
	}
	return body.IDToken, nil
}

func claimString(p *idtoken.Payload, key string) string {
	if v, ok := p.Claims[key].(string); ok {
		return v
	}
	return ""
}
