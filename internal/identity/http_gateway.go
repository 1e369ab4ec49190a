package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"clinicore/internal/common"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds the connection settings for the provider's admin API.
type Config struct {
	BaseURL    string
	ServiceKey string
	JWKSURL    string
	Timeout    time.Duration
}

// httpGateway talks to a GoTrue-style identity provider over its admin API.
// Access tokens are verified locally against the provider's JWKS.
type httpGateway struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	jwks       *keyfunc.JWKS
}

func NewHTTPGateway(cfg Config) (Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity provider base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = cfg.BaseURL + "/.well-known/jwks.json"
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load identity provider JWKS: %w", err)
	}

	return &httpGateway{
		baseURL:    cfg.BaseURL,
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
		jwks:       jwks,
	}, nil
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type providerError struct {
	Message string `json:"msg"`
	Error   string `json:"error"`
}

func (g *httpGateway) CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (uuid.UUID, error) {
	payload := map[string]interface{}{
		"email":         email,
		"password":      password,
		"email_confirm": false,
		"user_metadata": metadata,
	}
	var created providerUser
	if err := g.do(ctx, http.MethodPost, "/admin/users", payload, &created); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(created.ID)
	if err != nil {
		return uuid.Nil, common.NewUpstreamError("identity provider returned an invalid user id", err)
	}
	return id, nil
}

func (g *httpGateway) SendInviteEmail(ctx context.Context, email, redirectURL string) error {
	payload := map[string]interface{}{
		"email":       email,
		"redirect_to": redirectURL,
	}
	return g.do(ctx, http.MethodPost, "/invite", payload, nil)
}

func (g *httpGateway) InviteByEmail(ctx context.Context, email, redirectURL string, metadata map[string]interface{}) (uuid.UUID, error) {
	payload := map[string]interface{}{
		"email":       email,
		"redirect_to": redirectURL,
		"data":        metadata,
	}
	var invited providerUser
	if err := g.do(ctx, http.MethodPost, "/invite", payload, &invited); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(invited.ID)
	if err != nil {
		return uuid.Nil, common.NewUpstreamError("identity provider returned an invalid user id", err)
	}
	return id, nil
}

func (g *httpGateway) DeleteAccount(ctx context.Context, providerUserID uuid.UUID) error {
	return g.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(providerUserID.String()), nil, nil)
}

func (g *httpGateway) ValidateSession(ctx context.Context, token string) (*Session, error) {
	parsed, err := jwt.Parse(token, g.jwks.Keyfunc)
	if err != nil || !parsed.Valid {
		return nil, common.NewUpstreamError("session token is not valid", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, common.NewUpstreamError("session token has unexpected claims", nil)
	}

	sub, _ := claims["sub"].(string)
	subjectID, err := uuid.Parse(sub)
	if err != nil {
		return nil, common.NewUpstreamError("session token carries an invalid subject", err)
	}

	email, _ := claims["email"].(string)
	metadata, _ := claims["user_metadata"].(map[string]interface{})

	return &Session{
		SubjectID: subjectID,
		Email:     email,
		Metadata:  metadata,
	}, nil
}

func (g *httpGateway) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return common.NewInternalError("failed to encode provider request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return common.NewInternalError("failed to build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.serviceKey)
	req.Header.Set("apikey", g.serviceKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return common.NewUpstreamError("identity provider is unreachable", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var provErr providerError
		_ = json.Unmarshal(respBody, &provErr)
		message := provErr.Message
		if message == "" {
			message = provErr.Error
		}
		// Provider validation messages (e.g. invalid invite target) are safe
		// to forward; anything else gets a generic message.
		if message != "" && resp.StatusCode < 500 {
			return common.NewUpstreamError(message, fmt.Errorf("provider status %d", resp.StatusCode))
		}
		return common.NewUpstreamError("identity provider request failed", fmt.Errorf("provider status %d: %s", resp.StatusCode, respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return common.NewUpstreamError("identity provider returned an unexpected response", err)
		}
	}
	return nil
}
