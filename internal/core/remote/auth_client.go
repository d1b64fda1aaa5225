// Package remote holds the HTTP clients for the commerce backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// Auth endpoint paths, relative to the API base URL.
const (
	CustomerLoginPath = "/auth/login"
	AdminLoginPath    = "/admin/auth/login"
	SellerLoginPath   = "/seller/auth/login"
	RegisterPath      = "/auth/register"
	RefreshPath       = "/auth/refresh"
)

// HTTPError is a non-2xx answer from an auth endpoint.
type HTTPError struct {
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Path, e.Status)
}

// StatusCode returns the HTTP status the backend answered with.
func (e *HTTPError) StatusCode() int { return e.Status }

// AuthClient calls the unauthenticated auth endpoints. It does not go through
// the Request Pipeline: login and refresh never carry a bearer token, and
// refresh relies on the session cookie held by the client's jar.
type AuthClient struct {
	baseURL string
	client  *http.Client
}

// NewAuthClient creates an AuthClient. client must share its cookie jar with
// the pipeline's client so the refresh cookie set at login is sent back.
func NewAuthClient(baseURL string, client *http.Client) *AuthClient {
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// LoginPath returns the login endpoint of role.
func LoginPath(role domain.Role) string {
	switch role {
	case domain.RoleAdmin:
		return AdminLoginPath
	case domain.RoleSeller:
		return SellerLoginPath
	default:
		return CustomerLoginPath
	}
}

func (c *AuthClient) Login(ctx context.Context, role domain.Role, creds domain.Credentials) (*domain.AuthResult, error) {
	return c.post(ctx, LoginPath(role), creds)
}

func (c *AuthClient) Register(ctx context.Context, reg domain.Registration) (*domain.AuthResult, error) {
	return c.post(ctx, RegisterPath, reg)
}

// Refresh exchanges the session cookie for a fresh customer token.
func (c *AuthClient) Refresh(ctx context.Context) (*domain.AuthResult, error) {
	return c.post(ctx, RefreshPath, nil)
}

func (c *AuthClient) post(ctx context.Context, path string, payload any) (*domain.AuthResult, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{Path: path, Status: resp.StatusCode, Message: message(data)}
	}

	var res domain.AuthResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &res, nil
}

// message extracts {"error"} or {"message"} from an error body.
func message(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
