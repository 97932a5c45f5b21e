package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ukydev/fleet-usage/internal/models"
)

// GoTrueProvider talks to a GoTrue-compatible auth server (the Supabase auth API) with a
// service-role key.
type GoTrueProvider struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

var _ IdentityProvider = (*GoTrueProvider)(nil)

// NewGoTrueProvider creates a provider for the auth server at baseURL.
func NewGoTrueProvider(baseURL, serviceKey string, timeout time.Duration) *GoTrueProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoTrueProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
	}
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueUserPage struct {
	Users []gotrueUser `json:"users"`
}

// gotruePageSize and gotrueMaxPages bound the admin user scan of FindIdentityByEmail.
const (
	gotruePageSize = 100
	gotrueMaxPages = 50
)

type gotrueToken struct {
	AccessToken string     `json:"access_token"`
	User        gotrueUser `json:"user"`
}

// CreateIdentity implements IdentityProvider.
func (p *GoTrueProvider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	body := map[string]any{
		"email":         NormalizeEmail(email),
		"password":      password,
		"email_confirm": true,
	}
	var user gotrueUser
	status, err := p.do(ctx, http.MethodPost, "/auth/v1/admin/users", p.serviceKey, body, &user)
	if err != nil {
		if status == http.StatusUnprocessableEntity || status == http.StatusConflict {
			return "", fmt.Errorf("%w: %v", models.ErrDuplicateEmail, err)
		}
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("%w: create user returned no id", models.ErrIdentityProvider)
	}
	return user.ID, nil
}

// DeleteIdentity implements IdentityProvider.
func (p *GoTrueProvider) DeleteIdentity(ctx context.Context, id string) error {
	status, err := p.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), p.serviceKey, nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// FindIdentityByEmail implements IdentityProvider by paging through the admin user list.
func (p *GoTrueProvider) FindIdentityByEmail(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	for page := 1; page <= gotrueMaxPages; page++ {
		var users gotrueUserPage
		path := fmt.Sprintf("/auth/v1/admin/users?page=%d&per_page=%d", page, gotruePageSize)
		if _, err := p.do(ctx, http.MethodGet, path, p.serviceKey, nil, &users); err != nil {
			return "", err
		}
		for _, u := range users.Users {
			if NormalizeEmail(u.Email) == email {
				return u.ID, nil
			}
		}
		if len(users.Users) < gotruePageSize {
			return "", nil
		}
	}
	return "", fmt.Errorf("%w: user list exceeds %d pages", models.ErrIdentityProvider, gotrueMaxPages)
}

// VerifyToken implements IdentityProvider.
func (p *GoTrueProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	var user gotrueUser
	status, err := p.do(ctx, http.MethodGet, "/auth/v1/user", token, nil, &user)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", ErrInvalidToken
	}
	return user.ID, nil
}

// Login implements IdentityProvider.
func (p *GoTrueProvider) Login(ctx context.Context, email, password string) (string, string, error) {
	body := map[string]string{"email": NormalizeEmail(email), "password": password}
	var tok gotrueToken
	status, err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &tok)
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", err
	}
	return tok.AccessToken, tok.User.ID, nil
}

// do sends a JSON request. bearer defaults to the service key when empty. The returned
// status is 0 when no response was received.
func (p *GoTrueProvider) do(ctx context.Context, method, path, bearer string, in, out any) (int, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
	}
	if bearer == "" {
		bearer = p.serviceKey
	}
	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("%w: %s %s returned %d: %s",
			models.ErrIdentityProvider, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", models.ErrIdentityProvider, err)
		}
	}
	return resp.StatusCode, nil
}
