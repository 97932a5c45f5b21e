package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-usage/internal/models"
)

func newGoTrueServer(t *testing.T, handler http.HandlerFunc) *GoTrueProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoTrueProvider(srv.URL+"/", "service-key", time.Second)
}

func TestGoTrue_CreateIdentity(t *testing.T) {
	p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body["email"])
		assert.Equal(t, true, body["email_confirm"])

		json.NewEncoder(w).Encode(map[string]string{"id": "uuid-1", "email": "ana@example.com"})
	})

	id, err := p.CreateIdentity(context.Background(), "Ana@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", id)
}

func TestGoTrue_CreateIdentity_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"email taken", http.StatusUnprocessableEntity, models.ErrDuplicateEmail},
		{"server error", http.StatusInternalServerError, models.ErrIdentityProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"msg":"nope"}`, tt.status)
			})
			_, err := p.CreateIdentity(context.Background(), "ana@example.com", "password123")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	unreachable := NewGoTrueProvider("http://127.0.0.1:1", "key", 100*time.Millisecond)
	_, err := unreachable.CreateIdentity(context.Background(), "ana@example.com", "password123")
	assert.ErrorIs(t, err, models.ErrIdentityProvider)
}

func TestGoTrue_DeleteIdentity(t *testing.T) {
	p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/auth/v1/admin/users/uuid-1":
			w.WriteHeader(http.StatusOK)
		case "/auth/v1/admin/users/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	ctx := context.Background()

	assert.NoError(t, p.DeleteIdentity(ctx, "uuid-1"))
	assert.NoError(t, p.DeleteIdentity(ctx, "gone"))
	assert.ErrorIs(t, p.DeleteIdentity(ctx, "other"), models.ErrIdentityProvider)
}

func TestGoTrue_VerifyToken(t *testing.T) {
	p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "uuid-1"})
	})
	ctx := context.Background()

	id, err := p.VerifyToken(ctx, "Bearer user-token")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", id)

	_, err = p.VerifyToken(ctx, "stolen")
	assert.Equal(t, ErrInvalidToken, err)
}

func TestGoTrue_Login(t *testing.T) {
	p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "password123" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "jwt",
			"user":         map[string]string{"id": "uuid-1"},
		})
	})
	ctx := context.Background()

	token, id, err := p.Login(ctx, "ana@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "jwt", token)
	assert.Equal(t, "uuid-1", id)

	_, _, err = p.Login(ctx, "ana@example.com", "bad")
	assert.Equal(t, ErrInvalidCredentials, err)
}

func TestGoTrue_FindIdentityByEmail(t *testing.T) {
	p := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		users := []map[string]string{}
		switch r.URL.Query().Get("page") {
		case "1":
			for i := 0; i < 100; i++ {
				users = append(users, map[string]string{"id": fmt.Sprintf("uuid-%d", i), "email": fmt.Sprintf("user%d@example.com", i)})
			}
		case "2":
			users = append(users, map[string]string{"id": "uuid-ana", "email": "ana@example.com"})
		}
		json.NewEncoder(w).Encode(map[string]any{"users": users})
	})
	ctx := context.Background()

	id, err := p.FindIdentityByEmail(ctx, "Ana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "uuid-ana", id)

	id, err = p.FindIdentityByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}
