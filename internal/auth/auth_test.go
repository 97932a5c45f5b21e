package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-usage/internal/models"
)

// MockCredentialCollection is a mock implementation of db.CredentialCollection
type MockCredentialCollection struct {
	mock.Mock
}

func (m *MockCredentialCollection) InsertCredential(ctx context.Context, cred models.Credential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

func (m *MockCredentialCollection) FindCredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func (m *MockCredentialCollection) FindCredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func (m *MockCredentialCollection) DeleteCredential(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newProvider(creds *MockCredentialCollection) *LocalProvider {
	return NewLocalProvider("test-secret", time.Hour, creds)
}

func TestNewLocalProvider_Defaults(t *testing.T) {
	p := NewLocalProvider("", 0, nil)
	assert.NotEmpty(t, p.jwtSecret)
	assert.Equal(t, 24*time.Hour, p.tokenExp)
}

func TestLocalProvider_HashAndCheckPassword(t *testing.T) {
	p := newProvider(nil)

	password := "testpassword123"
	hash, err := p.HashPassword(password)
	assert.NoError(t, err)
	assert.NotEqual(t, password, hash)

	assert.True(t, p.CheckPassword(password, hash))
	assert.False(t, p.CheckPassword("wrongpassword", hash))
}

func TestLocalProvider_ValidateToken(t *testing.T) {
	p := newProvider(nil)

	token, err := p.GenerateToken("user-1")
	require.NoError(t, err)

	subject, err := p.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", subject)

	subject, err = p.ValidateToken("Bearer " + token)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", subject)

	_, err = p.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	other := NewLocalProvider("other-secret", time.Hour, nil)
	_, err = other.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestLocalProvider_ExpiredToken(t *testing.T) {
	p := newProvider(nil)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	token, err := expired.SignedString(p.jwtSecret)
	require.NoError(t, err)

	_, err = p.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestLocalProvider_CreateIdentity(t *testing.T) {
	creds := new(MockCredentialCollection)
	creds.On("InsertCredential", mock.Anything, mock.MatchedBy(func(c models.Credential) bool {
		return c.Email == "ana@example.com" && c.PasswordHash != "" && c.PasswordHash != "password123"
	})).Return(nil).Once()

	p := newProvider(creds)
	id, err := p.CreateIdentity(context.Background(), "  Ana@Example.com ", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	creds.AssertExpectations(t)
}

func TestLocalProvider_CreateIdentity_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newProvider(nil).CreateIdentity(ctx, "not-an-email", "password123")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = newProvider(nil).CreateIdentity(ctx, "ana@example.com", "short")
	assert.ErrorIs(t, err, models.ErrValidation)

	creds := new(MockCredentialCollection)
	creds.On("InsertCredential", mock.Anything, mock.Anything).Return(models.ErrDuplicateEmail).Once()
	_, err = newProvider(creds).CreateIdentity(ctx, "ana@example.com", "password123")
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)

	creds = new(MockCredentialCollection)
	creds.On("InsertCredential", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	_, err = newProvider(creds).CreateIdentity(ctx, "ana@example.com", "password123")
	assert.ErrorIs(t, err, models.ErrIdentityProvider)
	assert.Equal(t, models.KindExternal, models.KindOf(err))
}

func TestLocalProvider_Login(t *testing.T) {
	p := newProvider(nil)
	hash, err := p.HashPassword("password123")
	require.NoError(t, err)

	creds := new(MockCredentialCollection)
	creds.On("FindCredentialByEmail", mock.Anything, "ana@example.com").
		Return(&models.Credential{ID: "user-1", Email: "ana@example.com", PasswordHash: hash}, nil)
	creds.On("FindCredentialByEmail", mock.Anything, "nobody@example.com").
		Return(nil, models.ErrNotFound)
	p.credentials = creds
	ctx := context.Background()

	token, id, err := p.Login(ctx, "ANA@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
	subject, err := p.VerifyToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)

	_, _, err = p.Login(ctx, "ana@example.com", "wrongpassword")
	assert.Equal(t, ErrInvalidCredentials, err)

	_, _, err = p.Login(ctx, "nobody@example.com", "password123")
	assert.Equal(t, ErrInvalidCredentials, err)
}

func TestLocalProvider_DeleteIdentity(t *testing.T) {
	creds := new(MockCredentialCollection)
	creds.On("DeleteCredential", mock.Anything, "user-1").Return(nil).Once()
	creds.On("DeleteCredential", mock.Anything, "user-2").Return(errors.New("locked")).Once()
	p := newProvider(creds)

	assert.NoError(t, p.DeleteIdentity(context.Background(), "user-1"))
	assert.ErrorIs(t, p.DeleteIdentity(context.Background(), "user-2"), models.ErrIdentityProvider)
}

func TestLocalProvider_FindIdentityByEmail(t *testing.T) {
	creds := new(MockCredentialCollection)
	creds.On("FindCredentialByEmail", mock.Anything, "ana@example.com").
		Return(&models.Credential{ID: "user-1", Email: "ana@example.com"}, nil).Once()
	creds.On("FindCredentialByEmail", mock.Anything, "nobody@example.com").Return(nil, models.ErrNotFound).Once()
	creds.On("FindCredentialByEmail", mock.Anything, "down@example.com").Return(nil, errors.New("disk I/O error")).Once()
	p := newProvider(creds)
	ctx := context.Background()

	id, err := p.FindIdentityByEmail(ctx, " Ana@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	id, err = p.FindIdentityByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = p.FindIdentityByEmail(ctx, "down@example.com")
	assert.ErrorIs(t, err, models.ErrIdentityProvider)
}

func TestExtractTokenFromHeader(t *testing.T) {
	extracted, err := ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	for _, header := range []string{"", "InvalidFormat", "Bearer "} {
		_, err = ExtractTokenFromHeader(header)
		assert.Equal(t, ErrInvalidToken, err)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("validpassword123"))

	err := ValidatePassword("short")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("test@example.com"))

	for _, email := range []string{"testexample.com", "test@", "test"} {
		err := ValidateEmail(email)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid email format")
	}
}
