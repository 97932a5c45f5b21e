package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IdentityProvider manages the external identities accounts log in with.
type IdentityProvider interface {
	// CreateIdentity registers a login and returns its id.
	CreateIdentity(ctx context.Context, email, password string) (string, error)
	// DeleteIdentity removes a login. Deleting an identity that no longer exists succeeds.
	DeleteIdentity(ctx context.Context, id string) error
	// VerifyToken returns the identity id a bearer token was issued to.
	VerifyToken(ctx context.Context, token string) (string, error)
	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, email, password string) (token string, id string, err error)
	// FindIdentityByEmail returns the id of the login registered for email, or "" when
	// there is none.
	FindIdentityByEmail(ctx context.Context, email string) (string, error)
}

// LocalProvider is the built-in identity provider: bcrypt credentials in the store and
// HS256 tokens.
type LocalProvider struct {
	jwtSecret   []byte
	tokenExp    time.Duration
	credentials db.CredentialCollection
}

var _ IdentityProvider = (*LocalProvider)(nil)

// NewLocalProvider creates a local identity provider.
func NewLocalProvider(secret string, tokenExp time.Duration, credentials db.CredentialCollection) *LocalProvider {
	if secret == "" {
		secret = "default-secret-key-change-in-production"
	}
	if tokenExp <= 0 {
		tokenExp = 24 * time.Hour // default 24 hours
	}
	return &LocalProvider{
		jwtSecret:   []byte(secret),
		tokenExp:    tokenExp,
		credentials: credentials,
	}
}

// HashPassword bcrypts a credential password.
func (p *LocalProvider) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword reports whether password matches the stored hash.
func (p *LocalProvider) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken issues a token for an identity id.
func (p *LocalProvider) GenerateToken(subject string) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(p.tokenExp).Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.jwtSecret)
}

// ValidateToken validates a token and returns its subject.
func (p *LocalProvider) ValidateToken(tokenString string) (string, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// VerifyToken implements IdentityProvider.
func (p *LocalProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	return p.ValidateToken(token)
}

// CreateIdentity implements IdentityProvider.
func (p *LocalProvider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", models.NewValidationError("email", err.Error())
	}
	if err := ValidatePassword(password); err != nil {
		return "", models.NewValidationError("password", err.Error())
	}
	hash, err := p.HashPassword(password)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = p.credentials.InsertCredential(ctx, models.Credential{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, models.ErrDuplicateEmail) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
	}
	return id, nil
}

// DeleteIdentity implements IdentityProvider.
func (p *LocalProvider) DeleteIdentity(ctx context.Context, id string) error {
	if err := p.credentials.DeleteCredential(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
	}
	return nil
}

// FindIdentityByEmail implements IdentityProvider.
func (p *LocalProvider) FindIdentityByEmail(ctx context.Context, email string) (string, error) {
	cred, err := p.credentials.FindCredentialByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
	}
	return cred.ID, nil
}

// Login implements IdentityProvider.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (string, string, error) {
	cred, err := p.credentials.FindCredentialByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", "", ErrInvalidCredentials
	}
	if !p.CheckPassword(password, cred.PasswordHash) {
		return "", "", ErrInvalidCredentials
	}
	token, err := p.GenerateToken(cred.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, cred.ID, nil
}

// ExtractTokenFromHeader returns the bearer credential of an Authorization header.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	return nil
}

// ValidateEmail validates email format
func ValidateEmail(email string) error {
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return errors.New("invalid email format")
	}
	return nil
}
