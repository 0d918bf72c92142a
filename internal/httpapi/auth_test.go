package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/store"
)

type userStoreStub struct {
	users map[string]domain.User
	err   error
}

func (s userStoreStub) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func newStubAuth(t *testing.T) *AuthManager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("kasir123"), bcrypt.MinCost)
	require.NoError(t, err)
	users := userStoreStub{users: map[string]domain.User{
		"kasir@kasir.local":  {ID: 42, Name: "Kasir", Email: "kasir@kasir.local", Password: string(hash)},
		"legacy@kasir.local": {ID: 43, Name: "Legacy", Email: "legacy@kasir.local", Password: "kasir123"},
	}}
	return NewAuthManager("unit-test-secret-unit-test-secret", time.Hour, users)
}

func TestAuthManagerLoginIssuesParsableToken(t *testing.T) {
	auth := newStubAuth(t)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Email: "  KASIR@kasir.local ", Password: "kasir123"})
	require.NoError(t, err)
	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	require.NoError(t, err)
	until := time.Until(expiresAt)
	assert.True(t, until >= 59*time.Minute && until <= time.Hour, "token expires in %s", until)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), actor.UserID)
	assert.Equal(t, "kasir@kasir.local", actor.Email)
}

func TestAuthManagerRejectsUnknownEmailAndWrongPassword(t *testing.T) {
	auth := newStubAuth(t)

	_, err := auth.Login(context.Background(), domain.LoginRequest{Email: "nobody@kasir.local", Password: "kasir123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(context.Background(), domain.LoginRequest{Email: "kasir@kasir.local", Password: "kasir124"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthManagerRejectsPlainTextStoredPassword(t *testing.T) {
	auth := newStubAuth(t)

	_, err := auth.Login(context.Background(), domain.LoginRequest{Email: "legacy@kasir.local", Password: "kasir123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthManagerPassesStoreFailureThrough(t *testing.T) {
	down := errors.New("connection reset by peer")
	auth := NewAuthManager("unit-test-secret-unit-test-secret", time.Hour, userStoreStub{err: store.Fail("find user", down)})

	_, err := auth.Login(context.Background(), domain.LoginRequest{Email: "kasir@kasir.local", Password: "kasir123"})
	require.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	status, _ := classify(err)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestParseTokenRejectsForgedOrExpiredTokens(t *testing.T) {
	auth := newStubAuth(t)
	other := NewAuthManager("another-secret-another-secret-xx", time.Hour, userStoreStub{})

	forged, err := other.sign(domain.Actor{UserID: 42, Email: "kasir@kasir.local"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	expired, err := auth.sign(domain.Actor{UserID: 42, Email: "kasir@kasir.local"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{
		Subject:   "42",
		Issuer:    "kasir-backoffice",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	badSubject, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, backofficeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "kasir",
			Issuer:    "kasir-backoffice",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(auth.secret)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"forged":      forged,
		"expired":     expired,
		"alg none":    unsigned,
		"bad subject": badSubject,
		"garbage":     strings.Repeat("x", 40),
	} {
		_, err := auth.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
