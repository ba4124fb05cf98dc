package httpapi

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func testRouter(secret string, expiry time.Duration) *Router {
	return &Router{
		cfg: RouterConfig{
			JWTSecret: secret,
			JWTExpiry: expiry,
		},
		logger:   log.New(io.Discard, "", 0),
		sessions: NewSessionRegistry(),
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	r := testRouter("test-secret", time.Hour)

	token, expiresAt, err := r.mintSessionToken()
	if err != nil {
		t.Fatalf("mintSessionToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("mintSessionToken() returned empty token")
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiresAt = %v from now, want about 1h", until)
	}

	if err := r.verifySessionToken(token); err != nil {
		t.Errorf("verifySessionToken() error = %v, want nil", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	r := testRouter("test-secret", time.Hour)
	token, _, err := r.mintSessionToken()
	if err != nil {
		t.Fatalf("mintSessionToken() error = %v", err)
	}

	other := testRouter("different-secret", time.Hour)
	if err := other.verifySessionToken(token); err == nil {
		t.Error("verifySessionToken() = nil, want error for wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	r := testRouter("test-secret", -time.Minute)
	token, _, err := r.mintSessionToken()
	if err != nil {
		t.Fatalf("mintSessionToken() error = %v", err)
	}

	if err := r.verifySessionToken(token); err == nil {
		t.Error("verifySessionToken() = nil, want error for expired token")
	}
}

func TestVerifyRejectsWrongSubject(t *testing.T) {
	r := testRouter("test-secret", time.Hour)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "some-other-subject",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if err := r.verifySessionToken(token); err == nil {
		t.Error("verifySessionToken() = nil, want error for wrong subject")
	}
}

func TestVerifyRejectsTokenWithoutExpiry(t *testing.T) {
	r := testRouter("test-secret", time.Hour)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  sessionSubject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if err := r.verifySessionToken(token); err == nil {
		t.Error("verifySessionToken() = nil, want error for missing expiry")
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	r := testRouter("test-secret", time.Hour)

	claims := jwt.RegisteredClaims{
		Subject:   sessionSubject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if err := r.verifySessionToken(token); err == nil {
		t.Error("verifySessionToken() = nil, want error for alg=none token")
	}
}
