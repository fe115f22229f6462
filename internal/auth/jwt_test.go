package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func TestJWTVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}, jwt.SigningMethodHS256)

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "alice" {
		t.Fatalf("UserID = %q, want alice", id.UserID)
	}
}

func TestJWTVerifyRejections(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{
			"wrong secret",
			mintToken(t, "other-secret", jwt.MapClaims{"sub": "alice", "exp": future}, jwt.SigningMethodHS256),
		},
		{
			"expired beyond leeway",
			mintToken(t, testSecret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256),
		},
		{
			"no expiry",
			mintToken(t, testSecret, jwt.MapClaims{"sub": "alice"}, jwt.SigningMethodHS256),
		},
		{
			"no sub",
			mintToken(t, testSecret, jwt.MapClaims{"exp": future}, jwt.SigningMethodHS256),
		},
		{
			"hs512 disallowed",
			mintToken(t, testSecret, jwt.MapClaims{"sub": "alice", "exp": future}, jwt.SigningMethodHS512),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			if err == nil {
				t.Fatal("expected verification failure")
			}
			if tc.token != "" && !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestJWTVerifyLeewayTolerance(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	// Expired ten seconds ago, inside the 30s leeway.
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	}, jwt.SigningMethodHS256)

	if _, err := v.Verify(token); err != nil {
		t.Fatalf("Verify inside leeway: %v", err)
	}
}

func TestJWTAlgNoneRejected(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := v.Verify(token); err == nil {
		t.Fatal("alg=none token must be rejected")
	}
}
