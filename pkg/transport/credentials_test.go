package transport

import (
	"net/http"
	"testing"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
)

func TestAPIKeyCredentials(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.tiation.com/v1/ping", nil)

	if err := (APIKeyCredentials{Key: "tk_live_x"}).Apply(req); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tk_live_x" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestAPIKeyCredentialsEmpty(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.tiation.com/v1/ping", nil)

	err := (APIKeyCredentials{}).Apply(req)
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeAuthMissing) {
		t.Errorf("error code = %v, want AUTH_MISSING", sdkerrors.GetCode(err))
	}
}

func TestServiceTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	creds := NewServiceTokenCredentials("billing-worker", secret, time.Hour)

	req, _ := http.NewRequest(http.MethodGet, "https://api.tiation.com/v1/ping", nil)
	if err := creds.Apply(req); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) {
		t.Fatalf("Authorization = %q", auth)
	}

	service, err := ValidateServiceToken(auth[len(prefix):], secret)
	if err != nil {
		t.Fatalf("ValidateServiceToken failed: %v", err)
	}
	if service != "billing-worker" {
		t.Errorf("service = %q, want billing-worker", service)
	}
}

func TestServiceTokenCached(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	creds := NewServiceTokenCredentials("worker", secret, time.Hour)

	first, err := creds.currentToken()
	if err != nil {
		t.Fatalf("currentToken failed: %v", err)
	}
	second, err := creds.currentToken()
	if err != nil {
		t.Fatalf("currentToken failed: %v", err)
	}
	if first != second {
		t.Error("token should be cached until near expiry")
	}
}

func TestServiceTokenWrongSecret(t *testing.T) {
	creds := NewServiceTokenCredentials("worker", []byte("secret-a-secret-a-secret-a-secre"), time.Hour)
	token, err := creds.currentToken()
	if err != nil {
		t.Fatalf("currentToken failed: %v", err)
	}

	if _, err := ValidateServiceToken(token, []byte("secret-b-secret-b-secret-b-secre")); err == nil {
		t.Error("validation should fail with a different secret")
	}
}
