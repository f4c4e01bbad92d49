package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret-key-0123456789abcdef0123"

type lookupFunc func(string) (string, error)

func (f lookupFunc) UserIDByAuthID(authID string) (string, error) { return f(authID) }

func TestTokenManager_IssueAndVerify(t *testing.T) {
	tm := NewTokenManager(testSecret, "qaflow")

	token, err := tm.Issue(Payload{Subject: "auth|alice", Email: "alice@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p, err := tm.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if p.Subject != "auth|alice" || p.UserID != "" || p.Email != "alice@example.com" {
		t.Errorf("payload = %+v", p)
	}
}

func TestTokenManager_VerifyExpired(t *testing.T) {
	tm := NewTokenManager(testSecret, "qaflow")

	token, err := tm.Issue(Payload{UserID: "u1"}, -time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tm.VerifyToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenManager_RejectsForeignTokens(t *testing.T) {
	issuer := NewTokenManager(testSecret, "qaflow")
	token, err := issuer.Issue(Payload{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	otherSecret := NewTokenManager("another-secret-0123456789abcdef0123", "qaflow")
	if _, err := otherSecret.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: got %v", err)
	}
	otherIssuer := NewTokenManager(testSecret, "someone-else")
	if _, err := otherIssuer.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: got %v", err)
	}
	if _, err := issuer.VerifyToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: got %v", err)
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	tm := NewTokenManager(testSecret, "")
	if _, err := tm.Issue(Payload{}, time.Hour); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}

func TestVerifyRequest(t *testing.T) {
	tm := NewTokenManager(testSecret, "qaflow")
	token, err := tm.Issue(Payload{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/test-cases/x/clone", nil)
	if _, err := tm.Verify(req); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	req.Header.Set("Authorization", "bearer "+token)
	p, err := tm.Verify(req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != "u1" {
		t.Fatalf("payload = %+v", p)
	}

	req.Header.Set("Authorization", "Basic abc")
	if BearerToken(req) != "" {
		t.Fatal("basic auth should not yield a bearer token")
	}
}

func TestResolveUserID(t *testing.T) {
	lookup := lookupFunc(func(authID string) (string, error) {
		if authID == "auth|known" {
			return "user-9", nil
		}
		return "", errors.New("not found")
	})

	tests := []struct {
		name    string
		payload *Payload
		want    string
	}{
		{"nil payload", nil, ""},
		{"direct id wins", &Payload{UserID: "user-1", Subject: "auth|known"}, "user-1"},
		{"subject lookup", &Payload{Subject: "auth|known"}, "user-9"},
		{"unknown subject", &Payload{Subject: "auth|stranger"}, ""},
		{"empty", &Payload{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveUserID(tt.payload, lookup); got != tt.want {
				t.Errorf("ResolveUserID = %q, want %q", got, tt.want)
			}
		})
	}
	if got := ResolveUserID(&Payload{Subject: "auth|known"}, nil); got != "" {
		t.Errorf("nil lookup should not resolve, got %q", got)
	}
}

func TestPayloadContext(t *testing.T) {
	if PayloadFromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no payload")
	}
	p := &Payload{UserID: "u1"}
	if got := PayloadFromContext(WithPayload(context.Background(), p)); got != p {
		t.Fatalf("got %+v", got)
	}
}
