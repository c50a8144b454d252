package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xelma/round-engine/internal/model"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestContextAuthorizer(t *testing.T) {
	ctx := WithSigners(context.Background(), "alice")
	ctx = WithSigners(ctx, "bob")
	var a ContextAuthorizer

	if err := a.Require(ctx, "alice"); err != nil {
		t.Errorf("alice should be authorized: %v", err)
	}
	if err := a.Require(ctx, "bob"); err != nil {
		t.Errorf("bob should be authorized: %v", err)
	}
	if err := a.Require(ctx, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := a.Require(context.Background(), "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without signers, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1" {
		t.Errorf("expected checksummed address, got %s", got)
	}
	if _, err := ParseAddress("alice"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestSignAndRecover(t *testing.T) {
	s := mustSigner(t)
	body := []byte(`{"amount":"100"}`)
	sig, err := s.Sign("POST", "/api/v1/bets", 42, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewReader(body))
	r.Header.Set(HeaderSignature, sig)
	v := NewVerifier(time.Minute, nil)
	v.now = func() time.Time { return time.UnixMilli(42) }
	r.Header.Set(HeaderAddress, string(s.Address()))
	r.Header.Set(HeaderNonce, "42")

	got, err := v.Verify(context.Background(), r, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != s.Address() {
		t.Errorf("expected %s, got %s", s.Address(), got)
	}
}

func TestVerify_Rejections(t *testing.T) {
	s := mustSigner(t)
	other, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Now()
	nonce := now.UnixMilli()
	body := []byte(`{}`)

	newReq := func(path string) *http.Request {
		return httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	}

	tests := []struct {
		name  string
		build func() *http.Request
		want  error
	}{
		{"missing headers", func() *http.Request { return newReq("/api/v1/claim") }, ErrMissingSignature},
		{"tampered body", func() *http.Request {
			r := newReq("/api/v1/claim")
			s.SignRequest(r, []byte(`{"x":1}`), nonce)
			return r
		}, ErrBadSignature},
		{"tampered path", func() *http.Request {
			r := newReq("/api/v1/claim")
			s.SignRequest(r, body, nonce)
			r.URL.Path = "/api/v1/mint"
			return r
		}, ErrBadSignature},
		{"wrong claimed address", func() *http.Request {
			r := newReq("/api/v1/claim")
			s.SignRequest(r, body, nonce)
			r.Header.Set(HeaderAddress, string(other.Address()))
			return r
		}, ErrBadSignature},
		{"stale nonce", func() *http.Request {
			r := newReq("/api/v1/claim")
			s.SignRequest(r, body, now.Add(-time.Hour).UnixMilli())
			return r
		}, ErrStaleNonce},
	}

	v := NewVerifier(time.Minute, NewMemoryNonceGuard())
	v.now = func() time.Time { return now }
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.build(), body)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerify_ReplayRejected(t *testing.T) {
	s := mustSigner(t)
	body := []byte(`{}`)
	nonce := time.Now().UnixMilli()
	v := NewVerifier(time.Minute, NewMemoryNonceGuard())

	r1 := httptest.NewRequest(http.MethodPost, "/api/v1/mint", bytes.NewReader(body))
	s.SignRequest(r1, body, nonce)
	if _, err := v.Verify(context.Background(), r1, body); err != nil {
		t.Fatalf("first request: %v", err)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/api/v1/mint", bytes.NewReader(body))
	s.SignRequest(r2, body, nonce)
	if _, err := v.Verify(context.Background(), r2, body); !errors.Is(err, ErrNonceReused) {
		t.Errorf("expected ErrNonceReused, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	s := mustSigner(t)
	v := NewVerifier(time.Minute, NewMemoryNonceGuard())

	var seen []model.Address
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Signers(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	body := []byte(`{"side":"UP"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewReader(body))
	s.SignRequest(req, body, time.Now().UnixMilli())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(seen) != 1 || seen[0] != s.Address() {
		t.Errorf("expected signer %s in context, got %v", s.Address(), seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unsigned request, got %d", w.Code)
	}
}

func TestMiddleware_BodyTooLarge(t *testing.T) {
	s := mustSigner(t)
	v := NewVerifier(time.Minute, NewMemoryNonceGuard())
	called := false
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	body := bytes.Repeat([]byte("a"), MaxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewReader(body))
	s.SignRequest(req, body, time.Now().UnixMilli())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
	if called {
		t.Error("handler ran for an oversized body")
	}
}

func TestMemoryNonceGuard_Expiry(t *testing.T) {
	g := NewMemoryNonceGuard()
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	if err := g.Use(ctx, "alice", 1, time.Second); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := g.Use(ctx, "bob", 1, time.Second); err != nil {
		t.Errorf("same nonce for another address should pass: %v", err)
	}
	if err := g.Use(ctx, "alice", 1, time.Second); !errors.Is(err, ErrNonceReused) {
		t.Errorf("expected ErrNonceReused, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := g.Use(ctx, "alice", 1, time.Second); err != nil {
		t.Errorf("expired nonce should be forgotten: %v", err)
	}
}
