// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractToken_PriorityOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/test?token=query", nil)
	r.Header.Set("Authorization", "Password auth-header-secret ")
	r.Header.Set("X-Auth-Token", "x-auth-token-secret")
	r.Header.Set("X-Password", "x-password-secret")

	if got := ExtractToken(r, true); got != "auth-header-secret" {
		t.Fatalf("ExtractToken() = %q, want %q", got, "auth-header-secret")
	}
}

func TestExtractToken_FallsBackThroughHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/test", nil)
	r.Header.Set("X-Password", "x-password-secret")

	if got := ExtractToken(r, false); got != "x-password-secret" {
		t.Fatalf("ExtractToken() = %q, want %q", got, "x-password-secret")
	}
}

func TestExtractToken_AllowQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/test?token=query-token", nil)

	if got := ExtractToken(r, false); got != "" {
		t.Fatalf("ExtractToken(allowQuery=false) = %q, want empty", got)
	}

	if got := ExtractToken(r, true); got != "query-token" {
		t.Fatalf("ExtractToken(allowQuery=true) = %q, want %q", got, "query-token")
	}
}

func TestAuthorizeToken(t *testing.T) {
	if AuthorizeToken("secret", "secret") != true {
		t.Fatal("AuthorizeToken should accept exact match")
	}
	if AuthorizeToken("secret", "other") != false {
		t.Fatal("AuthorizeToken should reject mismatch")
	}
	if AuthorizeToken("", "secret") != false {
		t.Fatal("AuthorizeToken should reject empty got token")
	}
	if AuthorizeToken("secret", "") != false {
		t.Fatal("AuthorizeToken should reject empty expected token")
	}
}

func TestAuthorizeRequest(t *testing.T) {
	expected := "secret"

	r := httptest.NewRequest(http.MethodGet, "http://example.local/test?token=secret", nil)
	if AuthorizeRequest(r, expected, true) != true {
		t.Fatal("AuthorizeRequest should accept query token when allowQuery=true")
	}
	if AuthorizeRequest(r, expected, false) != false {
		t.Fatal("AuthorizeRequest should reject query token when allowQuery=false")
	}
}
