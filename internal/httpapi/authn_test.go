package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taxdesk.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"well formed", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"case insensitive scheme", "bearer abc", "abc", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic dXNlcg==", "", false},
		{"scheme without token", "Bearer   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.ok && (err != nil || got != tc.want) {
				t.Fatalf("got (%q, %v), want (%q, nil)", got, err, tc.want)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error for %q", tc.header)
			}
		})
	}
}

func TestWithAuthRejectsInvalidToken(t *testing.T) {
	t.Setenv("TAXDESK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	api := &API{}
	h := RequestID(api.withAuth(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/v1/entities", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWithAuthPopulatesActor(t *testing.T) {
	t.Setenv("TAXDESK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	token, err := auth.GenerateToken("actor-1", "staff", "acct-1", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	api := &API{}
	var called bool
	h := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actor, ok := actorFrom(r.Context())
		if !ok {
			t.Fatalf("actor missing from context")
		}
		if actor.ID != "actor-1" || string(actor.Role) != "staff" || actor.AccountID != "acct-1" {
			t.Fatalf("actor = %+v", actor)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/entities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("handler never reached")
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	api := &API{}
	var called bool
	h := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Fatalf("public path should bypass auth")
	}
}
