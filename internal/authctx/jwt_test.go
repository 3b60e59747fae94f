package authctx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestGenerateAndRequireAuth(t *testing.T) {
	secret := testSecret()
	token, _, err := GenerateToken(secret, AuthContext{
		UserID: "u1", MemberID: "m1", GroupID: "g1", Role: RoleAdult,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var captured *AuthContext
	handler := RequireAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		captured = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if captured == nil || captured.UserID != "u1" || captured.GroupID != "g1" {
		t.Fatalf("unexpected AuthContext: %+v", captured)
	}
}

func TestRequireAuthMissingHeader(t *testing.T) {
	handler := RequireAuth(testSecret())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthBadSignature(t *testing.T) {
	token, _, err := GenerateToken(testSecret(), AuthContext{UserID: "u1", GroupID: "g1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handler := RequireAuth([]byte("different-secret-32-bytes-long!")[:32])(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCallbackTokenRoundTrip(t *testing.T) {
	secret := testSecret()
	token, err := GenerateCallbackToken(secret, "call-123", "audio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := ParseCallbackToken(secret, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.CallID != "call-123" || claims.Kind != "audio" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestCallbackTokenWrongSecret(t *testing.T) {
	token, err := GenerateCallbackToken(testSecret(), "call-123", "audio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ParseCallbackToken([]byte("00000000000000000000000000000000"[:32]), token); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}
