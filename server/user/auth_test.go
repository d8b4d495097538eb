package user

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/justdownloadit/justdownloadit/server/config"
)

func configureAuth(t *testing.T, username, password string) {
	t.Helper()
	sum := sha256.Sum256([]byte(password))

	auth := &config.Instance().Authentication
	auth.RequireAuth = true
	auth.Username = username
	auth.PasswordHash = hex.EncodeToString(sum[:])

	t.Cleanup(func() { *auth = config.AuthConfig{} })
}

func TestLoginIssuesValidToken(t *testing.T) {
	configureAuth(t, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"hunter2"}`))
	rec := httptest.NewRecorder()

	Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["token"] == "" {
		t.Fatal("no token in response")
	}
	if err := ValidateToken(body["token"]); err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != TokenCookieName {
		t.Fatalf("cookie not set: %v", cookies)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	configureAuth(t, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	rec := httptest.NewRecorder()

	Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	configureAuth(t, "admin", "hunter2")

	token, err := issueToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateToken(token + "x"); err == nil {
		t.Fatal("tampered token validated")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := TokenFromRequest(r); err == nil {
		t.Fatal("expected error with no token")
	}

	r.Header.Set("Authorization", "Bearer abc")
	token, err := TokenFromRequest(r)
	if err != nil || token != "abc" {
		t.Fatalf("header token = %q, %v", token, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "xyz"})
	token, err = TokenFromRequest(r)
	if err != nil || token != "xyz" {
		t.Fatalf("cookie token = %q, %v", token, err)
	}
}
