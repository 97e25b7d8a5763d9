package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func identityProbe(t *testing.T) (http.Handler, *string, *string) {
	t.Helper()
	var userID, sessionID string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
	}))
	return h, &userID, &sessionID
}

func TestMiddlewareAssignsAnonymousID(t *testing.T) {
	h, userID, sessionID := identityProbe(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if !isValidAnonID(*userID) {
		t.Errorf("Expected a generated anon id, got %q", *userID)
	}
	if *sessionID != DefaultSessionIDValue {
		t.Errorf("Expected default session id, got %q", *sessionID)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected the anon cookie to be set")
	}
	if cookie.Value != *userID {
		t.Errorf("Cookie %q does not match context user %q", cookie.Value, *userID)
	}
	if !cookie.HttpOnly {
		t.Error("Anon cookie must be http-only")
	}
	if cookie.Secure {
		t.Error("Dev mode cookies must not be secure-only")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	h, userID, _ := identityProbe(t)

	existing, err := generateAnonID()
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if *userID != existing {
		t.Errorf("Expected reuse of %q, got %q", existing, *userID)
	}
}

func TestMiddlewareRejectsForgedCookie(t *testing.T) {
	h, userID, _ := identityProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc/passwd"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !isValidAnonID(*userID) {
		t.Errorf("Expected a regenerated id, got %q", *userID)
	}
	if *userID == "anon_../../etc/passwd" {
		t.Error("Forged cookie value leaked into the context")
	}
}

func TestSessionIDFromHeader(t *testing.T) {
	h, _, sessionID := identityProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if *sessionID != "tab-42" {
		t.Errorf("Expected tab-42, got %q", *sessionID)
	}
}

func TestSessionIDFromQueryFallback(t *testing.T) {
	h, _, sessionID := identityProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/?session_id=tab-7", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if *sessionID != "tab-7" {
		t.Errorf("Expected tab-7, got %q", *sessionID)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tab-1", "tab-1"},
		{"  tab-1  ", "tab-1"},
		{"", DefaultSessionIDValue},
		{"bad session id!", DefaultSessionIDValue},
		{"<script>", DefaultSessionIDValue},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := IPFromRequest(r); got != "10.1.2.3" {
		t.Errorf("IPFromRequest = %q, want 10.1.2.3", got)
	}
}
