package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsRequest(t *testing.T, allowedOrigins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()

	var reached bool
	handler := CORS(allowedOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/widget/bootstrap", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if method == http.MethodOptions && reached {
		t.Error("Expected preflight to short-circuit before the handler")
	}
	return w
}

func TestCORSWildcardEchoesOrigin(t *testing.T) {
	t.Parallel()

	w := corsRequest(t, []string{"*"}, http.MethodGet, "https://host-page.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://host-page.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Error("Expected no credentials header for a wildcard match")
	}
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	t.Parallel()

	w := corsRequest(t, []string{"https://trusted.example.com"}, http.MethodGet, "https://trusted.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://trusted.example.com" {
		t.Errorf("Expected origin allowed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials allowed for an explicit origin, got %q", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	t.Parallel()

	w := corsRequest(t, []string{"https://trusted.example.com"}, http.MethodGet, "https://evil.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers for an unknown origin, got %q", got)
	}
}

func TestCORSNoOriginGetsNoHeaders(t *testing.T) {
	t.Parallel()

	// Same-origin requests send no Origin header; even a wildcard config must
	// not answer them with an empty Allow-Origin.
	w := corsRequest(t, []string{"*"}, http.MethodGet, "")

	if _, ok := w.Header()["Access-Control-Allow-Origin"]; ok {
		t.Error("Expected no Allow-Origin header without an Origin header")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected the request to pass through, got %d", w.Code)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()

	w := corsRequest(t, []string{"*"}, http.MethodOptions, "https://host-page.example.com")

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", w.Code)
	}
	if allow := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(allow, "X-Embedchat-Session-ID") {
		t.Errorf("Expected the session header in the allow list, got %q", allow)
	}
	if expose := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(expose, "X-Embedchat-Session-ID") {
		t.Errorf("Expected the session header exposed, got %q", expose)
	}
}
