// Package identity provides anonymous visitor and tab-session identifiers.
//
// A visitor ID is device/profile-scoped: it lives in an HttpOnly cookie and
// survives across visits. A session ID is tab-scoped: the embedding page keeps
// it for the tab's lifetime and echoes it on every request. Both are opaque
// random tokens of at most 32 characters; anything longer or malformed is
// discarded and regenerated.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/embedchat/internal/domain"
	"github.com/mkravets/embedchat/internal/store"
)

const (
	// VisitorCookieName is the durable device-scoped identifier cookie.
	VisitorCookieName = "embedchat_vid"
	// SessionHeaderName carries the tab-scoped session identifier. The
	// middleware echoes it back so a fresh tab can adopt a minted ID.
	SessionHeaderName = "X-Embedchat-Session-ID"

	// MaxIDLength bounds both identifiers.
	MaxIDLength = 32

	visitorCookieMaxAge = 365 * 24 * time.Hour
)

type contextKey int

const (
	visitorIDKey contextKey = iota
	sessionIDKey
)

var idPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// VisitorIDFromContext extracts the visitor ID from the request context.
// Outside a request that passed through the middleware it returns "" — the
// caller has no identifier storage available in that case.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// NewID generates an opaque 32-character identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id is a well-formed identifier.
func Valid(id string) bool {
	return len(id) <= MaxIDLength && idPattern.MatchString(id)
}

func ensureVisitor(ctx context.Context, repo store.Repository, visitorID string) error {
	visitor, err := repo.GetVisitor(ctx, visitorID)
	if err != nil {
		return err
	}
	now := time.Now()
	if visitor != nil {
		return repo.TouchVisitor(ctx, visitorID, now, 0)
	}
	return repo.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID:   visitorID,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(VisitorCookieName); err == nil && Valid(c.Value) {
		id = c.Value
	} else {
		id = NewID()
	}

	// Refresh the cookie either way so an active visitor never expires.
	// SameSite=None because the widget runs inside a cross-site iframe.
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   !isDev,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := strings.TrimSpace(r.Header.Get(SessionHeaderName))
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if !Valid(sid) {
		return ""
	}
	return sid
}

// Middleware injects the visitor ID (read-or-create via cookie) and the tab
// session ID (read-or-mint via header) into the request context. A minted
// session ID is returned in the response header so the tab can echo it back
// on subsequent requests.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID := getOrCreateVisitorID(w, r, isDev)

			if err := ensureVisitor(r.Context(), repo, visitorID); err != nil {
				http.Error(w, `{"error":"failed to establish visitor identity"}`, http.StatusInternalServerError)
				return
			}

			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				sessionID = NewID()
			}
			w.Header().Set(SessionHeaderName, sessionID)

			ctx := context.WithValue(r.Context(), visitorIDKey, visitorID)
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
