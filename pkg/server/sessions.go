package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/dashboard"
	"github.com/small-frappuccino/guilddash/pkg/log"
)

// SessionCookieName identifies a browser session with the dashboard.
const SessionCookieName = "guilddash_session"

// Sessions keeps one dashboard.Shell per browser session. Entries expire after the
// configured idle TTL; an expired or removed Shell is closed, which cancels its
// outstanding backend requests and releases any preview it holds.
type Sessions struct {
	store    *cache.Cache
	newShell func(sessionID string) *dashboard.Shell
	secure   bool

	// backendCookie names the backend session cookie forwarded as credentials.
	backendCookie string

	mu sync.Mutex
}

// NewSessions returns a session store. newShell builds the Shell for a new session.
func NewSessions(ttl time.Duration, secure bool, newShell func(sessionID string) *dashboard.Shell) *Sessions {
	c := cache.New(ttl, cleanupInterval(ttl))
	c.OnEvicted(func(id string, v any) {
		if sh, ok := v.(*dashboard.Shell); ok {
			sh.Close()
			log.HTTPLogger().Debug("Session closed", "session", id)
		}
	})
	return &Sessions{
		store:         c,
		newShell:      newShell,
		secure:        secure,
		backendCookie: backend.DefaultSessionCookie,
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 2*time.Minute {
		return time.Minute
	}
	return ttl / 2
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int { return s.store.ItemCount() }

// Close closes every live session.
func (s *Sessions) Close() {
	for id := range s.store.Items() {
		s.store.Delete(id)
	}
}

// Middleware resolves the browser's Shell, renewing its TTL, and attaches the
// browser's backend credentials to the request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh := s.resolve(w, r)
		ctx := withShell(r.Context(), sh)
		if ck, err := r.Cookie(s.backendCookie); err == nil && ck.Value != "" {
			ctx = backend.WithCredentials(ctx, backend.Credentials{SessionToken: ck.Value})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Sessions) resolve(w http.ResponseWriter, r *http.Request) *dashboard.Shell {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ck, err := r.Cookie(SessionCookieName); err == nil {
		if _, err := uuid.Parse(ck.Value); err == nil {
			if v, ok := s.store.Get(ck.Value); ok {
				sh := v.(*dashboard.Shell)
				s.store.SetDefault(ck.Value, sh)
				return sh
			}
		}
	}

	id := uuid.NewString()
	sh := s.newShell(id)
	s.store.SetDefault(id, sh)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	log.HTTPLogger().Debug("Session opened", "session", id)
	return sh
}

type shellKey struct{}

func withShell(ctx context.Context, sh *dashboard.Shell) context.Context {
	return context.WithValue(ctx, shellKey{}, sh)
}

// ShellFrom returns the Shell attached by Sessions.Middleware.
func ShellFrom(ctx context.Context) *dashboard.Shell {
	sh, _ := ctx.Value(shellKey{}).(*dashboard.Shell)
	return sh
}
