package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Capability classifies what an endpoint needs to authenticate. The client picks one
// Authenticator per capability, so callers never set credentials by hand.
type Capability int

const (
	// CapabilityPublic endpoints take no credentials (fonts, stored uploads).
	CapabilityPublic Capability = iota
	// CapabilitySession endpoints resolve the signed-in user from the session cookie.
	CapabilitySession
	// CapabilityBot endpoints act with the bot's authority via the shared secret.
	CapabilityBot
	// CapabilityGuildConfig covers reading and writing a guild's configuration. Both
	// the raw editor and the settings editor go through it.
	CapabilityGuildConfig
)

func (c Capability) String() string {
	switch c {
	case CapabilityPublic:
		return "public"
	case CapabilitySession:
		return "session"
	case CapabilityBot:
		return "bot"
	case CapabilityGuildConfig:
		return "guild-config"
	}
	return "unknown"
}

const (
	// DefaultSessionCookie is the cookie the backend sets after the OAuth callback.
	DefaultSessionCookie = "dashboard_access_token"
	// SharedSecretHeader carries the shared secret on bot-authenticated calls.
	SharedSecretHeader = "X-INTERNAL-TOKEN"
)

// ErrUnauthenticated is returned without a request when a session-only endpoint is
// called and the browser carries no backend session.
var ErrUnauthenticated = errors.New("no backend session")

// Credentials are the per-browser values forwarded to the backend.
type Credentials struct {
	SessionToken string
}

type credentialsKey struct{}

// WithCredentials attaches browser credentials to ctx.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

// CredentialsFrom returns the credentials attached to ctx, if any.
func CredentialsFrom(ctx context.Context) Credentials {
	c, _ := ctx.Value(credentialsKey{}).(Credentials)
	return c
}

// Authenticator decorates an outgoing request with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, req *http.Request) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, req *http.Request) error {
	return f(ctx, req)
}

// Anonymous sends no credentials.
var Anonymous Authenticator = AuthenticatorFunc(func(context.Context, *http.Request) error { return nil })

// SessionCookie forwards the browser's backend session cookie.
type SessionCookie struct {
	Name     string
	Required bool
}

func (s SessionCookie) Authenticate(ctx context.Context, req *http.Request) error {
	token := strings.TrimSpace(CredentialsFrom(ctx).SessionToken)
	if token == "" {
		if s.Required {
			return ErrUnauthenticated
		}
		return nil
	}
	name := s.Name
	if name == "" {
		name = DefaultSessionCookie
	}
	req.AddCookie(&http.Cookie{Name: name, Value: token})
	return nil
}

// SharedSecret sets the fixed shared-secret header.
type SharedSecret struct {
	Token string
}

func (s SharedSecret) Authenticate(_ context.Context, req *http.Request) error {
	if s.Token != "" {
		req.Header.Set(SharedSecretHeader, s.Token)
	}
	return nil
}

// Chain applies every authenticator in order and stops at the first error.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, req *http.Request) error {
	for _, a := range c {
		if err := a.Authenticate(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// DefaultStrategies maps each capability to its authenticator.
func DefaultStrategies(sessionCookie, sharedSecret string) map[Capability]Authenticator {
	secret := SharedSecret{Token: sharedSecret}
	return map[Capability]Authenticator{
		CapabilityPublic:      Anonymous,
		CapabilitySession:     SessionCookie{Name: sessionCookie, Required: true},
		CapabilityBot:         secret,
		CapabilityGuildConfig: Chain{SessionCookie{Name: sessionCookie}, secret},
	}
}
