package backend

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://backend.test/x", nil)
	require.NoError(t, err)
	return req
}

func TestDefaultStrategiesPerCapability(t *testing.T) {
	strategies := DefaultStrategies("", "s3cret")
	ctx := WithCredentials(context.Background(), Credentials{SessionToken: "tok"})

	cases := []struct {
		capability Capability
		wantCookie bool
		wantSecret bool
	}{
		{CapabilityPublic, false, false},
		{CapabilitySession, true, false},
		{CapabilityBot, false, true},
		{CapabilityGuildConfig, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.capability.String(), func(t *testing.T) {
			req := newRequest(t)
			require.NoError(t, strategies[tc.capability].Authenticate(ctx, req))

			_, err := req.Cookie(DefaultSessionCookie)
			assert.Equal(t, tc.wantCookie, err == nil)
			assert.Equal(t, tc.wantSecret, req.Header.Get(SharedSecretHeader) == "s3cret")
		})
	}
}

func TestGuildConfigWithoutSessionStillSendsSecret(t *testing.T) {
	req := newRequest(t)
	err := DefaultStrategies("", "s3cret")[CapabilityGuildConfig].Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", req.Header.Get(SharedSecretHeader))
	assert.Empty(t, req.Cookies())
}

func TestCustomSessionCookieName(t *testing.T) {
	req := newRequest(t)
	ctx := WithCredentials(context.Background(), Credentials{SessionToken: "abc"})
	require.NoError(t, SessionCookie{Name: "sid", Required: true}.Authenticate(ctx, req))
	ck, err := req.Cookie("sid")
	require.NoError(t, err)
	assert.Equal(t, "abc", ck.Value)

	err = SessionCookie{Required: true}.Authenticate(context.Background(), newRequest(t))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
