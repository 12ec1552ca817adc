package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/log"
)

// newBackendProxy forwards browser requests to the backend unchanged, so cookies the
// backend sets during the OAuth flow land on the dashboard's origin. The shared
// secret is never forwarded from the browser.
func newBackendProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(backend.SharedSecretHeader)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.HTTPLogger().Warn("Backend proxy request failed", "path", r.URL.Path, "error", err)
			http.Error(w, "backend unavailable", http.StatusBadGateway)
		},
	}
}
