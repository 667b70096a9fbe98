package api

import (
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// guard rejects requests a web page could forge against the loopback
// listener: a Host that is not ours (DNS rebinding), a cross-site Origin,
// and state-changing requests that are not JSON. Browsers send
// cross-site text/plain and form posts without a preflight, so a JSON
// content type is what keeps those out.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.hostAllowed(r.Host) {
			slog.Warn("api request rejected", "reason", "host", "host", r.Host, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "host not allowed")
			return
		}
		if !s.sameOrigin(r) {
			slog.Warn("api request rejected", "reason", "origin", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "cross-origin request not allowed")
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !isJSON(r) {
			writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hostAllowed reports whether hostport names this server: a loopback
// address, "localhost", or the configured listen host.
func (s *Server) hostAllowed(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return s.listenHost != "" && strings.EqualFold(host, s.listenHost)
}

// sameOrigin accepts requests without an Origin header (the CLI, curl)
// and browser requests whose Origin is this server itself.
func (s *Server) sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host) && s.hostAllowed(u.Host)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
