package httpguard

import (
	"net"
	"net/http"
	"strings"
)

// ProxyHeaders are consulted in order for the client address. The first
// non-empty value that is not "unknown" wins; for lists the first entry is
// used.
var ProxyHeaders = []string{"X-Forwarded-For", "Proxy-Client-IP", "WL-Proxy-Client-IP"}

// ClientIPFromHeaders resolves the client address from proxy headers read
// through get, falling back to remote.
func ClientIPFromHeaders(get func(string) string, remote string) string {
	for _, name := range ProxyHeaders {
		v := strings.TrimSpace(get(name))
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = strings.TrimSpace(v[:i])
		}
		if v != "" && !strings.EqualFold(v, "unknown") {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// ClientIP resolves the client address of r.
func ClientIP(r *http.Request) string {
	return ClientIPFromHeaders(r.Header.Get, r.RemoteAddr)
}
