package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders must never be forwarded to the client on the return
// path (SPEC_FULL.md §4.E / RFC 7230 §6.1).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// copyForwardHeaders copies src into dst for the upstream-bound request,
// dropping Host and Content-Length (case-insensitive) per SPEC_FULL.md
// §4.E. All other headers, including duplicates, are preserved.
func copyForwardHeaders(dst, src http.Header) {
	for key, values := range src {
		if strings.EqualFold(key, "Host") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// copyReturnHeaders copies src into dst for the client-bound response,
// dropping hop-by-hop headers plus Content-Length and Content-Type (both
// of which the caller sets separately). Set-Cookie and any other header
// that appears multiple times is preserved as repeated values.
func copyReturnHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		if strings.EqualFold(key, "Content-Length") || strings.EqualFold(key, "Content-Type") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
