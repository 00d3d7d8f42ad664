package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders apply to a single connection and are never relayed.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// copyHeaders adds every end-to-end header of src to dst. Headers named in
// src's Connection header are treated as hop-by-hop too.
func copyHeaders(dst, src http.Header) {
	connectionScoped := map[string]bool{}
	for _, value := range src.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connectionScoped[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for key, values := range src {
		if isHopByHop(key) || connectionScoped[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
