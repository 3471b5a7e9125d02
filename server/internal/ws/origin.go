package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a connection.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy builds a policy from configured origins. An empty list or
// "*" allows every origin. Entries that are not scheme://host are skipped.
func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowAll: len(origins) == 0, allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			p.allowed[n] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// check reports whether r may be upgraded. Requests without an Origin header
// come from non-browser clients and are accepted.
func (p originPolicy) check(r *http.Request) bool {
	if p.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	n, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = p.allowed[n]
	return ok
}
