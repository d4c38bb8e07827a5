package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// apiPrefix is accepted, and dropped, at the end of a host URL so that a
// copied endpoint such as http://localhost:8080/v1 still works.
const apiPrefix = "/v1"

// normalizeHost turns a user supplied host into the client base URL. A bare
// host:port gets the http scheme.
func normalizeHost(host string) (string, error) {
	raw := strings.TrimSpace(host)
	if raw == "" {
		return "", fmt.Errorf("invalid host %q: host URL cannot be empty", host)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid host %q: scheme must be http or https", host)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q: missing host", host)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid host %q: host must not include query or fragment", host)
	}
	switch strings.TrimRight(u.Path, "/") {
	case "", apiPrefix:
	default:
		return "", fmt.Errorf("invalid host %q: host must not include a path other than %s", host, apiPrefix)
	}
	return u.Scheme + "://" + u.Host, nil
}
