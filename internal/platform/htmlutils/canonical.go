package htmlutils

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const wwwPrefix = "www."

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalURL normalizes a URL for storage and comparison: lowercase scheme
// and host, default port stripped, fragment dropped. Query order is preserved
// because some sites treat it as significant; use CanonicalKey for hashing.
func CanonicalURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if port := parsed.Port(); port != "" && port == defaultPorts[parsed.Scheme] {
		parsed.Host = parsed.Hostname()
	}

	return parsed.String(), nil
}

// CanonicalKey returns a stable identity form of the URL for hashing: the
// canonical URL with query keys sorted.
func CanonicalKey(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("parse canonical url: %w", err)
	}

	if parsed.RawQuery != "" {
		values := parsed.Query()

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		var sb strings.Builder

		for _, k := range keys {
			vals := values[k]
			sort.Strings(vals)

			for _, v := range vals {
				if sb.Len() > 0 {
					sb.WriteByte('&')
				}

				sb.WriteString(url.QueryEscape(k))
				sb.WriteByte('=')
				sb.WriteString(url.QueryEscape(v))
			}
		}

		parsed.RawQuery = sb.String()
	}

	return parsed.String(), nil
}

// ResolveURL resolves a possibly relative reference against a base URL.
func ResolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse ref url: %w", err)
	}

	return baseURL.ResolveReference(refURL).String(), nil
}

// Domain extracts the normalized domain from a URL: lowercase, www. stripped.
func Domain(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}

	return NormalizeDomain(parsed.Host)
}

// NormalizeDomain lowercases a host and strips the www. prefix and port.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))

	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}

	return strings.TrimPrefix(host, wwwPrefix)
}
