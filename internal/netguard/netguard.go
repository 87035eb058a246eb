// SPDX-License-Identifier: MIT

// Package netguard validates upstream URLs before the proxy dials them. The
// resolver output is subprocess text; this is the last check between that
// text and an outbound TCP connection.
package netguard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrNotAllowed indicates the URL violates the outbound policy.
var ErrNotAllowed = errors.New("netguard: url not allowed")

// Policy defines which upstream targets are acceptable. Literal IPs are
// checked against the blocked ranges; hostnames are normalized but not
// resolved here, the dialer resolves them once.
type Policy struct {
	AllowLoopback bool // permit 127.0.0.0/8 and ::1 targets
	AllowPrivate  bool // permit RFC1918 / ULA targets
}

// NormalizeHost validates and normalizes a bare host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateStreamURL verifies an upstream URL against the policy and returns
// the URL with a normalized host.
func ValidateStreamURL(raw string, policy Policy) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("upstream url empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrNotAllowed, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing url host")
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: userinfo in url", ErrNotAllowed)
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("%w: fragment in url", ErrNotAllowed)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip, policy); err != nil {
			return "", err
		}
	}

	u.Host = joinHostPort(host, u.Port())
	return u.String(), nil
}

func checkIP(ip net.IP, policy Policy) error {
	switch {
	case ip.IsUnspecified(), ip.IsMulticast(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: blocked ip %s", ErrNotAllowed, ip)
	case ip.IsLoopback() && !policy.AllowLoopback:
		return fmt.Errorf("%w: loopback ip %s", ErrNotAllowed, ip)
	case ip.IsPrivate() && !policy.AllowPrivate:
		return fmt.Errorf("%w: private ip %s", ErrNotAllowed, ip)
	}
	return nil
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
