// Package urlvalidator guards outbound webhook/script HTTP calls against
// SSRF, including DNS-rebinding, per spec.md §4.9.
package urlvalidator

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/medicops/medic/infrastructure/errors"
)

const dnsTimeout = 5 * time.Second

var blockedHosts = map[string]bool{
	"0.0.0.0":                     true,
	"127.0.0.1":                   true,
	"localhost":                   true,
	"169.254.169.254":             true,
	"metadata.google.internal":    true,
	"metadata":                    true,
}

var blockedCIDRs = mustParseCIDRs([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"::/128",
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("urlvalidator: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

func ipBlocked(ip net.IP) bool {
	for _, n := range blockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS lookup so tests can substitute a fake resolver
// without making real network calls.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator validates outbound URLs against the SSRF policy. A non-empty
// AllowedHosts makes the hostname allowlist authoritative for that call and
// skips the DNS-rebinding check (spec.md §4.9).
type Validator struct {
	Resolver      Resolver
	AllowedHosts  map[string]bool
}

// New builds a Validator backed by the system resolver. allowedHostsCSV is
// the raw MEDIC_ALLOWED_WEBHOOK_HOSTS value (empty disables the allowlist).
func New(allowedHostsCSV string) *Validator {
	v := &Validator{Resolver: net.DefaultResolver}
	if allowedHostsCSV != "" {
		v.AllowedHosts = make(map[string]bool)
		for _, h := range strings.Split(allowedHostsCSV, ",") {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				v.AllowedHosts[h] = true
			}
		}
	}
	return v
}

// errInvalidURL is always returned verbatim to the caller, per spec.md §4.9
// ("generic error without echoing the target").
var errInvalidURL = errors.Security("invalid webhook URL")

// Validate returns nil if rawURL is safe to dial, or errInvalidURL otherwise.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return errInvalidURL
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errInvalidURL
	}
	if blockedHosts[host] {
		return errInvalidURL
	}
	if ip := net.ParseIP(host); ip != nil && ipBlocked(ip) {
		return errInvalidURL
	}

	if v.AllowedHosts != nil {
		if !v.AllowedHosts[host] {
			return errInvalidURL
		}
		return nil
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := v.Resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return errInvalidURL
	}
	if len(addrs) == 0 {
		return errInvalidURL
	}
	for _, addr := range addrs {
		if blockedHosts[addr.IP.String()] || ipBlocked(addr.IP) {
			return errInvalidURL
		}
	}
	return nil
}
