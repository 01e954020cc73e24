// Package allowlist decides which upstream hosts the proxy may reach.
package allowlist

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Policy is an immutable set of permitted upstream hostnames and, optionally,
// explicit ports. It is safe for concurrent use.
type Policy struct {
	hosts map[string]struct{}
	ports map[string]struct{}
}

// New builds a Policy from hostnames and explicit ports. Hostnames are
// normalised to lowercase ASCII; an entry that is not a bare hostname is an
// error. An empty ports list permits any port.
func New(hosts []string, ports []int) (*Policy, error) {
	p := &Policy{
		hosts: make(map[string]struct{}, len(hosts)),
		ports: make(map[string]struct{}, len(ports)),
	}

	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if !validEntry(h) {
			return nil, fmt.Errorf("allowlist: invalid host %q", h)
		}
		norm, ok := normalize(h)
		if !ok {
			return nil, fmt.Errorf("allowlist: invalid host %q", h)
		}
		p.hosts[norm] = struct{}{}
	}

	for _, port := range ports {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("allowlist: invalid port %d", port)
		}
		p.ports[strconv.Itoa(port)] = struct{}{}
	}

	return p, nil
}

// IsAllowed reports whether host exactly matches an allowed hostname.
// Matching is case-insensitive; there is no wildcard or subdomain matching.
func (p *Policy) IsAllowed(host string) bool {
	norm, ok := normalize(host)
	if !ok {
		return false
	}
	_, found := p.hosts[norm]
	return found
}

// PortAllowed reports whether an explicit URL port may be used. The empty
// string (scheme default port) is always allowed.
func (p *Policy) PortAllowed(port string) bool {
	if port == "" || len(p.ports) == 0 {
		return true
	}
	_, found := p.ports[port]
	return found
}

// Len returns the number of allowed hostnames.
func (p *Policy) Len() int {
	return len(p.hosts)
}

// idnaProfile maps internationalized labels to punycode. Hyphen and STD3
// character rules are off because DNS accepts names such as
// r3---sn-abc.googlevideo.com and my_host.example.com.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
	idna.CheckHyphens(false),
	idna.BidiRule(),
)

// normalize lowercases host. Only names with non-ASCII labels go through IDNA;
// ASCII names, IPv4 and IPv6 literals are compared as given.
func normalize(host string) (string, bool) {
	host = strings.ToLower(host)
	if host == "" {
		return "", false
	}
	if isASCII(host) {
		return host, true
	}
	ascii, err := idnaProfile.ToASCII(host)
	if err != nil || ascii == "" {
		return "", false
	}
	return ascii, true
}

// validEntry rejects configured entries that are URLs, host:port pairs or
// patterns rather than a bare hostname or IP literal.
func validEntry(h string) bool {
	if h == "" || strings.ContainsAny(h, "/@*?#[] \t") {
		return false
	}
	if strings.Contains(h, ":") {
		addr, err := netip.ParseAddr(h)
		return err == nil && addr.Is6()
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
