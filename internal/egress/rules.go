// Package egress renders the nftables ruleset that fences a sandbox run's
// outbound traffic to the package index, the configured webhook host, and
// the configured DNS resolvers. It is a pure template producer: nothing in
// this module loads rules into the kernel or shells out to nft. Wiring the
// rendered ruleset into an actual network namespace is an external
// deployment concern, outside this service's core admission/triage loop.
package egress

import (
	"fmt"
	"strings"
	"text/template"
)

// Resolver looks up the IPv4 addresses for a hostname. Production callers
// pass net.LookupHost (filtered to IPv4); tests pass a static map.
type Resolver func(host string) ([]string, error)

const rulesTemplateSrc = `table inet snakehook {
  set allowed_tls_ips {
    type ipv4_addr
    elements = { {{ .AllowedIPs }} }
  }
  set dns_resolvers {
    type ipv4_addr
    elements = { {{ .DNSResolvers }} }
  }

  chain output {
    type filter hook output priority 0;
    policy drop;

    oifname "lo" accept
    ct state established,related accept

    ip daddr @dns_resolvers udp dport 53 accept
    ip daddr @dns_resolvers tcp dport 53 accept

    ip daddr @allowed_tls_ips tcp dport 443 accept
  }
}
`

var rulesTemplate = template.Must(template.New("nftables").Parse(rulesTemplateSrc))

type rulesData struct {
	AllowedIPs   string
	DNSResolvers string
}

// RenderRules builds the default-drop ruleset text allowlisting the
// package index, discordHost (the configured webhook's host), and
// dnsResolvers. Hostnames are resolved to IPv4 addresses via resolve;
// duplicate IPs across allowlisted hosts are collapsed, preserving first
// occurrence order the way the original template does.
func RenderRules(discordHost string, dnsResolvers []string, resolve Resolver) (string, error) {
	allowedHosts := []string{"pypi.org", "files.pythonhosted.org", discordHost}

	var ipSet []string
	seen := make(map[string]struct{})
	for _, host := range allowedHosts {
		ips, err := resolve(host)
		if err != nil {
			return "", fmt.Errorf("resolve %s for egress rules: %w", host, err)
		}
		for _, ip := range ips {
			if _, dup := seen[ip]; dup {
				continue
			}
			seen[ip] = struct{}{}
			ipSet = append(ipSet, ip)
		}
	}

	var buf strings.Builder
	data := rulesData{
		AllowedIPs:   strings.Join(ipSet, ", "),
		DNSResolvers: strings.Join(dnsResolvers, ", "),
	}
	if err := rulesTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render nftables rules: %w", err)
	}
	return buf.String(), nil
}

// NetResolver wraps lookup (in production, net.LookupHost) into a Resolver
// that returns only the IPv4 addresses lookup reports for host.
func NetResolver(lookup func(string) ([]string, error)) Resolver {
	return func(host string) ([]string, error) {
		addrs, err := lookup(host)
		if err != nil {
			return nil, err
		}
		var v4 []string
		for _, a := range addrs {
			if strings.Count(a, ":") == 0 {
				v4 = append(v4, a)
			}
		}
		return v4, nil
	}
}
