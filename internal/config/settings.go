// Package config loads the triage service's Settings from environment
// variables, with an optional local JSON5 file overlaying non-secret
// tuning knobs before env vars are applied. Env vars always win over the
// file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Settings is the fully resolved, immutable runtime configuration.
type Settings struct {
	APIToken          string `json:"-"`
	DiscordWebhookURL string `json:"-"`

	MaxConcurrency      int `json:"max_concurrency"`
	QueueLimit          int `json:"queue_limit"`
	PerIPRateLimit      int `json:"per_ip_rate_limit"`
	PerIPRateWindowSec  int `json:"per_ip_rate_window_sec"`
	RunTimeoutSec       int `json:"run_timeout_sec"`
	RlimitCPUSec        int `json:"rlimit_cpu_sec"`
	RlimitASMb          int `json:"rlimit_as_mb"`
	CgroupPidsMax       int `json:"cgroup_pids_max"`
	RlimitNofile        int `json:"rlimit_nofile"`
	MaxDownloadBytes    int `json:"max_download_bytes"`

	PipCacheDir     string   `json:"pip_cache_dir"`
	PackageDenylist []string `json:"package_denylist"`
	DenylistFile    string   `json:"-"`
	DNSResolvers    []string `json:"dns_resolvers"`
}

// Default returns the service's documented defaults. File overlay and env
// overrides are applied on top of this.
func Default() *Settings {
	return &Settings{
		MaxConcurrency:     2,
		QueueLimit:         20,
		PerIPRateLimit:     30,
		PerIPRateWindowSec: 60,
		RunTimeoutSec:      45,
		RlimitCPUSec:       30,
		RlimitASMb:         1024,
		CgroupPidsMax:      128,
		RlimitNofile:       1024,
		PipCacheDir:        "/var/cache/pip",
		MaxDownloadBytes:   300_000_000,
		PackageDenylist:    []string{"torch", "tensorflow", "jaxlib"},
		DNSResolvers:       []string{"1.1.1.1", "8.8.8.8"},
	}
}

// Load builds Settings from defaults, an optional JSON5 override file at
// path (skipped silently if it does not exist), and finally required and
// overriding environment variables. API_TOKEN and DISCORD_WEBHOOK_URL are
// required and never sourced from the file — they fail closed at startup
// when absent from the environment.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No override file: defaults stand until env overrides apply.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := s.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnvOverrides() error {
	token, err := requiredEnv("API_TOKEN")
	if err != nil {
		return err
	}
	webhook, err := requiredEnv("DISCORD_WEBHOOK_URL")
	if err != nil {
		return err
	}
	s.APIToken = token
	s.DiscordWebhookURL = webhook

	intFields := []struct {
		name    string
		dst     *int
		minimum int
	}{
		{"MAX_CONCURRENCY", &s.MaxConcurrency, 1},
		{"QUEUE_LIMIT", &s.QueueLimit, 1},
		{"PER_IP_RATE_LIMIT", &s.PerIPRateLimit, 1},
		{"PER_IP_RATE_WINDOW_SEC", &s.PerIPRateWindowSec, 1},
		{"RUN_TIMEOUT_SEC", &s.RunTimeoutSec, 1},
		{"RLIMIT_CPU_SEC", &s.RlimitCPUSec, 1},
		{"RLIMIT_AS_MB", &s.RlimitASMb, 128},
		{"CGROUP_PIDS_MAX", &s.CgroupPidsMax, 8},
		{"RLIMIT_NOFILE", &s.RlimitNofile, 64},
		{"MAX_DOWNLOAD_BYTES", &s.MaxDownloadBytes, 1},
	}
	for _, f := range intFields {
		if err := overrideIntEnv(f.name, f.dst, f.minimum); err != nil {
			return err
		}
	}

	if v := os.Getenv("PIP_CACHE_DIR"); v != "" {
		s.PipCacheDir = v
	}

	if v := os.Getenv("PACKAGE_DENYLIST"); v != "" {
		s.PackageDenylist = splitNonEmptyLower(v)
	}

	if v := os.Getenv("DENYLIST_FILE"); v != "" {
		s.DenylistFile = v
	}

	if v := os.Getenv("DNS_RESOLVERS"); v != "" {
		resolvers, err := parseDNSResolvers(v)
		if err != nil {
			return err
		}
		s.DNSResolvers = resolvers
	}
	if len(s.DNSResolvers) == 0 {
		return fmt.Errorf("DNS_RESOLVERS must contain at least one IP")
	}
	for _, r := range s.DNSResolvers {
		if err := validateIPv4(r); err != nil {
			return err
		}
	}

	return nil
}

func requiredEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable: %s", name)
	}
	return v, nil
}

func overrideIntEnv(name string, dst *int, minimum int) error {
	raw := os.Getenv(name)
	if raw == "" {
		if *dst < minimum {
			return fmt.Errorf("%s must be >= %d", name, minimum)
		}
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", name, err)
	}
	if value < minimum {
		return fmt.Errorf("%s must be >= %d", name, minimum)
	}
	*dst = value
	return nil
}

func splitNonEmptyLower(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDNSResolvers(raw string) ([]string, error) {
	resolvers := splitNonEmptyTrimmed(raw)
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("DNS_RESOLVERS must contain at least one IP")
	}
	for _, r := range resolvers {
		if err := validateIPv4(r); err != nil {
			return nil, err
		}
	}
	return resolvers, nil
}

func splitNonEmptyTrimmed(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateIPv4(s string) error {
	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("DNS_RESOLVERS: %q is not a valid IP address", s)
	}
	if ip.To4() == nil {
		return fmt.Errorf("DNS_RESOLVERS currently supports IPv4 addresses only, got %q", s)
	}
	return nil
}
