package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"API_TOKEN", "DISCORD_WEBHOOK_URL", "MAX_CONCURRENCY", "QUEUE_LIMIT",
		"PER_IP_RATE_LIMIT", "PER_IP_RATE_WINDOW_SEC", "RUN_TIMEOUT_SEC",
		"RLIMIT_CPU_SEC", "RLIMIT_AS_MB", "CGROUP_PIDS_MAX", "RLIMIT_NOFILE",
		"PIP_CACHE_DIR", "MAX_DOWNLOAD_BYTES", "PACKAGE_DENYLIST",
		"DENYLIST_FILE", "DNS_RESOLVERS",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

// Missing required environment variables must fail closed, not silently
// default.
func TestLoad_MissingRequiredVars(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing API_TOKEN/DISCORD_WEBHOOK_URL")
	}
}

// With only the required vars set, every other field carries its
// documented default.
func TestLoad_DefaultsApplyWhenUnset(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	defer clearEnv(t)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.MaxConcurrency != 2 || s.QueueLimit != 20 || s.RunTimeoutSec != 45 {
		t.Errorf("defaults not applied: %+v", s)
	}
	if len(s.PackageDenylist) != 3 || s.PackageDenylist[0] != "torch" {
		t.Errorf("default denylist = %v", s.PackageDenylist)
	}
	if len(s.DNSResolvers) != 2 || s.DNSResolvers[0] != "1.1.1.1" {
		t.Errorf("default resolvers = %v", s.DNSResolvers)
	}
}

// A value below the documented minimum is rejected outright rather than
// silently clamped.
func TestLoad_RejectsBelowMinimum(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	os.Setenv("MAX_CONCURRENCY", "0")
	defer clearEnv(t)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for MAX_CONCURRENCY below minimum")
	}
}

// Env vars win over a JSON5 override file's values.
func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "override.json5")
	if err := os.WriteFile(path, []byte(`{
		// tuning knobs only, no secrets here
		max_concurrency: 5,
		queue_limit: 50,
	}`), 0o600); err != nil {
		t.Fatal(err)
	}

	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	os.Setenv("QUEUE_LIMIT", "99")
	defer clearEnv(t)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5 from file", s.MaxConcurrency)
	}
	if s.QueueLimit != 99 {
		t.Errorf("QueueLimit = %d, want 99 from env override", s.QueueLimit)
	}
}

// A nonexistent override file path is not an error; defaults and env
// still apply.
func TestLoad_MissingOverrideFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	defer clearEnv(t)

	if _, err := Load("/nonexistent/path.json5"); err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
}

// DNS_RESOLVERS rejects IPv6 addresses.
func TestLoad_RejectsIPv6Resolver(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	os.Setenv("DNS_RESOLVERS", "2001:db8::1")
	defer clearEnv(t)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for IPv6 resolver")
	}
}

func TestLoad_ParsesCustomResolversAndDenylist(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret")
	os.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/tok")
	os.Setenv("DNS_RESOLVERS", " 9.9.9.9 ,1.0.0.1")
	os.Setenv("PACKAGE_DENYLIST", "Torch, Evil-Pkg ,")
	defer clearEnv(t)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(s.DNSResolvers) != 2 || s.DNSResolvers[0] != "9.9.9.9" || s.DNSResolvers[1] != "1.0.0.1" {
		t.Errorf("resolvers = %v", s.DNSResolvers)
	}
	if len(s.PackageDenylist) != 2 || s.PackageDenylist[0] != "torch" || s.PackageDenylist[1] != "evil-pkg" {
		t.Errorf("denylist = %v", s.PackageDenylist)
	}
}
