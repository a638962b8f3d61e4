package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const sampleYAML = `
project: demo-project
zone: us-central1-a
active:
  instance: web-a
  address: 10.128.0.2
standby:
  instance: web-b
  address: 10.128.0.3
  ssh_host: 34.1.2.3
network:
  alias_range: 10.128.0.100/32
run:
  iterations: 5
  failure_policy: tolerate
  settle_delay: 15s
budgets:
  stop: 90s
remote:
  ssh_user: drill
  ssh_key_file: /home/drill/.ssh/id_ed25519
  insecure_ignore_host_key: true
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() *Config {
	c := DefaultConfig()
	c.Project = "demo-project"
	c.Zone = "us-central1-a"
	c.Active = NodeConfig{Instance: "web-a", Address: "10.128.0.2"}
	c.Standby = NodeConfig{Instance: "web-b", Address: "10.128.0.3"}
	c.Network.AliasRange = "10.128.0.100/32"
	c.Remote.SSHUser = "drill"
	c.Remote.SSHKeyFile = "/tmp/key"
	c.Remote.InsecureIgnoreHostKey = true
	return c
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Run.Iterations != DefaultIterations {
		t.Errorf("expected %d iterations, got %d", DefaultIterations, c.Run.Iterations)
	}
	if c.Run.FailurePolicy != "abort" {
		t.Errorf("expected abort policy, got %q", c.Run.FailurePolicy)
	}
	if c.Probe.StatePollInterval != time.Second {
		t.Errorf("expected 1s state poll interval, got %v", c.Probe.StatePollInterval)
	}
	if c.Probe.AdminPort != 22 {
		t.Errorf("expected admin port 22, got %d", c.Probe.AdminPort)
	}
	if c.Run.StrictFallback {
		t.Error("expected unconditional fallback tally by default")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, "drill.yaml", sampleYAML)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Run.Iterations != 5 {
		t.Errorf("expected 5 iterations, got %d", c.Run.Iterations)
	}
	if c.Run.SettleDelay != 15*time.Second {
		t.Errorf("expected 15s settle delay, got %v", c.Run.SettleDelay)
	}
	if c.Budgets.Stop != 90*time.Second {
		t.Errorf("expected 90s stop budget, got %v", c.Budgets.Stop)
	}
	if c.Budgets.Failover != DefaultFailoverBudget {
		t.Errorf("expected default failover budget to survive, got %v", c.Budgets.Failover)
	}
	if c.Standby.SSHHost != "34.1.2.3" {
		t.Errorf("unexpected standby ssh host %q", c.Standby.SSHHost)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "drill.yml", sampleYAML)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")
	t.Setenv("ZONE", "europe-west1-b")
	t.Setenv("FAILOVERDRILL_ITERATIONS", "7")
	t.Setenv("FAILOVERDRILL_STRICT_FALLBACK", "true")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Project != "env-project" || c.Zone != "europe-west1-b" {
		t.Errorf("expected env project and zone, got %q %q", c.Project, c.Zone)
	}
	if c.Run.Iterations != 7 {
		t.Errorf("expected 7 iterations, got %d", c.Run.Iterations)
	}
	if !c.Run.StrictFallback {
		t.Error("expected strict fallback from environment")
	}
}

func TestReadAppliesEnvironmentWithoutFile(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")
	t.Setenv("FAILOVERDRILL_ITERATIONS", "9")

	c, err := Read("")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if c.Project != "env-project" {
		t.Errorf("expected env-project, got %q", c.Project)
	}
	if c.Run.Iterations != 9 {
		t.Errorf("expected 9 iterations, got %d", c.Run.Iterations)
	}
	// Read leaves validation to the caller; nodes are still missing here.
	if err := c.Validate(); err == nil {
		t.Error("expected incomplete config to fail validation")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unsupported extension", "drill.toml", "project = 'x'"},
		{"malformed yaml", "drill.yaml", "project: [unterminated"},
		{"invalid content", "drill.yaml", "run:\n  iterations: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.file, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"missing project", func(c *Config) { c.Project = "" }, "project"},
		{"missing zone", func(c *Config) { c.Zone = "" }, "zone"},
		{"missing standby", func(c *Config) { c.Standby.Instance = "" }, "standby instance"},
		{"same instance", func(c *Config) { c.Standby.Instance = "web-a" }, "different instances"},
		{"bad alias range", func(c *Config) { c.Network.AliasRange = "10.0.0.300/32" }, "invalid alias range"},
		{"zero iterations", func(c *Config) { c.Run.Iterations = 0 }, "iterations"},
		{"unknown policy", func(c *Config) { c.Run.FailurePolicy = "retry" }, "failure policy"},
		{"zero budget", func(c *Config) { c.Budgets.Fallback = 0 }, "fallback budget"},
		{"fast state polling", func(c *Config) { c.Probe.StatePollInterval = 500 * time.Millisecond }, "at least 1s"},
		{"bad app port", func(c *Config) { c.Probe.AppPort = 70000 }, "app port"},
		{"missing ssh user", func(c *Config) { c.Remote.SSHUser = "" }, "ssh user"},
		{"no host key policy", func(c *Config) { c.Remote.InsecureIgnoreHostKey = false }, "known_hosts"},
		{"bad exporter", func(c *Config) { c.Telemetry.ExporterType = "zipkin" }, "exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSnapshotRoundTrips(t *testing.T) {
	c := validConfig()
	data, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !strings.Contains(string(data), "stop: 2m0s") {
		t.Errorf("expected durations rendered as strings, got:\n%s", data)
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if back.Budgets.Stop != c.Budgets.Stop || back.Active != c.Active {
		t.Errorf("snapshot did not round trip: %+v", back)
	}
}
