// Package config loads run parameters from a YAML file, the environment and flags.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bc-dunia/failoverdrill/internal/harness"
	"github.com/bc-dunia/failoverdrill/internal/otel"
)

// Config holds every parameter of a run. It is fixed once the run starts.
type Config struct {
	Project   string          `yaml:"project" json:"project"`
	Zone      string          `yaml:"zone" json:"zone"`
	Active    NodeConfig      `yaml:"active" json:"active"`
	Standby   NodeConfig      `yaml:"standby" json:"standby"`
	Network   NetworkConfig   `yaml:"network" json:"network"`
	Run       RunConfig       `yaml:"run" json:"run"`
	Budgets   BudgetConfig    `yaml:"budgets" json:"budgets"`
	Probe     ProbeConfig     `yaml:"probe" json:"probe"`
	Remote    RemoteConfig    `yaml:"remote" json:"remote"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

type NodeConfig struct {
	Instance string `yaml:"instance" json:"instance"`
	Address  string `yaml:"address" json:"address"`
	SSHHost  string `yaml:"ssh_host,omitempty" json:"ssh_host,omitempty"`
}

type NetworkConfig struct {
	AliasRange       string `yaml:"alias_range" json:"alias_range"`
	NetworkInterface string `yaml:"network_interface" json:"network_interface"`
}

type RunConfig struct {
	Iterations     int           `yaml:"iterations" json:"iterations"`
	FailurePolicy  string        `yaml:"failure_policy" json:"failure_policy"`
	StrictFallback bool          `yaml:"strict_fallback" json:"strict_fallback"`
	SettleDelay    time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

type BudgetConfig struct {
	Stop      time.Duration `yaml:"stop" json:"stop"`
	Failover  time.Duration `yaml:"failover" json:"failover"`
	Start     time.Duration `yaml:"start" json:"start"`
	Readiness time.Duration `yaml:"readiness" json:"readiness"`
	Fallback  time.Duration `yaml:"fallback" json:"fallback"`
}

type ProbeConfig struct {
	StatePollInterval time.Duration `yaml:"state_poll_interval" json:"state_poll_interval"`
	Interval          time.Duration `yaml:"interval" json:"interval"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	AppPort           int           `yaml:"app_port" json:"app_port"`
	AppPath           string        `yaml:"app_path" json:"app_path"`
	AdminPort         int           `yaml:"admin_port" json:"admin_port"`
	PingBinary        string        `yaml:"ping_binary" json:"ping_binary"`
}

type RemoteConfig struct {
	DegradeCommand        string        `yaml:"degrade_command" json:"degrade_command"`
	RestoreCommand        string        `yaml:"restore_command" json:"restore_command"`
	SSHUser               string        `yaml:"ssh_user" json:"ssh_user"`
	SSHKeyFile            string        `yaml:"ssh_key_file" json:"ssh_key_file"`
	SSHPort               int           `yaml:"ssh_port" json:"ssh_port"`
	KnownHostsFile        string        `yaml:"known_hosts_file" json:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`
	Timeout               time.Duration `yaml:"timeout" json:"timeout"`
}

type OutputConfig struct {
	LogFile      string `yaml:"log_file" json:"log_file"`
	EventsFile   string `yaml:"events_file" json:"events_file"`
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`

	// Retention prunes earlier runs from ArtifactsDir at startup. Zero keeps everything.
	Retention time.Duration `yaml:"retention" json:"retention"`
}

type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	ExporterType   string `yaml:"exporter_type" json:"exporter_type"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
}

// Load reads configPath (if set), applies environment overrides and validates.
func Load(configPath string) (*Config, error) {
	config, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Read layers configPath (if set) and the environment over the defaults
// without validating, so callers can apply further overrides first.
func Read(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)
	return config, nil
}

// DefaultConfig returns a configuration with every tunable at its default.
// Site-specific fields (project, zone, nodes, alias range, SSH identity) are empty.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			NetworkInterface: DefaultNetworkInterface,
		},
		Run: RunConfig{
			Iterations:    DefaultIterations,
			FailurePolicy: string(harness.PolicyAbort),
			SettleDelay:   DefaultSettleDelay,
		},
		Budgets: BudgetConfig{
			Stop:      DefaultStopBudget,
			Failover:  DefaultFailoverBudget,
			Start:     DefaultStartBudget,
			Readiness: DefaultReadinessBudget,
			Fallback:  DefaultFallbackBudget,
		},
		Probe: ProbeConfig{
			StatePollInterval: DefaultStatePollInterval,
			Interval:          DefaultProbeInterval,
			Timeout:           DefaultProbeTimeout,
			AppPort:           DefaultAppPort,
			AppPath:           "/",
			AdminPort:         DefaultAdminPort,
			PingBinary:        DefaultPingBinary,
		},
		Remote: RemoteConfig{
			DegradeCommand: "sudo systemctl stop nginx",
			RestoreCommand: "sudo systemctl start nginx",
			SSHPort:        22,
			Timeout:        DefaultSSHTimeout,
		},
		Output: OutputConfig{
			LogFile:      DefaultLogFile,
			ArtifactsDir: DefaultArtifactsDir,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ExporterType: "none",
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		config.Project = project
	}
	if zone := os.Getenv("GOOGLE_CLOUD_ZONE"); zone != "" {
		config.Zone = zone
	}
	if zone := os.Getenv("ZONE"); zone != "" {
		config.Zone = zone
	}

	if iterations := os.Getenv("FAILOVERDRILL_ITERATIONS"); iterations != "" {
		if n, err := strconv.Atoi(iterations); err == nil {
			config.Run.Iterations = n
		}
	}
	if policy := os.Getenv("FAILOVERDRILL_FAILURE_POLICY"); policy != "" {
		config.Run.FailurePolicy = policy
	}
	if strict := os.Getenv("FAILOVERDRILL_STRICT_FALLBACK"); strict != "" {
		if b, err := strconv.ParseBool(strict); err == nil {
			config.Run.StrictFallback = b
		}
	}

	if user := os.Getenv("FAILOVERDRILL_SSH_USER"); user != "" {
		config.Remote.SSHUser = user
	}
	if key := os.Getenv("FAILOVERDRILL_SSH_KEY_FILE"); key != "" {
		config.Remote.SSHKeyFile = key
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Telemetry.OTLPEndpoint = endpoint
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project cannot be empty")
	}
	if c.Zone == "" {
		return fmt.Errorf("zone cannot be empty")
	}

	for name, node := range map[string]NodeConfig{"active": c.Active, "standby": c.Standby} {
		if node.Instance == "" {
			return fmt.Errorf("%s instance cannot be empty", name)
		}
		if node.Address == "" {
			return fmt.Errorf("%s address cannot be empty", name)
		}
	}
	if c.Active.Instance == c.Standby.Instance {
		return fmt.Errorf("active and standby must be different instances: %s", c.Active.Instance)
	}

	if c.Network.AliasRange == "" {
		return fmt.Errorf("alias range cannot be empty")
	}
	if _, err := netip.ParsePrefix(c.Network.AliasRange); err != nil {
		return fmt.Errorf("invalid alias range %q: %w", c.Network.AliasRange, err)
	}

	if c.Run.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive")
	}
	if _, err := harness.ParseFailurePolicy(c.Run.FailurePolicy); err != nil {
		return err
	}
	if c.Run.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}

	budgets := map[string]time.Duration{
		"stop":      c.Budgets.Stop,
		"failover":  c.Budgets.Failover,
		"start":     c.Budgets.Start,
		"readiness": c.Budgets.Readiness,
		"fallback":  c.Budgets.Fallback,
	}
	for name, d := range budgets {
		if d <= 0 {
			return fmt.Errorf("%s budget must be positive", name)
		}
	}

	if c.Probe.StatePollInterval < time.Second {
		return fmt.Errorf("state poll interval must be at least 1s")
	}
	if c.Probe.Interval <= 0 || c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe interval and timeout must be positive")
	}
	for name, port := range map[string]int{"app": c.Probe.AppPort, "admin": c.Probe.AdminPort, "ssh": c.Remote.SSHPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
	}

	if c.Output.Retention < 0 {
		return fmt.Errorf("retention cannot be negative")
	}

	if c.Remote.DegradeCommand == "" || c.Remote.RestoreCommand == "" {
		return fmt.Errorf("degrade and restore commands cannot be empty")
	}
	if c.Remote.SSHUser == "" {
		return fmt.Errorf("ssh user cannot be empty")
	}
	if c.Remote.SSHKeyFile == "" {
		return fmt.Errorf("ssh key file cannot be empty")
	}
	if c.Remote.KnownHostsFile == "" && !c.Remote.InsecureIgnoreHostKey {
		return fmt.Errorf("known_hosts file is required unless insecure_ignore_host_key is set")
	}

	if _, err := otel.ParseExporterType(c.Telemetry.ExporterType); err != nil {
		return fmt.Errorf("invalid telemetry exporter: %w", err)
	}

	return nil
}

// Snapshot renders the effective configuration as YAML.
func (c *Config) Snapshot() ([]byte, error) {
	return yaml.Marshal(c)
}
