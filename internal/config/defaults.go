package config

import "time"

// Default run parameters.
const (
	DefaultIterations        = 10
	DefaultStopBudget        = 120 * time.Second
	DefaultFailoverBudget    = 120 * time.Second
	DefaultStartBudget       = 180 * time.Second
	DefaultReadinessBudget   = 300 * time.Second
	DefaultFallbackBudget    = 120 * time.Second
	DefaultSettleDelay       = 30 * time.Second
	DefaultStatePollInterval = time.Second
	DefaultProbeInterval     = 2 * time.Second
	DefaultProbeTimeout      = 3 * time.Second
	DefaultAppPort           = 80
	DefaultAdminPort         = 22
	DefaultSSHTimeout        = 30 * time.Second
	DefaultNetworkInterface  = "nic0"
	DefaultPingBinary        = "ping"
	DefaultLogFile           = "failover_results.log"
	DefaultArtifactsDir      = "artifacts"
)
