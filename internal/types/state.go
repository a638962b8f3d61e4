package types

// LifecycleState is the provider-reported lifecycle state of a compute instance.
type LifecycleState string

const (
	StateProvisioning LifecycleState = "PROVISIONING"
	StateStaging      LifecycleState = "STAGING"
	StateRunning      LifecycleState = "RUNNING"
	StateStopping     LifecycleState = "STOPPING"
	StateSuspending   LifecycleState = "SUSPENDING"
	StateSuspended    LifecycleState = "SUSPENDED"
	StateRepairing    LifecycleState = "REPAIRING"
	StateTerminated   LifecycleState = "TERMINATED"
	StateUnknown      LifecycleState = "UNKNOWN"
)

// ParseLifecycleState maps a provider status string to a LifecycleState.
// Unrecognised values map to StateUnknown.
func ParseLifecycleState(s string) LifecycleState {
	switch st := LifecycleState(s); st {
	case StateProvisioning, StateStaging, StateRunning, StateStopping,
		StateSuspending, StateSuspended, StateRepairing, StateTerminated:
		return st
	default:
		return StateUnknown
	}
}

// ReachabilityResult classifies how far an endpoint is serving.
// Values are ordered: Unreachable < PartiallyUp < FullyServing.
type ReachabilityResult int

const (
	// Unreachable means no probe tier succeeded.
	Unreachable ReachabilityResult = iota
	// PartiallyUp means the host answered at network or transport layer
	// but the application did not.
	PartiallyUp
	// FullyServing means the application-layer check succeeded.
	FullyServing
)

func (r ReachabilityResult) String() string {
	switch r {
	case FullyServing:
		return "FULLY_SERVING"
	case PartiallyUp:
		return "PARTIALLY_UP"
	default:
		return "UNREACHABLE"
	}
}

// MarshalText encodes the result by name.
func (r ReachabilityResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
