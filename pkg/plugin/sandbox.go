package plugin

import (
	"context"
	"fmt"
	"time"
)

// Capability is an access grant negotiated with the sandbox boundary
type Capability string

const (
	CapabilityFilesystemRead  Capability = "filesystem:read"
	CapabilityFilesystemWrite Capability = "filesystem:write"
	CapabilityNetwork         Capability = "network"
	CapabilityProcess         Capability = "process"
)

// ValidCapabilities is the set of recognized capabilities
var ValidCapabilities = map[Capability]bool{
	CapabilityFilesystemRead:  true,
	CapabilityFilesystemWrite: true,
	CapabilityNetwork:         true,
	CapabilityProcess:         true,
}

// SecurityPolicy describes what a sandboxed execution may do and the
// resource budget it runs under
type SecurityPolicy struct {
	Capabilities []Capability
	MemoryLimit  int64
	CPUBudget    float64
	Timeout      time.Duration
}

// CapabilitySet answers capability checks for one policy
type CapabilitySet struct {
	granted map[Capability]bool
}

// NewCapabilitySet builds a capability set from a policy
func NewCapabilitySet(policy SecurityPolicy) *CapabilitySet {
	granted := make(map[Capability]bool, len(policy.Capabilities))
	for _, capability := range policy.Capabilities {
		granted[capability] = true
	}
	return &CapabilitySet{granted: granted}
}

// Check reports whether a capability is granted
func (s *CapabilitySet) Check(capability Capability) bool {
	return s.granted[capability]
}

// Require returns a SecurityError when a capability is missing
func (s *CapabilitySet) Require(capability Capability) error {
	if !s.Check(capability) {
		return newError(CodeSecurityError, "", "capability-check",
			fmt.Sprintf("capability denied: %s", capability))
	}
	return nil
}

// SandboxInstance is one isolated execution created under a policy
type SandboxInstance interface {
	// Execute runs plugin source inside the boundary and returns the
	// descriptor it produces.
	Execute(ctx context.Context, source string, raw []byte) (*Descriptor, error)

	// Destroy releases the isolated execution
	Destroy(ctx context.Context) error
}

// Sandbox is the abstract isolation boundary the loader delegates to.
// The concrete mechanism (process, VM, wasm runtime) lives outside the
// core; only the capability-negotiation contract is fixed here.
type Sandbox interface {
	Create(ctx context.Context, policy SecurityPolicy) (SandboxInstance, error)
}

// ValidatePolicy checks a policy for unknown capabilities and negative
// budgets
func ValidatePolicy(policy SecurityPolicy) error {
	for _, capability := range policy.Capabilities {
		if !ValidCapabilities[capability] {
			return newError(CodeSandboxError, "", "validate-policy",
				fmt.Sprintf("unrecognized capability: %s", capability))
		}
	}
	if policy.MemoryLimit < 0 {
		return newError(CodeSandboxError, "", "validate-policy", "memory limit cannot be negative")
	}
	if policy.CPUBudget < 0 {
		return newError(CodeSandboxError, "", "validate-policy", "cpu budget cannot be negative")
	}
	return nil
}
