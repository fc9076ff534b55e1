package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitySet(t *testing.T) {
	policy := SecurityPolicy{
		Capabilities: []Capability{CapabilityFilesystemRead, CapabilityNetwork},
	}
	set := NewCapabilitySet(policy)

	t.Run("check reflects the grant list", func(t *testing.T) {
		assert.True(t, set.Check(CapabilityFilesystemRead))
		assert.True(t, set.Check(CapabilityNetwork))
		assert.False(t, set.Check(CapabilityFilesystemWrite))
		assert.False(t, set.Check(CapabilityProcess))
	})

	t.Run("require classifies denials as security errors", func(t *testing.T) {
		require.NoError(t, set.Require(CapabilityNetwork))

		err := set.Require(CapabilityProcess)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeSecurityError))
		assert.Contains(t, err.Error(), "process")
	})
}

func TestValidatePolicy(t *testing.T) {
	t.Run("accepts a well-formed policy", func(t *testing.T) {
		require.NoError(t, ValidatePolicy(SecurityPolicy{
			Capabilities: []Capability{CapabilityFilesystemRead, CapabilityFilesystemWrite},
			MemoryLimit:  64 << 20,
			CPUBudget:    50,
			Timeout:      10 * time.Second,
		}))
	})

	t.Run("rejects unknown capabilities", func(t *testing.T) {
		err := ValidatePolicy(SecurityPolicy{Capabilities: []Capability{"teleport"}})
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeSandboxError))
	})

	t.Run("rejects negative budgets", func(t *testing.T) {
		require.Error(t, ValidatePolicy(SecurityPolicy{MemoryLimit: -1}))
		require.Error(t, ValidatePolicy(SecurityPolicy{CPUBudget: -1}))
	})
}
