package plugin

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	t.Run("merges nested maps field by field", func(t *testing.T) {
		base := map[string]any{
			"a": map[string]any{"x": 1, "y": 2},
		}
		override := map[string]any{
			"a": map[string]any{"y": 3},
		}

		merged := MergeConfig(base, override)

		assert.Equal(t, map[string]any{
			"a": map[string]any{"x": 1, "y": 3},
		}, merged)
	})

	t.Run("replaces arrays wholesale", func(t *testing.T) {
		base := map[string]any{"list": []any{1, 2, 3}}
		override := map[string]any{"list": []any{9}}

		merged := MergeConfig(base, override)
		assert.Equal(t, []any{9}, merged["list"])
	})

	t.Run("replaces scalars and mismatched shapes", func(t *testing.T) {
		base := map[string]any{"value": map[string]any{"deep": true}}
		override := map[string]any{"value": "flat"}

		merged := MergeConfig(base, override)
		assert.Equal(t, "flat", merged["value"])
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		base := map[string]any{"a": map[string]any{"x": 1}}
		override := map[string]any{"a": map[string]any{"y": 2}}

		merged := MergeConfig(base, override)
		merged["a"].(map[string]any)["x"] = 99

		assert.Equal(t, 1, base["a"].(map[string]any)["x"])
		assert.NotContains(t, base["a"].(map[string]any), "y")
	})

	t.Run("handles nil inputs", func(t *testing.T) {
		assert.Empty(t, MergeConfig(nil, nil))
		assert.Equal(t, map[string]any{"k": 1}, MergeConfig(map[string]any{"k": 1}, nil))
		assert.Equal(t, map[string]any{"k": 1}, MergeConfig(nil, map[string]any{"k": 1}))
	})
}

func TestFactory(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("builds a context with merged config", func(t *testing.T) {
		factory := NewFactory(logger, nil, nil, Collaborators{})

		d := testDescriptor("alpha")
		d.DefaultConfig = map[string]any{"timeout": 30, "nested": map[string]any{"a": 1, "b": 2}}

		pc, err := factory.Create(d, map[string]any{"nested": map[string]any{"b": 9}})
		require.NoError(t, err)

		assert.Equal(t, "alpha", pc.PluginID)
		assert.Equal(t, 30, pc.Config["timeout"])
		assert.Equal(t, map[string]any{"a": 1, "b": 9}, pc.Config["nested"])
		assert.NotNil(t, pc.Storage)
		assert.NotNil(t, pc.Events)
		assert.False(t, pc.CreatedAt().IsZero())
	})

	t.Run("rejects a second context for the same id", func(t *testing.T) {
		factory := NewFactory(logger, nil, nil, Collaborators{})

		_, err := factory.Create(testDescriptor("alpha"), nil)
		require.NoError(t, err)

		_, err = factory.Create(testDescriptor("alpha"), nil)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeAlreadyRegistered))
	})

	t.Run("destroy clears storage and event subscriptions", func(t *testing.T) {
		backend := NewMemoryBackend()
		bus := NewEventBus()
		factory := NewFactory(logger, backend, bus, Collaborators{})

		pc, err := factory.Create(testDescriptor("alpha"), nil)
		require.NoError(t, err)

		pc.Storage.Set("state", "live", 0)
		delivered := 0
		pc.Events.Subscribe("ping", func(_ string, _ any) { delivered++ })

		require.NoError(t, factory.Destroy("alpha"))

		assert.Empty(t, backend.Keys("alpha:"))
		bus.Emit("plugin:alpha:ping", nil)
		assert.Equal(t, 0, delivered)
		assert.Equal(t, 0, factory.Count())
	})

	t.Run("destroy of unknown context reports not found", func(t *testing.T) {
		factory := NewFactory(logger, nil, nil, Collaborators{})
		err := factory.Destroy("ghost")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeNotFound))
	})

	t.Run("contexts share collaborators", func(t *testing.T) {
		env := map[string]string{"REGION": "eu-west-1"}
		factory := NewFactory(logger, nil, nil, Collaborators{Environment: env})

		pc, err := factory.Create(testDescriptor("alpha"), nil)
		require.NoError(t, err)

		assert.Equal(t, "eu-west-1", pc.Env["REGION"])
		assert.Equal(t, env, pc.Collaborators().Environment)
	})
}

func TestUtils(t *testing.T) {
	var utils Utils

	id := utils.GenerateID()
	assert.Len(t, id, 36)

	short := utils.ShortID()
	assert.NotEmpty(t, short)
	assert.NotEqual(t, id, short)

	assert.False(t, utils.Now().IsZero())
}
