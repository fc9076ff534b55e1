package plugin

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(id string) *Descriptor {
	return &Descriptor{
		ID:      id,
		Name:    "Test " + id,
		Version: "1.0.0",
		Type:    TypeExtension,
	}
}

// registerActive registers a descriptor and enables it so the hook and
// middleware engines see it as active
func registerActive(t *testing.T, registry *Registry, d *Descriptor) {
	t.Helper()
	require.NoError(t, registry.Register(d))
	require.NoError(t, registry.Enable(d.ID))
}

func TestRegistry_Register(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("registers with status inactive", func(t *testing.T) {
		registry := NewRegistry(logger)

		require.NoError(t, registry.Register(testDescriptor("alpha")))

		record, exists := registry.Get("alpha")
		require.True(t, exists)
		assert.Equal(t, StatusInactive, record.Status)
		assert.False(t, record.Enabled)
		assert.False(t, record.RegisteredAt.IsZero())
	})

	t.Run("auto-enable goes straight to active", func(t *testing.T) {
		registry := NewRegistry(logger)
		d := testDescriptor("alpha")
		d.AutoEnable = true

		require.NoError(t, registry.Register(d))

		record, _ := registry.Get("alpha")
		assert.Equal(t, StatusActive, record.Status)
		assert.True(t, record.Enabled)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		registry := NewRegistry(logger)

		require.NoError(t, registry.Register(testDescriptor("alpha")))
		err := registry.Register(testDescriptor("alpha"))

		require.Error(t, err)
		assert.True(t, IsCode(err, CodeAlreadyRegistered))
	})
}

func TestRegistry_Unregister(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("rejects enabled plugin", func(t *testing.T) {
		registry := NewRegistry(logger)
		registerActive(t, registry, testDescriptor("alpha"))

		err := registry.Unregister("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeRegistryError))
	})

	t.Run("removes disabled plugin", func(t *testing.T) {
		registry := NewRegistry(logger)
		registerActive(t, registry, testDescriptor("alpha"))
		require.NoError(t, registry.Disable("alpha"))

		require.NoError(t, registry.Unregister("alpha"))
		assert.False(t, registry.Has("alpha"))
	})

	t.Run("second unregister reports not found", func(t *testing.T) {
		registry := NewRegistry(logger)
		require.NoError(t, registry.Register(testDescriptor("alpha")))
		require.NoError(t, registry.Unregister("alpha"))

		err := registry.Unregister("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeNotFound))
	})
}

func TestRegistry_EnableDisable(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("enable activates", func(t *testing.T) {
		registry := NewRegistry(logger)
		require.NoError(t, registry.Register(testDescriptor("alpha")))

		require.NoError(t, registry.Enable("alpha"))
		assert.True(t, registry.IsActive("alpha"))
	})

	t.Run("disable deactivates without removing", func(t *testing.T) {
		registry := NewRegistry(logger)
		registerActive(t, registry, testDescriptor("alpha"))

		require.NoError(t, registry.Disable("alpha"))
		assert.False(t, registry.IsActive("alpha"))
		assert.True(t, registry.Has("alpha"))
	})

	t.Run("enable rejects errored plugin", func(t *testing.T) {
		registry := NewRegistry(logger)
		require.NoError(t, registry.Register(testDescriptor("alpha")))
		require.NoError(t, registry.SetStatus("alpha", StatusError))

		err := registry.Enable("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeRegistryError))
	})

	t.Run("enable reports unknown plugin", func(t *testing.T) {
		registry := NewRegistry(logger)
		err := registry.Enable("ghost")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeNotFound))
	})
}

func TestRegistry_List(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("sorts by descending priority weight", func(t *testing.T) {
		registry := NewRegistry(logger)

		low := testDescriptor("low-plugin")
		low.Priority = PriorityLow
		normal := testDescriptor("normal-plugin")
		high := testDescriptor("high-plugin")
		high.Priority = PriorityHigh

		require.NoError(t, registry.Register(low))
		require.NoError(t, registry.Register(normal))
		require.NoError(t, registry.Register(high))

		records := registry.List(Filter{})
		require.Len(t, records, 3)
		assert.Equal(t, "high-plugin", records[0].Descriptor.ID)
		assert.Equal(t, "normal-plugin", records[1].Descriptor.ID)
		assert.Equal(t, "low-plugin", records[2].Descriptor.ID)
	})

	t.Run("ties keep registration order", func(t *testing.T) {
		registry := NewRegistry(logger)
		require.NoError(t, registry.Register(testDescriptor("first")))
		require.NoError(t, registry.Register(testDescriptor("second")))
		require.NoError(t, registry.Register(testDescriptor("third")))

		records := registry.List(Filter{})
		require.Len(t, records, 3)
		assert.Equal(t, "first", records[0].Descriptor.ID)
		assert.Equal(t, "second", records[1].Descriptor.ID)
		assert.Equal(t, "third", records[2].Descriptor.ID)
	})

	t.Run("filters by type status and enabled", func(t *testing.T) {
		registry := NewRegistry(logger)

		auth := testDescriptor("auth-plugin")
		auth.Type = TypeAuthProvider
		registerActive(t, registry, auth)
		require.NoError(t, registry.Register(testDescriptor("ext-plugin")))

		byType := registry.List(Filter{Type: TypeAuthProvider})
		require.Len(t, byType, 1)
		assert.Equal(t, "auth-plugin", byType[0].Descriptor.ID)

		byStatus := registry.List(Filter{Status: StatusInactive})
		require.Len(t, byStatus, 1)
		assert.Equal(t, "ext-plugin", byStatus[0].Descriptor.ID)

		enabled := true
		byEnabled := registry.List(Filter{Enabled: &enabled})
		require.Len(t, byEnabled, 1)
		assert.Equal(t, "auth-plugin", byEnabled[0].Descriptor.ID)
	})

	t.Run("filters by search tags and categories", func(t *testing.T) {
		registry := NewRegistry(logger)

		d := testDescriptor("session-store")
		d.Description = "Persists session data"
		d.Tags = []string{"session", "storage"}
		d.Categories = []string{"persistence"}
		require.NoError(t, registry.Register(d))
		require.NoError(t, registry.Register(testDescriptor("other")))

		assert.Len(t, registry.List(Filter{Search: "SESSION"}), 1)
		assert.Len(t, registry.List(Filter{Tags: []string{"storage"}}), 1)
		assert.Len(t, registry.List(Filter{Tags: []string{"missing"}}), 0)
		assert.Len(t, registry.List(Filter{Categories: []string{"persistence"}}), 1)
	})
}

func TestRegistry_ResolveDependencies(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("resolves chain in topological order", func(t *testing.T) {
		registry := NewRegistry(logger)

		base := testDescriptor("base")
		mid := testDescriptor("mid")
		mid.Dependencies = []Dependency{{ID: "base"}}
		top := testDescriptor("top")
		top.Dependencies = []Dependency{{ID: "mid"}}

		require.NoError(t, registry.Register(base))
		require.NoError(t, registry.Register(mid))
		require.NoError(t, registry.Register(top))

		order, err := registry.ResolveDependencies("top")
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "mid"}, order)
	})

	t.Run("detects cycle with full chain", func(t *testing.T) {
		registry := NewRegistry(logger)

		a := testDescriptor("a")
		a.Dependencies = []Dependency{{ID: "b"}}
		b := testDescriptor("b")
		b.Dependencies = []Dependency{{ID: "c"}}
		c := testDescriptor("c")
		c.Dependencies = []Dependency{{ID: "a"}}

		require.NoError(t, registry.Register(a))
		require.NoError(t, registry.Register(b))
		require.NoError(t, registry.Register(c))

		_, err := registry.ResolveDependencies("a")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeCircularDependency))
		assert.Contains(t, err.Error(), "a -> b -> c -> a")
	})

	t.Run("reports missing dependency", func(t *testing.T) {
		registry := NewRegistry(logger)

		d := testDescriptor("alpha")
		d.Dependencies = []Dependency{{ID: "ghost"}}
		require.NoError(t, registry.Register(d))

		_, err := registry.ResolveDependencies("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeDependencyNotFound))
	})

	t.Run("reports incompatible version", func(t *testing.T) {
		registry := NewRegistry(logger)

		base := testDescriptor("base")
		base.Version = "2.0.0"
		d := testDescriptor("alpha")
		d.Dependencies = []Dependency{{ID: "base", Version: "^1.0.0"}}

		require.NoError(t, registry.Register(base))
		require.NoError(t, registry.Register(d))

		_, err := registry.ResolveDependencies("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeIncompatibleVersion))
	})

	t.Run("checks peer dependencies for presence and compatibility", func(t *testing.T) {
		registry := NewRegistry(logger)

		d := testDescriptor("alpha")
		d.PeerDependencies = []Dependency{{ID: "peer", Version: "^1.0.0"}}
		require.NoError(t, registry.Register(d))

		_, err := registry.ResolveDependencies("alpha")
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeDependencyNotFound))

		peer := testDescriptor("peer")
		peer.Version = "1.3.0"
		require.NoError(t, registry.Register(peer))

		order, err := registry.ResolveDependencies("alpha")
		require.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("diamond dependency resolves each node once", func(t *testing.T) {
		registry := NewRegistry(logger)

		base := testDescriptor("base")
		left := testDescriptor("left")
		left.Dependencies = []Dependency{{ID: "base"}}
		right := testDescriptor("right")
		right.Dependencies = []Dependency{{ID: "base"}}
		top := testDescriptor("top")
		top.Dependencies = []Dependency{{ID: "left"}, {ID: "right"}}

		require.NoError(t, registry.Register(base))
		require.NoError(t, registry.Register(left))
		require.NoError(t, registry.Register(right))
		require.NoError(t, registry.Register(top))

		order, err := registry.ResolveDependencies("top")
		require.NoError(t, err)
		require.Len(t, order, 3)
		assert.Equal(t, "base", order[0])
	})
}

func TestRegistry_Dependents(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	registry := NewRegistry(logger)

	base := testDescriptor("base")
	first := testDescriptor("first")
	first.Dependencies = []Dependency{{ID: "base"}}
	second := testDescriptor("second")
	second.Dependencies = []Dependency{{ID: "base"}}

	require.NoError(t, registry.Register(base))
	require.NoError(t, registry.Register(first))
	require.NoError(t, registry.Register(second))

	assert.Equal(t, []string{"first", "second"}, registry.Dependents("base"))
	assert.Empty(t, registry.Dependents("first"))
}
