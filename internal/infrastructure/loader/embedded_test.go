package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/infrastructure/registry"
)

func embeddedPlugin(processID, version string) *FuncPlugin {
	return &FuncPlugin{
		Meta: process.NewMetadata(processID, version).
			Source(process.SourceEmbedded, "builtin").Build(),
	}
}

func TestEmbeddedLoader_Discover_RegistersStartupSet(t *testing.T) {
	reg := registry.New(nil)
	l := NewEmbeddedLoader(0, reg, nil,
		embeddedPlugin("builtin.noop", "1.0.0"),
		embeddedPlugin("builtin.echo", "1.0.0"))

	plugins, err := l.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, plugins, 2)
	assert.Equal(t, 2, reg.Size())
}

func TestEmbeddedLoader_Add_BeforeDiscover(t *testing.T) {
	reg := registry.New(nil)
	l := NewEmbeddedLoader(0, reg, nil)
	l.Add(embeddedPlugin("builtin.noop", "1.0.0"))

	plugins, err := l.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, plugins, 1)
}

func TestEmbeddedLoader_Load_MatchesIDAndVersion(t *testing.T) {
	reg := registry.New(nil)
	l := NewEmbeddedLoader(0, reg, nil,
		embeddedPlugin("builtin.noop", "1.0.0"),
		embeddedPlugin("builtin.noop", "2.0.0"))

	p, err := l.Load(context.Background(), process.Descriptor{
		ProcessID:  "builtin.noop",
		Version:    "2.0.0",
		SourceType: process.SourceEmbedded,
	})
	require.NoError(t, err)
	assert.Equal(t, "builtin.noop@2.0.0", p.Metadata().Key())

	// "latest" and empty versions return the first match.
	p, err = l.Load(context.Background(), process.Descriptor{
		ProcessID:  "builtin.noop",
		SourceType: process.SourceEmbedded,
	})
	require.NoError(t, err)
	assert.Equal(t, "builtin.noop", p.Metadata().ProcessID)

	_, err = l.Load(context.Background(), process.Descriptor{
		ProcessID:  "missing",
		SourceType: process.SourceEmbedded,
	})
	require.Error(t, err)
	assert.Equal(t, process.CodeProcessNotFound, process.CodeOf(err))
}

func TestEmbeddedLoader_Unload_RemovesFromRegistryOnly(t *testing.T) {
	reg := registry.New(nil)
	l := NewEmbeddedLoader(0, reg, nil, embeddedPlugin("builtin.noop", "1.0.0"))

	_, err := l.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reg.Size())

	require.NoError(t, l.Unload("builtin.noop"))
	assert.Equal(t, 0, reg.Size())

	// The in-binary instance survives and can be rediscovered.
	plugins, err := l.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, plugins, 1)

	assert.Error(t, l.Unload("missing"))
}
