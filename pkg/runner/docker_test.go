package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alasbuild/testforge/pkg/template"
	"github.com/alasbuild/testforge/pkg/types"
)

func TestDockerDriver_Identity(t *testing.T) {
	d := NewDockerDriver("", "", "", "")
	assert.Equal(t, "docker", d.Name())
	assert.Equal(t, 0, d.Cost())
	assert.Equal(t, "docker", d.ConnectionType())
	assert.False(t, d.IsVM())
}

func TestDockerDriver_ArchitecturesMappingOmitsS390X(t *testing.T) {
	d := NewDockerDriver("", "", "", "")
	mapping := d.ArchitecturesMapping()

	_, ok := mapping["s390x"]
	assert.False(t, ok, "docker must not claim an s390x class")

	_, ok = types.ResolveArchClass(toArchMappingForTest(mapping), "s390x")
	assert.False(t, ok)

	class, ok := types.ResolveArchClass(toArchMappingForTest(mapping), "amd64")
	require.True(t, ok)
	assert.Equal(t, types.ArchX86_64, class)
}

func TestDockerDriver_RenderMainIncludesImageAndPlatform(t *testing.T) {
	d := NewDockerDriver("", "", "", "")
	out, err := d.RenderMain(template.RenderContext{
		DistName: "almalinux", DistVersion: "9", DistArch: "aarch64",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "almalinux:9")
	assert.Contains(t, out, "linux/arm64/v8")
}

func TestDockerDriver_RenderVariables(t *testing.T) {
	d := NewDockerDriver("", "", "", "")
	out, err := d.RenderVariables(template.RenderContext{DistName: "almalinux", DistVersion: "9"})
	require.NoError(t, err)
	assert.Contains(t, out, "almalinux:9")
}

// toArchMappingForTest mirrors dispatcher.go's toArchMapping adapter so this
// package's tests can exercise ResolveArchClass without importing scheduler.
func toArchMappingForTest(m map[string][]string) map[types.ArchitectureClass][]string {
	out := make(map[types.ArchitectureClass][]string, len(m))
	for k, v := range m {
		out[types.ArchitectureClass(k)] = v
	}
	return out
}
