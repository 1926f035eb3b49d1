package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveArchClass_DefaultMapping(t *testing.T) {
	tests := []struct {
		arch      string
		wantClass ArchitectureClass
		wantFound bool
	}{
		{"x86_64", ArchX86_64, true},
		{"amd64", ArchX86_64, true},
		{"aarch64", ArchAarch64, true},
		{"arm64", ArchAarch64, true},
		{"ppc64le", ArchPPC64LE, true},
		{"s390x", ArchS390X, true},
		{"riscv64", "", false},
	}
	for _, tt := range tests {
		class, ok := ResolveArchClass(DefaultArchitecturesMapping, tt.arch)
		assert.Equal(t, tt.wantFound, ok, "arch %q", tt.arch)
		assert.Equal(t, tt.wantClass, class, "arch %q", tt.arch)
	}
}

func TestResolveArchClass_NarrowedMapping(t *testing.T) {
	// A driver like docker that never registers an s390x class.
	narrowed := map[ArchitectureClass][]string{
		ArchX86_64:  {"x86_64", "amd64"},
		ArchAarch64: {"arm64", "aarch64"},
	}

	_, ok := ResolveArchClass(narrowed, "s390x")
	assert.False(t, ok)

	class, ok := ResolveArchClass(narrowed, "amd64")
	assert.True(t, ok)
	assert.Equal(t, ArchX86_64, class)
}
