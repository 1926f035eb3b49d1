package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alasbuild/testforge/pkg/errors"
)

func TestStaticCatalog_Images(t *testing.T) {
	c := StaticCatalog{"a", "b"}
	names, err := c.Images(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestSelectImage_PicksMostRecentBuild(t *testing.T) {
	names := []string{
		"almalinux-9-x86_64.base_image.test_system.stable.b20250101-1",
		"almalinux-9-x86_64.base_image.test_system.stable.b20250601-1",
		"almalinux-9-x86_64.base_image.test_system.stable.b20250301-2",
	}

	got, err := selectImage(names, "almalinux", "9", "x86_64", "base_image", []string{"stable"})
	require.NoError(t, err)
	assert.Equal(t, "almalinux-9-x86_64.base_image.test_system.stable.b20250601-1", got)
}

func TestSelectImage_ExpandsThirtyTwoBitArches(t *testing.T) {
	names := []string{
		"almalinux-9-i686.base_image.test_system.stable.b20250601-1",
	}

	got, err := selectImage(names, "almalinux", "9", "i386", "base_image", []string{"stable"})
	require.NoError(t, err)
	assert.Equal(t, "almalinux-9-i686.base_image.test_system.stable.b20250601-1", got)
}

func TestSelectImage_NoMatchReturnsVMImageNotFound(t *testing.T) {
	_, err := selectImage(nil, "almalinux", "9", "x86_64", "base_image", []string{"stable"})
	require.Error(t, err)

	var notFound *apperrors.VMImageNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "almalinux", notFound.Search.DistName)
}

func TestSelectImage_ChannelMustMatch(t *testing.T) {
	names := []string{
		"almalinux-9-x86_64.base_image.test_system.beta.b20250601-1",
	}
	_, err := selectImage(names, "almalinux", "9", "x86_64", "base_image", []string{"stable"})
	require.Error(t, err)
}

func TestBuildImagePattern_DoubledForEmbedding(t *testing.T) {
	pattern := buildImagePattern("almalinux", "9", "x86_64", "base_image", []string{"stable"})
	doubled := doubledForEmbedding(pattern)
	assert.NotContains(t, pattern, `\\`)
	assert.Contains(t, doubled, `\\d`)
}
