package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/icc"
)

func TestResolveMissingProfileReturnsEmpty(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil)

	assert.Equal(t, "", r.Resolve(JapanColor2001Coated))
	assert.Equal(t, "", r.Resolve("Does Not Exist"))
	assert.False(t, r.Profile("Does Not Exist").Exists)
	assert.False(t, r.Check().Available)
}

func TestResolveDecodesHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sRGB.icc"), TestProfile(icc.RGBSpace), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "JapanColor2001Coated.icc"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "USWebCoatedSWOP.icc"), TestProfile(icc.CMYKSpace), 0o644))

	r := NewRegistry(dir, nil)

	assert.Equal(t, filepath.Join(dir, "sRGB.icc"), r.Resolve(SRGB))
	srgb := r.Profile(SRGB)
	assert.True(t, srgb.Exists)
	assert.Equal(t, "RGB", srgb.ColorSpace)
	assert.Equal(t, 3, srgb.Components)

	// present but undecodable files still resolve
	japan := r.Profile(JapanColor2001Coated)
	assert.True(t, japan.Exists)
	assert.Empty(t, japan.ColorSpace)
	assert.NotEmpty(t, r.Resolve(JapanColor2001Coated))

	swop := r.Profile(USWebCoatedSWOP)
	assert.Equal(t, "CMYK", swop.ColorSpace)
	assert.Equal(t, 4, swop.Components)

	check := r.Check()
	assert.True(t, check.Available)
	assert.True(t, check.Profiles[SRGB].Exists)
	assert.True(t, check.Profiles[USWebCoatedSWOP].Exists)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, JapanColor2001Coated, all[0].LogicalName)
}

func TestCustomFilesAbsolutePaths(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "custom.icc")
	require.NoError(t, os.WriteFile(abs, TestProfile(icc.RGBSpace), 0o644))

	r := NewRegistry("/nonexistent", map[string]string{"Custom": abs})
	assert.Equal(t, abs, r.Resolve("Custom"))
	assert.True(t, r.Check().Available)
}
