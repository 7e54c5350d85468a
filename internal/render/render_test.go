package render

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveB64RoundTrip(t *testing.T) {
	payload := []byte("fake png bytes")
	b64 := base64.StdEncoding.EncodeToString(payload)
	path := filepath.Join(t.TempDir(), "frames", "frame_s1_sh1_v0_abcd1234.png")

	require.NoError(t, SaveB64(b64, path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSaveB64Invalid(t *testing.T) {
	err := SaveB64("not!!base64", filepath.Join(t.TempDir(), "x.png"))
	assert.Error(t, err)
}

func TestDecodeB64(t *testing.T) {
	data, err := DecodeB64(base64.StdEncoding.EncodeToString([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = DecodeB64("%%%")
	assert.Error(t, err)
}
