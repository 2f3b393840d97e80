package secret

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenBindsAdditionalData(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))
	ct, err := Seal(key, []byte("pa55"), []byte("tenant-a"))
	require.NoError(t, err)

	plain, err := Open(key, ct, []byte("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, "pa55", string(plain))

	_, err = Open(key, ct, []byte("tenant-b"))
	require.Error(t, err)
	_, err = Open(key, ct[:4], nil)
	require.Error(t, err)
	_, err = Seal(nil, []byte("x"), nil)
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("")
	require.ErrorIs(t, err, ErrMissingKey)
	_, err = ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
	key, err := ParseKey(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 32))))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
