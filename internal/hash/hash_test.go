package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		algo    string
		wantLen int
	}{
		{name: "default", algo: "", wantLen: 32},
		{name: "md5", algo: "MD5", wantLen: 32},
		{name: "sha256", algo: "sha256", wantLen: 64},
		{name: "xxhash", algo: " xxhash ", wantLen: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, err := New(tt.algo)
			require.NoError(t, err)
			got, err := h.Hash([]byte("https://example.com/"))
			require.NoError(t, err)
			require.Len(t, got, tt.wantLen)
		})
	}
}

func TestNewUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New("crc32")
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}
