package md5

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashKnownVectors(t *testing.T) {
	t.Parallel()

	h := New()
	cases := map[string]string{
		"":            "d41d8cd98f00b204e9800998ecf8427e",
		"hello world": "5eb63bbbe01eeed093cb22bb8f5acdc3",
	}
	for input, want := range cases {
		got, err := h.Hash([]byte(input))
		require.NoError(t, err)
		require.Equal(t, want, got, "input %q", input)
	}
}
