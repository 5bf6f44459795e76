package secret

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("no more randomness")
}

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{1, 16, 32, 64, 128} {
		s, err := Generate(length)
		require.NoError(t, err)
		assert.Len(t, s, length)
		for _, c := range s {
			assert.True(t, strings.ContainsRune(alphabet, c), "unexpected character %q", c)
		}
	}
}

func TestGenerate_NoCollisions(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	prev := ""
	for i := 0; i < 10000; i++ {
		s, err := Generate(32)
		require.NoError(t, err)
		assert.NotEqual(t, prev, s)
		_, dup := seen[s]
		require.False(t, dup, "duplicate secret after %d generations", i)
		seen[s] = struct{}{}
		prev = s
	}
}

func TestGenerate_UsesWholeAlphabet(t *testing.T) {
	s, err := Generate(20000)
	require.NoError(t, err)
	for _, c := range alphabet {
		assert.True(t, strings.ContainsRune(s, c), "character %q never produced", c)
	}
}

func TestGenerate_InvalidLength(t *testing.T) {
	_, err := Generate(0)
	assert.Error(t, err)
}

func TestGenerate_EntropyFailure(t *testing.T) {
	orig := reader
	reader = failingReader{}
	t.Cleanup(func() { reader = orig })

	_, err := Generate(32)
	assert.ErrorIs(t, err, ErrEntropy)
}
