package integrity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Run("sorts object keys at every nesting level", func(t *testing.T) {
		got, err := Canonicalize(map[string]any{
			"b": 2,
			"a": map[string]any{"z": 1, "y": []any{3, 2, 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, `{"a":{"y":[3,2,1],"z":1},"b":2}`, got)
	})

	t.Run("preserves array order", func(t *testing.T) {
		got, err := Canonicalize([]int{3, 1, 2})
		require.NoError(t, err)
		assert.Equal(t, `[3,1,2]`, got)
	})

	t.Run("keeps numeric literals intact", func(t *testing.T) {
		got, err := Canonicalize(map[string]any{"amount": "50000.10", "score": 12.5})
		require.NoError(t, err)
		assert.Equal(t, `{"amount":"50000.10","score":12.5}`, got)
	})

	t.Run("structs canonicalize same as equivalent maps", func(t *testing.T) {
		type projection struct {
			Amount     string `json:"amount"`
			Department string `json:"department"`
		}
		fromStruct, err := Canonicalize(projection{Amount: "100", Department: "Engineering"})
		require.NoError(t, err)
		fromMap, err := Canonicalize(map[string]any{"department": "Engineering", "amount": "100"})
		require.NoError(t, err)
		assert.Equal(t, fromMap, fromStruct)
	})

	t.Run("rejects unserializable input", func(t *testing.T) {
		_, err := Canonicalize(map[string]any{"fn": func() {}})
		require.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("deterministic regardless of insertion order", func(t *testing.T) {
		a, err := Fingerprint(map[string]any{"a": 1, "b": 2}, AlgorithmKeccak256)
		require.NoError(t, err)
		b, err := Fingerprint(map[string]any{"b": 2, "a": 1}, AlgorithmKeccak256)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("all outputs are valid fingerprints", func(t *testing.T) {
		for _, input := range []any{
			map[string]any{"a": 1},
			[]string{"x", "y"},
			"plain string",
			42,
			nil,
		} {
			fp, err := Fingerprint(input, AlgorithmKeccak256)
			require.NoError(t, err)
			assert.True(t, IsValid(fp), "input %v produced %q", input, fp)
		}
	})

	t.Run("empty algorithm defaults to keccak256", func(t *testing.T) {
		def, err := Fingerprint("x", "")
		require.NoError(t, err)
		keccak, err := Fingerprint("x", AlgorithmKeccak256)
		require.NoError(t, err)
		assert.Equal(t, keccak, def)
	})

	t.Run("sha256 differs from keccak256", func(t *testing.T) {
		keccak, err := Fingerprint("x", AlgorithmKeccak256)
		require.NoError(t, err)
		sha, err := Fingerprint("x", AlgorithmSHA256)
		require.NoError(t, err)
		assert.NotEqual(t, keccak, sha)
		assert.True(t, IsValid(sha))
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := Fingerprint("x", Algorithm("md5"))
		require.Error(t, err)
	})

	t.Run("different data yields different fingerprints", func(t *testing.T) {
		a, err := Fingerprint(map[string]any{"amount": "100"}, AlgorithmKeccak256)
		require.NoError(t, err)
		b, err := Fingerprint(map[string]any{"amount": "101"}, AlgorithmKeccak256)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestNormalize(t *testing.T) {
	digest := strings.Repeat("ab", 32)

	t.Run("strips prefix and lowercases", func(t *testing.T) {
		assert.Equal(t, "0x"+digest, Normalize("0x"+strings.ToUpper(digest)))
		assert.Equal(t, "0x"+digest, Normalize(strings.ToUpper(digest)))
	})

	t.Run("left-pads short values", func(t *testing.T) {
		got := Normalize("0xff")
		assert.Equal(t, "0x"+strings.Repeat("0", 62)+"ff", got)
		assert.Len(t, got, 66)
	})

	t.Run("truncates long values", func(t *testing.T) {
		got := Normalize(digest + "ffff")
		assert.Equal(t, "0x"+digest, got)
	})

	t.Run("idempotent for all hash-like strings", func(t *testing.T) {
		for _, h := range []string{"0x" + digest, digest, "ABC", "0XDEAD", ""} {
			once := Normalize(h)
			assert.Equal(t, once, Normalize(once), h)
		}
	})
}

func TestIsValid(t *testing.T) {
	digest := strings.Repeat("0", 64)

	assert.True(t, IsValid("0x"+digest))
	assert.False(t, IsValid(digest))                            // missing prefix
	assert.False(t, IsValid("0x"+strings.Repeat("0", 63)))      // too short
	assert.False(t, IsValid("0x"+strings.Repeat("0", 63)+"G"))  // non-hex
	assert.False(t, IsValid("0x"+strings.ToUpper(digest[:63])+"A")) // uppercase
	assert.False(t, IsValid(""))
}

func TestCompare(t *testing.T) {
	digest := strings.Repeat("cd", 32)

	t.Run("equal after independent normalization", func(t *testing.T) {
		assert.True(t, Compare("0x"+digest, strings.ToUpper(digest)))
	})

	t.Run("mismatch is reported", func(t *testing.T) {
		other := strings.Repeat("ce", 32)
		assert.False(t, Compare(digest, other))
	})
}
