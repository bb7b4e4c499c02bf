// Package integrity produces and validates canonical fingerprints over
// structured data. Every ledger entry is bound to one of these digests so
// tampering with stored data is detectable by recomputation.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "fiscus/pkg/domain-errors"
)

// Algorithm selects the digest function for Fingerprint.
type Algorithm string

const (
	// AlgorithmKeccak256 is the default fingerprint algorithm.
	AlgorithmKeccak256 Algorithm = "keccak256"
	// AlgorithmSHA256 is the explicitly selectable alternative.
	AlgorithmSHA256 Algorithm = "sha256"
)

// hexDigestLen is the length of a 256-bit digest in hex characters.
const hexDigestLen = 64

var fingerprintPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// Canonicalize serializes v to a deterministic UTF-8 string: object keys
// sorted lexicographically at every nesting level, arrays in order. Two
// semantically identical values produce byte-identical output regardless of
// construction order, which is what makes fingerprints comparable across
// independent callers.
func Canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "data is not serializable")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numeric literals intact instead of round-tripping through float64

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "canonicalization round-trip failed")
	}

	var b strings.Builder
	if err := writeCanonical(&b, tree); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "encode object key")
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case json.Number:
		b.WriteString(t.String())
		return nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode scalar")
		}
		b.Write(raw)
		return nil
	}
}

// Fingerprint hashes the canonical form of v and returns a normalized digest
// (0x + 64 lowercase hex characters).
func Fingerprint(v any, alg Algorithm) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}

	var digest []byte
	switch alg {
	case AlgorithmKeccak256, "":
		h := sha3.NewLegacyKeccak256()
		h.Write([]byte(canonical))
		digest = h.Sum(nil)
	case AlgorithmSHA256:
		sum := sha256.Sum256([]byte(canonical))
		digest = sum[:]
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported fingerprint algorithm %q", alg)
	}

	return Normalize(hex.EncodeToString(digest)), nil
}

// Normalize coerces a hash-like string into the canonical fingerprint form:
// optional 0x prefix stripped, lowercased, left-padded with zeros to 64 hex
// characters (truncated if longer), then re-prefixed with 0x. Padding should
// never trigger for a proper 256-bit digest.
func Normalize(hash string) string {
	h := strings.TrimPrefix(strings.TrimSpace(hash), "0x")
	h = strings.TrimPrefix(h, "0X")
	h = strings.ToLower(h)

	if len(h) < hexDigestLen {
		h = strings.Repeat("0", hexDigestLen-len(h)) + h
	} else if len(h) > hexDigestLen {
		h = h[:hexDigestLen]
	}
	return "0x" + h
}

// IsValid reports whether the string is exactly a normalized fingerprint.
func IsValid(hash string) bool {
	return fingerprintPattern.MatchString(hash)
}

// Compare reports whether two hashes are equal after independently
// normalizing both sides. A mismatch is reported to the caller, never
// silently coerced; callers decide whether it means tampering.
func Compare(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
