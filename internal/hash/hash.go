// Package hash fingerprints content summaries for use as cache keys.
//
// A summary is a plain data structure describing the content being cached,
// not its rendered bytes. The fingerprint is deliberately short: 8 hex
// characters keep token identifiers readable, and the collision risk at that
// length is an accepted tradeoff for derived cache data.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Length is the fingerprint length in hex characters.
const Length = 8

// Summary computes the fingerprint of an arbitrary summary value. The value
// is serialized canonically (map keys sorted, no incidental whitespace) so
// that structurally identical summaries always produce identical
// fingerprints.
func Summary(summary interface{}) (string, error) {
	canonical, err := canonicalize(summary)
	if err != nil {
		return "", fmt.Errorf("canonicalizing summary: %w", err)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:Length], nil
}

// canonicalize renders a value into a stable textual form. It round-trips
// through encoding/json so that struct, map and scalar inputs all normalize
// to the same shape, then re-serializes maps with sorted keys.
func canonicalize(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}

	var b strings.Builder
	writeCanonical(&b, generic)
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			out, _ := json.Marshal(k)
			b.Write(out)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		out, _ := json.Marshal(val)
		b.Write(out)
	}
}
