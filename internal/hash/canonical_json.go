// Package hash provides canonical JSON encoding and the sha256 digests used
// for record identity and offline content hashing.
package hash

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
)

// CanonicalJSON re-encodes v with object keys sorted, no insignificant
// whitespace, and numbers in their original textual form. A json.RawMessage
// is canonicalized as-is; anything else is marshaled first.
func CanonicalJSON(v any) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal for canonicalization: %w", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode for canonicalization: trailing data after JSON value")
	}

	var b bytes.Buffer
	if err := encodeCanonical(&b, normalized); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// HashCanonicalJSON returns "sha256:<hex>" of the canonical form of v along
// with the canonical bytes.
func HashCanonicalJSON(v any) (string, []byte, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", nil, err
	}
	return DigestBytes(canonical), canonical, nil
}

func encodeCanonical(b *bytes.Buffer, v any) error {
	switch vv := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(vv))
	case json.Number:
		b.WriteString(vv.String())
	case string:
		return encodeString(b, vv)
	case []any:
		b.WriteByte('[')
		for i, item := range vv {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		b.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(vv)) {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeString(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := encodeCanonical(b, vv[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unexpected value of type %T", v)
	}
	return nil
}

func encodeString(b *bytes.Buffer, s string) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	b.Write(enc)
	return nil
}
