package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Serialize renders a value to bytes for storage. DynamicPseudoType
// makes ctyjson embed the concrete type alongside the value, so the
// round trip loses nothing.
func Serialize(val cty.Value) ([]byte, error) {
	b, err := ctyjson.Marshal(val, cty.DynamicPseudoType)
	if err != nil {
		return nil, fmt.Errorf("serializing value: %w", err)
	}
	return b, nil
}

// Deserialize is the inverse of Serialize.
func Deserialize(raw []byte) (cty.Value, error) {
	val, err := ctyjson.Unmarshal(raw, cty.DynamicPseudoType)
	if err != nil {
		return cty.NilVal, fmt.Errorf("deserializing value: %w", err)
	}
	return val, nil
}

// Fingerprint returns the content hash of a value's serialized form.
func Fingerprint(val cty.Value) (string, error) {
	raw, err := Serialize(val)
	if err != nil {
		return "", err
	}
	return FingerprintBytes(raw), nil
}

// FingerprintBytes hashes already-serialized value bytes.
func FingerprintBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Stamp condenses a command's source text and the fingerprints of the
// inputs it consumed into a single hash. The caller fixes the input
// order (dimension order, then sorted reference names), so equal
// inputs always produce an equal stamp.
func Stamp(commandSrc string, inputs []string) string {
	h := sha256.New()
	h.Write([]byte(commandSrc))
	for _, in := range inputs {
		h.Write([]byte{0})
		h.Write([]byte(in))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewEntry builds an Entry from a value, computing its serialized form
// and fingerprint.
func NewEntry(val cty.Value, stamp, format string) (Entry, error) {
	raw, err := Serialize(val)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Raw:         raw,
		Fingerprint: FingerprintBytes(raw),
		Stamp:       stamp,
		Format:      format,
	}, nil
}

// Value deserializes the entry's stored value.
func (e Entry) Value() (cty.Value, error) {
	return Deserialize(e.Raw)
}
