package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
const (
	DomainAssertion = "pagestate/assertion/v" + CodecVersion
	DomainState     = "pagestate/state/v" + CodecVersion
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AssertionKey computes the canonical key for an assertion of the given kind
// and arguments. The hashed form is the canonical JSON array [kind, args], so
// argument boundaries are explicit and ("a","bc") never meets ("ab","c").
//
// The result value is deliberately not an input: two sessions that observed
// the same fact with different values share a key and can be compared.
func AssertionKey(kind Kind, args IRArray) (string, error) {
	if args == nil {
		args = IRArray{}
	}
	canonical, err := MarshalCanonical(IRArray{IRString(kind), args})
	if err != nil {
		return "", fmt.Errorf("AssertionKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAssertion, canonical), nil
}

// MustAssertionKey is like AssertionKey but panics on error.
// Use only in tests or when args are known to be valid.
func MustAssertionKey(kind Kind, args IRArray) string {
	key, err := AssertionKey(kind, args)
	if err != nil {
		panic(err)
	}
	return key
}

// StateID derives the stable identifier of a named state within a generator.
// The same generator id and state name always produce the same id, so
// persisted snapshots line up across processes.
func StateID(generatorID, name string) string {
	// With valid UTF-8 both inputs are plain strings; canonical marshaling
	// cannot fail.
	canonical, _ := MarshalCanonical(IRArray{
		IRString(strings.ToValidUTF8(generatorID, "\uFFFD")),
		IRString(strings.ToValidUTF8(name, "\uFFFD")),
	})
	return hashWithDomain(DomainState, canonical)[:32]
}
