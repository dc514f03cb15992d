package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/tendermint/tendermint/crypto/ed25519"
)

const (
	// PublicKeySize is the length of an account identifier.
	PublicKeySize = ed25519.PubKeySize
	// SignatureSize is the length of a transaction signature.
	SignatureSize = ed25519.SignatureSize
)

// PublicKey identifies an account. It is the raw ed25519 public key of the account owner.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// PublicKeyFromString decodes a base58 encoded PublicKey.
func PublicKeyFromString(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}
	return PublicKeyFromBytes(b)
}

// MustPublicKey is like PublicKeyFromString but panics on error. Used for well known program ids.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromString(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromPubKey converts an ed25519 public key into an account identifier.
func PublicKeyFromPubKey(pub ed25519.PubKey) PublicKey {
	var pk PublicKey
	copy(pk[:], pub)
	return pk
}

// String returns base58 representation of the key.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte {
	return append([]byte(nil), pk[:]...)
}

// IsZero reports whether pk is the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Less orders keys lexicographically.
func (pk PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(pk[:], other[:]) < 0
}

// MarshalJSON encodes the key as base58 string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes the key from base58 string.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PublicKeyFromString(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Signature is an ed25519 signature over the transaction message.
type Signature [SignatureSize]byte

// String returns base58 representation of the signature.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// MarshalJSON encodes the signature as base58 string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the signature from base58 string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := base58.Decode(str)
	if err != nil {
		return err
	}
	if len(b) != SignatureSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(b))
	}
	copy(s[:], b)
	return nil
}
