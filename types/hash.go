package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

// HashSize is the length of transaction and record hashes.
const HashSize = tmhash.Size

// Hash identifies a processed transaction.
type Hash [HashSize]byte

// HashFromBytes copies b into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromString decodes hex encoded Hash.
func HashFromString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %s", ErrInvalidHash, err)
	}
	return HashFromBytes(b)
}

// SumHash computes tmhash of bz.
func SumHash(bz []byte) Hash {
	var h Hash
	copy(h[:], tmhash.Sum(bz))
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is empty.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON encodes the hash as hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the hash from hex string.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := HashFromString(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
