package store

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/rollkit/rollcore/types"
)

const (
	accountPrefix   = "a"
	processedPrefix = "p"
	indexPrefix     = "i"
	proofPrefix     = "s"
	metaPrefix      = "m"
	countKey        = "n"
)

func getAccountKey(key types.PublicKey) string {
	return GenerateKey([]string{accountPrefix, key.String()})
}

func getProcessedKey(index uint64) string {
	return GenerateKey([]string{processedPrefix, strconv.FormatUint(index, 10)})
}

func getIndexKey(hash types.Hash) string {
	return GenerateKey([]string{indexPrefix, hash.String()})
}

func getProofKey(start uint64) string {
	return GenerateKey([]string{proofPrefix, strconv.FormatUint(start, 10)})
}

func getMetaKey(key string) string {
	return GenerateKey([]string{metaPrefix, key})
}

func getCountKey() string {
	return GenerateKey([]string{countKey})
}

const indexLength = 8

func encodeIndex(index uint64) []byte {
	bz := make([]byte, indexLength)
	binary.BigEndian.PutUint64(bz, index)
	return bz
}

func decodeIndex(bz []byte) (uint64, error) {
	if len(bz) != indexLength {
		return 0, fmt.Errorf("invalid index length: %d (expected %d)", len(bz), indexLength)
	}
	return binary.BigEndian.Uint64(bz), nil
}
