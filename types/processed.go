package types

import (
	"fmt"
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// Outcome is the result of executing one transaction.
type Outcome struct {
	Success bool      `json:"success"`
	Code    ErrorCode `json:"code"`
	Error   string    `json:"error,omitempty"`
}

// OutcomeFromError builds an Outcome, nil meaning success.
func OutcomeFromError(err error) Outcome {
	if err == nil {
		return Outcome{Success: true}
	}
	return Outcome{
		Success: false,
		Code:    CodeOf(err),
		Error:   err.Error(),
	}
}

// Err reconstructs an error from the outcome.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	if sentinel := ErrorFromCode(o.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, o.Error)
	}
	return fmt.Errorf("%s", o.Error)
}

// ProcessedTransaction is an entry of the append-only processed-transaction log.
type ProcessedTransaction struct {
	Index        uint64         `json:"index"`
	Hash         Hash           `json:"hash"`
	Transaction  *Transaction   `json:"transaction"`
	Outcome      Outcome        `json:"outcome"`
	Accounts     []KeyedAccount `json:"accounts,omitempty"`
	ComputeUnits uint64         `json:"compute_units"`
	Logs         []string       `json:"logs,omitempty"`
}

// Clone returns a deep copy of the record.
func (p *ProcessedTransaction) Clone() *ProcessedTransaction {
	if p == nil {
		return nil
	}
	c := *p
	c.Transaction = p.Transaction.Clone()
	if p.Accounts != nil {
		c.Accounts = make([]KeyedAccount, len(p.Accounts))
		for i, acc := range p.Accounts {
			c.Accounts[i] = KeyedAccount{Pubkey: acc.Pubkey, Account: acc.Account.Clone()}
		}
	}
	c.Logs = cloneSlice(p.Logs)
	return &c
}

// RecordHash commits to the whole record, outcome included.
func (p *ProcessedTransaction) RecordHash() (Hash, error) {
	bz, err := tmjson.Marshal(p)
	if err != nil {
		return Hash{}, err
	}
	return SumHash(bz), nil
}

// MarshalBinary encodes the record.
func (p *ProcessedTransaction) MarshalBinary() ([]byte, error) {
	return tmjson.Marshal(p)
}

// UnmarshalBinary decodes the record.
func (p *ProcessedTransaction) UnmarshalBinary(data []byte) error {
	return tmjson.Unmarshal(data, p)
}

// LogRange is a half-open range [Start, End) of the processed-transaction log.
type LogRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of entries in the range.
func (r LogRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether index lies inside the range.
func (r LogRange) Contains(index uint64) bool {
	return index >= r.Start && index < r.End
}

// Overlaps reports whether two ranges share an index.
func (r LogRange) Overlaps(other LogRange) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r LogRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// SettleProof attests that a contiguous range of the processed log is final.
// Root is the merkle root over the record hashes of the range, Proof is opaque to the ledger.
type SettleProof struct {
	Range     LogRange         `json:"range"`
	Root      tmbytes.HexBytes `json:"root"`
	Proof     []byte           `json:"proof,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Clone returns a deep copy of the proof.
func (p *SettleProof) Clone() *SettleProof {
	if p == nil {
		return nil
	}
	c := *p
	c.Root = cloneSlice(p.Root)
	c.Proof = cloneSlice(p.Proof)
	return &c
}

// MarshalBinary encodes the proof.
func (p *SettleProof) MarshalBinary() ([]byte, error) {
	return tmjson.Marshal(p)
}

// UnmarshalBinary decodes the proof.
func (p *SettleProof) UnmarshalBinary(data []byte) error {
	return tmjson.Unmarshal(data, p)
}

// ProcessedTransactions is a contiguous slice of the processed log.
type ProcessedTransactions []*ProcessedTransaction

// RecordHashes returns the hashes committed to by a settlement root.
func (txs ProcessedTransactions) RecordHashes() ([][]byte, error) {
	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		h, err := tx.RecordHash()
		if err != nil {
			return nil, err
		}
		hashes[i] = h[:]
	}
	return hashes, nil
}

// Root computes the merkle root over the record hashes.
func (txs ProcessedTransactions) Root() (tmbytes.HexBytes, error) {
	hashes, err := txs.RecordHashes()
	if err != nil {
		return nil, err
	}
	return merkle.HashFromByteSlices(hashes), nil
}

// Proof returns a merkle inclusion proof for the i-th record.
// Panics if i < 0 or i >= len(txs)
func (txs ProcessedTransactions) Proof(i int) (RecordProof, error) {
	hashes, err := txs.RecordHashes()
	if err != nil {
		return RecordProof{}, err
	}
	root, proofs := merkle.ProofsFromByteSlices(hashes)
	return RecordProof{
		RootHash: root,
		Leaf:     hashes[i],
		Proof:    *proofs[i],
	}, nil
}

// RecordProof represents a merkle proof of the presence of a record under a settlement root.
type RecordProof struct {
	RootHash tmbytes.HexBytes `json:"root_hash"`
	Leaf     tmbytes.HexBytes `json:"leaf"`
	Proof    merkle.Proof     `json:"proof"`
}

// Validate verifies the proof against the given root.
func (rp RecordProof) Validate(root []byte) error {
	return rp.Proof.Verify(root, rp.Leaf)
}
