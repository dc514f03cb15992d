package types

import (
	"fmt"

	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	Pubkey     PublicKey `json:"pubkey"`
	IsSigner   bool      `json:"is_signer"`
	IsWritable bool      `json:"is_writable"`
}

// Instruction invokes a single program with an ordered list of accounts.
type Instruction struct {
	ProgramID PublicKey     `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Message is the signed part of a transaction.
// Signers[0] pays the transaction fee.
type Message struct {
	Signers      []PublicKey   `json:"signers"`
	Nonce        uint64        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`
}

// Transaction is an ordered list of instructions plus the signatures of every signer.
// Signatures[i] is produced by Message.Signers[i].
type Transaction struct {
	Signatures []Signature `json:"signatures"`
	Message    Message     `json:"message"`
}

// NewTransaction builds an unsigned transaction.
func NewTransaction(signers []PublicKey, nonce uint64, instructions ...Instruction) *Transaction {
	return &Transaction{
		Message: Message{
			Signers:      signers,
			Nonce:        nonce,
			Instructions: instructions,
		},
	}
}

// SignBytes returns the canonical bytes covered by signatures.
func (m *Message) SignBytes() ([]byte, error) {
	return tmjson.Marshal(m)
}

// Hash returns the transaction identifier: the hash of its first signature.
// Unsigned transactions are identified by the hash of the message.
func (tx *Transaction) Hash() Hash {
	if len(tx.Signatures) > 0 {
		return SumHash(tx.Signatures[0][:])
	}
	bz, err := tx.Message.SignBytes()
	if err != nil {
		return Hash{}
	}
	return SumHash(bz)
}

// Sign signs the message with given keys. Keys must be given in Message.Signers order.
func (tx *Transaction) Sign(keys ...ed25519.PrivKey) error {
	if len(keys) != len(tx.Message.Signers) {
		return fmt.Errorf("%w: expected %d keys, got %d", ErrInvalidSignature, len(tx.Message.Signers), len(keys))
	}
	bz, err := tx.Message.SignBytes()
	if err != nil {
		return err
	}
	sigs := make([]Signature, len(keys))
	for i, key := range keys {
		if PublicKeyFromPubKey(key.PubKey().(ed25519.PubKey)) != tx.Message.Signers[i] {
			return fmt.Errorf("%w: key %d does not match signer %s", ErrInvalidSignature, i, tx.Message.Signers[i])
		}
		sig, err := key.Sign(bz)
		if err != nil {
			return err
		}
		copy(sigs[i][:], sig)
	}
	tx.Signatures = sigs
	return nil
}

// VerifySignatures checks every signature against its signer.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signatures) != len(tx.Message.Signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrInvalidSignature, len(tx.Signatures), len(tx.Message.Signers))
	}
	bz, err := tx.Message.SignBytes()
	if err != nil {
		return err
	}
	for i, signer := range tx.Message.Signers {
		pub := ed25519.PubKey(signer.Bytes())
		if !pub.VerifySignature(bz, tx.Signatures[i][:]) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}

// ValidateBasic performs structural checks that do not depend on ledger state.
func (tx *Transaction) ValidateBasic() error {
	if len(tx.Message.Signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrInvalidTransaction)
	}
	if len(tx.Message.Instructions) == 0 {
		return fmt.Errorf("%w: no instructions", ErrInvalidTransaction)
	}
	if len(tx.Signatures) != len(tx.Message.Signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrInvalidTransaction, len(tx.Signatures), len(tx.Message.Signers))
	}
	signers := make(map[PublicKey]struct{}, len(tx.Message.Signers))
	for _, s := range tx.Message.Signers {
		if _, dup := signers[s]; dup {
			return fmt.Errorf("%w: duplicate signer %s", ErrInvalidTransaction, s)
		}
		signers[s] = struct{}{}
	}
	for i, ix := range tx.Message.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := signers[meta.Pubkey]; meta.IsSigner && !ok {
				return fmt.Errorf("%w: instruction %d requires signature of %s", ErrInvalidTransaction, i, meta.Pubkey)
			}
		}
	}
	return nil
}

// FeePayer returns the first signer.
func (tx *Transaction) FeePayer() PublicKey {
	if len(tx.Message.Signers) == 0 {
		return PublicKey{}
	}
	return tx.Message.Signers[0]
}

// AccountKeys returns every account the transaction touches, deduplicated in order of first
// appearance, with signer and writable flags merged across instructions.
// Program ids are not included; programs are resolved through the program cache.
func (tx *Transaction) AccountKeys() []AccountMeta {
	var keys []AccountMeta
	index := make(map[PublicKey]int)
	add := func(meta AccountMeta) {
		if i, ok := index[meta.Pubkey]; ok {
			keys[i].IsSigner = keys[i].IsSigner || meta.IsSigner
			keys[i].IsWritable = keys[i].IsWritable || meta.IsWritable
			return
		}
		index[meta.Pubkey] = len(keys)
		keys = append(keys, meta)
	}
	for i, s := range tx.Message.Signers {
		add(AccountMeta{Pubkey: s, IsSigner: true, IsWritable: i == 0})
	}
	for _, ix := range tx.Message.Instructions {
		for _, meta := range ix.Accounts {
			add(meta)
		}
	}
	return keys
}

// ProgramIDs returns the distinct programs invoked by the transaction.
func (tx *Transaction) ProgramIDs() []PublicKey {
	var ids []PublicKey
	seen := make(map[PublicKey]struct{})
	for _, ix := range tx.Message.Instructions {
		if _, ok := seen[ix.ProgramID]; ok {
			continue
		}
		seen[ix.ProgramID] = struct{}{}
		ids = append(ids, ix.ProgramID)
	}
	return ids
}

// MarshalBinary encodes the transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return tmjson.Marshal(tx)
}

// UnmarshalBinary decodes the transaction.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	return tmjson.Unmarshal(data, tx)
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}
	c := &Transaction{
		Signatures: cloneSlice(tx.Signatures),
		Message: Message{
			Signers: cloneSlice(tx.Message.Signers),
			Nonce:   tx.Message.Nonce,
		},
	}
	if tx.Message.Instructions != nil {
		c.Message.Instructions = make([]Instruction, len(tx.Message.Instructions))
		for i, ix := range tx.Message.Instructions {
			c.Message.Instructions[i] = Instruction{
				ProgramID: ix.ProgramID,
				Accounts:  cloneSlice(ix.Accounts),
				Data:      cloneSlice(ix.Data),
			}
		}
	}
	return c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
