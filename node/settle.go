package node

import (
	"context"
	"time"

	tmjson "github.com/tendermint/tendermint/libs/json"

	"github.com/rollkit/rollcore/types"
)

// Settle commits the unsettled suffix of the processed log. The proof root is the merkle
// root over the record hashes of the range, the proof bytes hold the inclusion proof
// of its last record.
func (n *Node) Settle(ctx context.Context) (*types.SettleProof, error) {
	status, err := n.DB.Status(ctx)
	if err != nil {
		return nil, err
	}
	if status.SettledEnd >= status.Processed {
		return nil, ErrNothingToSettle
	}
	r := types.LogRange{Start: status.SettledEnd, End: status.Processed}
	records, err := n.DB.GetTransactionsInRange(ctx, r)
	if err != nil {
		return nil, err
	}
	root, err := records.Root()
	if err != nil {
		return nil, err
	}
	last, err := records.Proof(len(records) - 1)
	if err != nil {
		return nil, err
	}
	bz, err := tmjson.Marshal(last)
	if err != nil {
		return nil, err
	}
	proof := &types.SettleProof{
		Range:     r,
		Root:      root,
		Proof:     bz,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.DB.AddSettleProof(ctx, proof); err != nil {
		return nil, err
	}
	n.Logger.Info("settled range", "range", r, "root", root)
	return proof, nil
}
