package json

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/types"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) SubmitTransaction(ctx context.Context, tx *types.Transaction, keyBytes []byte) (types.Hash, error) {
	args := m.Called(tx, keyBytes)
	return args.Get(0).(types.Hash), args.Error(1)
}

func (m *mockBackend) GetTransaction(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error) {
	args := m.Called(hash)
	record, _ := args.Get(0).(*types.ProcessedTransaction)
	return record, args.Error(1)
}

func (m *mockBackend) GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error) {
	args := m.Called(key)
	acc, _ := args.Get(0).(*types.Account)
	return acc, args.Error(1)
}

func (m *mockBackend) Settle(ctx context.Context) (*types.SettleProof, error) {
	args := m.Called()
	proof, _ := args.Get(0).(*types.SettleProof)
	return proof, args.Error(1)
}

func (m *mockBackend) DeployProgram(ctx context.Context, id types.PublicKey) error {
	return m.Called(id).Error(0)
}

func (m *mockBackend) Status(ctx context.Context) (*node.Status, error) {
	args := m.Called()
	status, _ := args.Get(0).(*node.Status)
	return status, args.Error(1)
}
