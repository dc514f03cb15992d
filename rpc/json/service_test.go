package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/programs/system"
	"github.com/rollkit/rollcore/rollupdb"
	"github.com/rollkit/rollcore/types"
)

func getHandler(t *testing.T) (http.Handler, *mockBackend) {
	t.Helper()
	b := &mockBackend{}
	handler, err := GetHTTPHandler(b, log.TestingLogger())
	require.NoError(t, err)
	return handler, b
}

func call(t *testing.T, handler http.Handler, method string, args interface{}, result interface{}) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return json2.DecodeClientResponse(resp.Body, result)
}

func signedTx(t *testing.T) *types.Transaction {
	priv := ed25519.GenPrivKey()
	from := types.PublicKeyFromPubKey(priv.PubKey().(ed25519.PubKey))
	tx := types.NewTransaction([]types.PublicKey{from}, 0, system.Transfer(from, types.PublicKey{1}, 5))
	require.NoError(t, tx.Sign(priv))
	return tx
}

func TestSubmitTransaction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	handler, b := getHandler(t)

	tx := signedTx(t)
	bz, err := tx.MarshalBinary()
	require.NoError(err)
	b.On("SubmitTransaction", mock.Anything, []byte("key")).Return(tx.Hash(), nil).Once()

	var resp TransactionResponse
	require.NoError(call(t, handler, "submit_transaction", &SubmitTransactionArgs{Transaction: bz, Key: []byte("key")}, &resp))
	assert.True(resp.Success)
	require.NotNil(resp.Hash)
	assert.Equal(tx.Hash(), *resp.Hash)

	b.On("SubmitTransaction", mock.Anything, mock.Anything).Return(types.Hash{}, fmt.Errorf("%w: no signers", types.ErrInvalidTransaction)).Once()
	resp = TransactionResponse{}
	require.NoError(call(t, handler, "submit_transaction", &SubmitTransactionArgs{Transaction: bz}, &resp))
	assert.False(resp.Success)
	assert.Equal(types.CodeInvalidTransaction, resp.Code)
	assert.Contains(resp.Error, "no signers")

	err = call(t, handler, "submit_transaction", &SubmitTransactionArgs{Transaction: []byte("garbage")}, &resp)
	assert.Error(err)
	b.AssertExpectations(t)
}

func TestGetTransaction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	handler, b := getHandler(t)

	tx := signedTx(t)
	record := &types.ProcessedTransaction{Index: 4, Hash: tx.Hash(), Transaction: tx, Outcome: types.Outcome{Success: true}}
	b.On("GetTransaction", tx.Hash()).Return(record, nil)
	missing := types.SumHash([]byte("missing"))
	b.On("GetTransaction", missing).Return(nil, fmt.Errorf("%w: transaction", types.ErrNotFound))

	var resp TransactionResponse
	require.NoError(call(t, handler, "get_transaction", &GetTransactionArgs{Hash: tx.Hash()}, &resp))
	assert.True(resp.Success)
	require.NotNil(resp.Transaction)
	assert.Equal(uint64(4), resp.Transaction.Index)
	assert.Equal(tx.Signatures, resp.Transaction.Transaction.Signatures)

	resp = TransactionResponse{}
	require.NoError(call(t, handler, "get_transaction", &GetTransactionArgs{Hash: missing}, &resp))
	assert.False(resp.Success)
	assert.Equal(types.CodeNotFound, resp.Code)
}

func TestGetAccount(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	handler, b := getHandler(t)

	key := types.PublicKey{7}
	b.On("GetAccount", key).Return(&types.Account{Lamports: 70}, nil)
	b.On("GetAccount", types.PublicKey{8}).Return(nil, types.ErrNotFound)

	var resp AccountResponse
	require.NoError(call(t, handler, "get_account", &GetAccountArgs{Pubkey: key}, &resp))
	assert.True(resp.Success)
	assert.Equal(uint64(70), resp.Account.Lamports)

	resp = AccountResponse{}
	require.NoError(call(t, handler, "get_account", &GetAccountArgs{Pubkey: types.PublicKey{8}}, &resp))
	assert.False(resp.Success)
	assert.Equal(types.CodeNotFound, resp.Code)
}

func TestSettleAndStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	handler, b := getHandler(t)

	b.On("Settle").Return(&types.SettleProof{Range: types.LogRange{Start: 0, End: 3}}, nil).Once()
	b.On("Settle").Return(nil, node.ErrNothingToSettle).Once()
	b.On("Settle").Return(nil, types.ErrChannelClosed).Once()
	b.On("Status").Return(&node.Status{ChainID: "test", Slot: 1, Ledger: &rollupdb.Status{Processed: 3}}, nil)

	var settled SettleResponse
	require.NoError(call(t, handler, "settle", &EmptyArgs{}, &settled))
	assert.True(settled.Success)
	assert.Equal(uint64(3), settled.Proof.Range.End)

	settled = SettleResponse{}
	require.NoError(call(t, handler, "settle", &EmptyArgs{}, &settled))
	assert.False(settled.Success)
	assert.Nil(settled.Proof)
	assert.Equal(types.CodeNothingToSettle, settled.Code)

	err := call(t, handler, "settle", &EmptyArgs{}, &settled)
	var rpcErr *json2.Error
	require.True(errors.As(err, &rpcErr))
	assert.Contains(rpcErr.Message, types.ErrChannelClosed.Error())

	var status StatusResponse
	require.NoError(call(t, handler, "status", &EmptyArgs{}, &status))
	assert.Equal("test", status.ChainID)
	assert.Equal(uint64(3), status.Ledger.Processed)

	var health HealthResponse
	require.NoError(call(t, handler, "health", &EmptyArgs{}, &health))
	assert.Equal("ok", health.Status)
}

func TestDeployProgram(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	handler, b := getHandler(t)

	program, plain := types.PublicKey{3}, types.PublicKey{4}
	b.On("DeployProgram", program).Return(nil)
	b.On("DeployProgram", plain).Return(fmt.Errorf("%w: %s", node.ErrNotExecutable, plain))

	var resp DeployProgramResponse
	require.NoError(call(t, handler, "deploy_program", &DeployProgramArgs{Pubkey: program}, &resp))
	assert.True(resp.Success)

	resp = DeployProgramResponse{}
	require.NoError(call(t, handler, "deploy_program", &DeployProgramArgs{Pubkey: plain}, &resp))
	assert.False(resp.Success)
	assert.Equal(types.CodeNotExecutable, resp.Code)
	b.AssertExpectations(t)
}

func TestHealthEndpoint(t *testing.T) {
	assert := assert.New(t)
	handler, b := getHandler(t)
	b.On("Status").Return(&node.Status{}, nil).Once()
	b.On("Status").Return(nil, types.ErrChannelClosed).Once()

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(http.StatusOK, resp.Code)
	var health HealthResponse
	assert.NoError(json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal("ok", health.Status)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(http.StatusServiceUnavailable, resp.Code)
}

func TestUnknownMethod(t *testing.T) {
	handler, _ := getHandler(t)
	var resp HealthResponse
	assert.Error(t, call(t, handler, "no_such_method", &EmptyArgs{}, &resp))
}
