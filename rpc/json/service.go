package json

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/types"
)

const serviceName = "rollcore"

func getServiceName(method string) string {
	return serviceName + "." + method
}

// Backend is the node surface exposed over RPC.
type Backend interface {
	SubmitTransaction(ctx context.Context, tx *types.Transaction, keyBytes []byte) (types.Hash, error)
	GetTransaction(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error)
	GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error)
	Settle(ctx context.Context) (*types.SettleProof, error)
	DeployProgram(ctx context.Context, id types.PublicKey) error
	Status(ctx context.Context) (*node.Status, error)
}

var _ Backend = (*node.Node)(nil)

// GetHTTPHandler returns the JSON-RPC handler. Requests are POSTed to "/"; GET /health
// is answered without going through the codec.
func GetHTTPHandler(b Backend, logger log.Logger) (http.Handler, error) {
	s := gorillarpc.NewServer()
	aliases := map[string]string{
		"submit_transaction": getServiceName("SubmitTransaction"),
		"get_transaction":    getServiceName("GetTransaction"),
		"get_account":        getServiceName("GetAccount"),
		"settle":             getServiceName("Settle"),
		"deploy_program":     getServiceName("DeployProgram"),
		"status":             getServiceName("Status"),
		"health":             getServiceName("Health"),
	}
	s.RegisterCodec(NewMapperCodec(aliases), "application/json")
	svc := &service{backend: b, logger: logger}
	if err := s.RegisterService(svc, serviceName); err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", svc.healthHTTP).Methods(http.MethodGet)
	r.Handle("/", s).Methods(http.MethodPost)
	return r, nil
}

type service struct {
	backend Backend
	logger  log.Logger
}

func (s *service) SubmitTransaction(req *http.Request, args *SubmitTransactionArgs, resp *TransactionResponse) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(args.Transaction); err != nil {
		return &json2.Error{Code: json2.E_INVALID_REQ, Message: "invalid transaction encoding: " + err.Error()}
	}
	hash, err := s.backend.SubmitTransaction(req.Context(), tx, args.Key)
	if err != nil {
		s.logger.Debug("submission rejected", "error", err)
		*resp = failedTransaction(err)
		return nil
	}
	*resp = TransactionResponse{Success: true, Hash: &hash}
	return nil
}

func (s *service) GetTransaction(req *http.Request, args *GetTransactionArgs, resp *TransactionResponse) error {
	record, err := s.backend.GetTransaction(req.Context(), args.Hash)
	if err != nil {
		*resp = failedTransaction(err)
		return nil
	}
	hash := record.Hash
	*resp = TransactionResponse{Success: true, Hash: &hash, Transaction: record}
	return nil
}

func failedTransaction(err error) TransactionResponse {
	return TransactionResponse{Error: err.Error(), Code: types.CodeOf(err)}
}

func (s *service) GetAccount(req *http.Request, args *GetAccountArgs, resp *AccountResponse) error {
	acc, err := s.backend.GetAccount(req.Context(), args.Pubkey)
	if err != nil {
		*resp = AccountResponse{Error: err.Error(), Code: types.CodeOf(err)}
		return nil
	}
	*resp = AccountResponse{Success: true, Account: acc}
	return nil
}

func (s *service) Settle(req *http.Request, args *EmptyArgs, resp *SettleResponse) error {
	proof, err := s.backend.Settle(req.Context())
	if err != nil {
		if !isRequestFailure(err) {
			return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
		}
		*resp = SettleResponse{Error: err.Error(), Code: types.CodeOf(err)}
		return nil
	}
	*resp = SettleResponse{Success: true, Proof: proof}
	return nil
}

func (s *service) DeployProgram(req *http.Request, args *DeployProgramArgs, resp *DeployProgramResponse) error {
	if err := s.backend.DeployProgram(req.Context(), args.Pubkey); err != nil {
		if !isRequestFailure(err) {
			return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
		}
		*resp = DeployProgramResponse{Error: err.Error(), Code: types.CodeOf(err)}
		return nil
	}
	s.logger.Info("deployed program", "program", args.Pubkey)
	*resp = DeployProgramResponse{Success: true}
	return nil
}

// isRequestFailure reports whether err describes the request rather than the node.
func isRequestFailure(err error) bool {
	switch types.ClassOf(types.CodeOf(err)) {
	case types.ClassValidation, types.ClassProtocol:
		return true
	}
	return false
}

func (s *service) Status(req *http.Request, args *EmptyArgs, resp *StatusResponse) error {
	status, err := s.backend.Status(req.Context())
	if err != nil {
		return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
	}
	resp.Status = status
	return nil
}

func (s *service) Health(req *http.Request, args *EmptyArgs, resp *HealthResponse) error {
	if _, err := s.backend.Status(req.Context()); err != nil {
		return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
	}
	resp.Status = "ok"
	return nil
}

func (s *service) healthHTTP(w http.ResponseWriter, r *http.Request) {
	var resp HealthResponse
	w.Header().Set("Content-Type", "application/json")
	if err := s.Health(r, &EmptyArgs{}, &resp); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = err.Error()
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}
