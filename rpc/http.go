package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"campusbazaar/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeRejected       = -32010
)

// Server exposes the settlement runtime over JSON-RPC 2.0. Mutating methods
// require the bearer token configured through BAZAAR_RPC_TOKEN; read methods
// are open.
type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv("BAZAAR_RPC_TOKEN"))
	return &Server{node: node, authToken: token}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}

	switch req.Method {
	case "escrow_create":
		s.handleEscrowCreate(w, r, &req)
	case "escrow_fund":
		s.handleEscrowFund(w, r, &req)
	case "escrow_confirm":
		s.handleEscrowConfirm(w, r, &req)
	case "escrow_refund":
		s.handleEscrowRefund(w, r, &req)
	case "escrow_dispute":
		s.handleEscrowDispute(w, r, &req)
	case "escrow_resolve":
		s.handleEscrowResolve(w, r, &req)
	case "escrow_delete":
		s.handleEscrowDelete(w, r, &req)
	case "escrow_forceClose":
		s.handleEscrowForceClose(w, r, &req)
	case "escrow_get":
		s.handleEscrowGet(w, r, &req)
	case "reputation_optIn":
		s.handleReputationOptIn(w, r, &req)
	case "reputation_closeAccount":
		s.handleReputationCloseAccount(w, r, &req)
	case "reputation_verifyCollege":
		s.handleReputationVerifyCollege(w, r, &req)
	case "reputation_get":
		s.handleReputationGet(w, r, &req)
	case "reputation_totals":
		s.handleReputationTotals(w, r, &req)
	case "bazaar_getBalance":
		s.handleGetBalance(w, r, &req)
	case "bazaar_currentRound":
		writeResult(w, req.ID, s.node.CurrentRound())
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", fmt.Sprintf("unknown method %q", req.Method))
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
