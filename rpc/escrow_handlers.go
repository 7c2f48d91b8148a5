package rpc

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"

	"campusbazaar/core"
	"campusbazaar/core/types"
	"campusbazaar/crypto"
	"campusbazaar/native/common"
	"campusbazaar/native/escrow"
)

type createListingParams struct {
	Seller          string `json:"seller"`
	Title           string `json:"title"`
	Price           string `json:"price"`
	Category        string `json:"category"`
	CO2SavedGrams   uint64 `json:"co2SavedGrams"`
	EcoPointsValue  uint64 `json:"ecoPointsValue"`
	PlatformFeeAddr string `json:"platformFeeAddr"`
}

type listingCallParams struct {
	Caller  string `json:"caller"`
	ID      string `json:"id"`
	Reason  string `json:"reason,omitempty"`
	Verdict string `json:"verdict,omitempty"`
}

type listingView struct {
	ID             string `json:"id"`
	Seller         string `json:"seller"`
	Buyer          string `json:"buyer,omitempty"`
	Price          string `json:"price"`
	Title          string `json:"title"`
	Category       string `json:"category"`
	CO2SavedGrams  uint64 `json:"co2SavedGrams"`
	EcoPointsValue uint64 `json:"ecoPointsValue"`
	Status         string `json:"status"`
	CreatedAtRound uint64 `json:"createdAtRound"`
	FundedAtRound  uint64 `json:"fundedAtRound,omitempty"`
	DisputeReason  string `json:"disputeReason,omitempty"`
}

func listingToView(l *escrow.Listing) listingView {
	view := listingView{
		ID:             hex.EncodeToString(l.ID[:]),
		Seller:         crypto.NewAddress(crypto.BazaarPrefix, l.Seller[:]).String(),
		Price:          l.Price.String(),
		Title:          l.Title,
		Category:       l.Category,
		CO2SavedGrams:  l.CO2SavedGrams,
		EcoPointsValue: l.EcoPointsValue,
		Status:         l.Status.String(),
		CreatedAtRound: l.CreatedAtRound,
		FundedAtRound:  l.FundedAtRound,
		DisputeReason:  l.DisputeReason,
	}
	if l.Buyer != ([20]byte{}) {
		view.Buyer = crypto.NewAddress(crypto.BazaarPrefix, l.Buyer[:]).String()
	}
	return view
}

func parseBech32(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(addr)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseListingID(id string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(id)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, errors.New("listing id must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// submit funnels a group through the node and maps rejection causes onto
// JSON-RPC error codes.
func (s *Server) submit(w http.ResponseWriter, id interface{}, txs []*types.Transaction) bool {
	err := s.node.SubmitGroup(txs)
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusOK, id, codeNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrInvalidGroup), errors.Is(err, core.ErrBadNonce):
		writeError(w, http.StatusOK, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, common.ErrModulePaused):
		writeError(w, http.StatusOK, id, codeRejected, "module_paused", err.Error())
	default:
		writeError(w, http.StatusOK, id, codeRejected, "rejected", err.Error())
	}
	return false
}

// callTx builds a single instance-call transaction with the sender's next
// nonce filled in.
func (s *Server) callTx(sender [20]byte, selector string, target [32]byte, args ...string) (*types.Transaction, error) {
	nonce, err := s.node.GetNonce(sender)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Type:     types.TxTypeCall,
		Nonce:    nonce,
		Sender:   sender,
		Selector: selector,
		Target:   target,
		Args:     args,
	}, nil
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params createListingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseBech32(params.Seller)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, ok := new(big.Int).SetString(params.Price, 10); !ok {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", "price must be a base-10 integer")
		return
	}
	feeAddr, err := parseBech32(params.PlatformFeeAddr)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tx, err := s.callTx(seller, core.SelectorCreate, [32]byte{},
		params.Title,
		params.Price,
		params.Category,
		formatUint(params.CO2SavedGrams),
		formatUint(params.EcoPointsValue),
		hex.EncodeToString(feeAddr[:]),
	)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	id, err := core.DeriveListingID(tx)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	if !s.submit(w, req.ID, []*types.Transaction{tx}) {
		return
	}
	writeResult(w, req.ID, map[string]string{"id": hex.EncodeToString(id[:])})
}

func (s *Server) handleEscrowFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params listingCallParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseListingID(params.ID)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.node.GetListing(id)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeNotFound, "not_found", err.Error())
		return
	}
	call, err := s.callTx(buyer, core.SelectorFund, id)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	payment := &types.Transaction{
		Type:     types.TxTypePayment,
		Nonce:    call.Nonce,
		Sender:   buyer,
		Receiver: escrow.VaultAddress(id),
		Amount:   new(big.Int).Set(listing.Price),
	}
	if !s.submit(w, req.ID, []*types.Transaction{call, payment}) {
		return
	}
	writeResult(w, req.ID, map[string]bool{"funded": true})
}

// handleListingCall covers the single-transaction lifecycle operations that
// only differ in selector and trailing arguments.
func (s *Server) handleListingCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, selector string, argsFor func(listingCallParams) ([]string, error)) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params listingCallParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseListingID(params.ID)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	args, err := argsFor(params)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tx, err := s.callTx(caller, selector, id, args...)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	if !s.submit(w, req.ID, []*types.Transaction{tx}) {
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func noArgs(listingCallParams) ([]string, error) { return nil, nil }

func (s *Server) handleEscrowConfirm(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorConfirm, noArgs)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorRefund, noArgs)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorDispute, func(p listingCallParams) ([]string, error) {
		if p.Reason == "" {
			return nil, errors.New("reason is required")
		}
		return []string{p.Reason}, nil
	})
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorResolve, func(p listingCallParams) ([]string, error) {
		if p.Verdict != escrow.VerdictBuyer && p.Verdict != escrow.VerdictSeller {
			return nil, errors.New("verdict must be \"buyer\" or \"seller\"")
		}
		return []string{p.Verdict}, nil
	})
}

func (s *Server) handleEscrowDelete(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorDelete, noArgs)
}

func (s *Server) handleEscrowForceClose(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleListingCall(w, r, req, core.SelectorForceClose, noArgs)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseListingID(params.ID)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.node.GetListing(id)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeNotFound, "not_found", err.Error())
		return
	}
	writeResult(w, req.ID, listingToView(listing))
}
