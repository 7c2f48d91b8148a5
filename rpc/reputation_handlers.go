package rpc

import (
	"encoding/hex"
	"net/http"

	"campusbazaar/core"
	"campusbazaar/core/types"
	"campusbazaar/crypto"
	"campusbazaar/native/reputation"
)

type accountParams struct {
	Address string `json:"address"`
}

type verifyParams struct {
	Operator string `json:"operator"`
	Address  string `json:"address"`
}

type profileView struct {
	Address         string `json:"address"`
	EcoPoints       uint64 `json:"ecoPoints"`
	TradesCompleted uint64 `json:"tradesCompleted"`
	TradesAsSeller  uint64 `json:"tradesAsSeller"`
	TradesAsBuyer   uint64 `json:"tradesAsBuyer"`
	CO2SavedGrams   uint64 `json:"co2SavedGrams"`
	ReputationScore uint64 `json:"reputationScore"`
	LastTradeRound  uint64 `json:"lastTradeRound"`
	CollegeVerified bool   `json:"collegeVerified"`
}

type totalsView struct {
	TotalCO2SavedGrams   uint64 `json:"totalCo2SavedGrams"`
	TotalTradesCompleted uint64 `json:"totalTradesCompleted"`
	TotalUsersOptedIn    uint64 `json:"totalUsersOptedIn"`
}

// handleAccountCall covers the self-directed reputation operations.
func (s *Server) handleAccountCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, selector string) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params accountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tx, err := s.callTx(addr, selector, [32]byte{})
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	if !s.submit(w, req.ID, []*types.Transaction{tx}) {
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleReputationOptIn(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAccountCall(w, r, req, core.SelectorOptIn)
}

func (s *Server) handleReputationCloseAccount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAccountCall(w, r, req, core.SelectorCloseAccount)
}

func (s *Server) handleReputationVerifyCollege(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params verifyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	operator, err := parseBech32(params.Operator)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	target, err := parseBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	tx, err := s.callTx(operator, core.SelectorVerify, [32]byte{}, hex.EncodeToString(target[:]))
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	if !s.submit(w, req.ID, []*types.Transaction{tx}) {
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleReputationGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	profile, ok, err := s.node.GetProfile(addr)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusOK, req.ID, codeNotFound, "not_found", reputation.ErrProfileNotFound.Error())
		return
	}
	writeResult(w, req.ID, profileView{
		Address:         crypto.NewAddress(crypto.BazaarPrefix, addr[:]).String(),
		EcoPoints:       profile.EcoPoints,
		TradesCompleted: profile.TradesCompleted,
		TradesAsSeller:  profile.TradesAsSeller,
		TradesAsBuyer:   profile.TradesAsBuyer,
		CO2SavedGrams:   profile.CO2SavedGrams,
		ReputationScore: profile.ReputationScore,
		LastTradeRound:  profile.LastTradeRound,
		CollegeVerified: profile.CollegeVerified,
	})
}

func (s *Server) handleReputationTotals(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	totals, err := s.node.GetTotals()
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, totalsView{
		TotalCO2SavedGrams:   totals.TotalCO2SavedGrams,
		TotalTradesCompleted: totals.TotalTradesCompleted,
		TotalUsersOptedIn:    totals.TotalUsersOptedIn,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.GetBalance(addr)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}
