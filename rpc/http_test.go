package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"campusbazaar/core"
	"campusbazaar/crypto"
	"campusbazaar/storage"
)

type testHarness struct {
	node   *core.Node
	server *httptest.Server
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	srv := NewServer(node)
	ts := httptest.NewServer(http.HandlerFunc(srv.handle))
	t.Cleanup(ts.Close)
	return &testHarness{node: node, server: ts}
}

func bech(b byte) string {
	var a [20]byte
	a[19] = b
	return crypto.NewAddress(crypto.BazaarPrefix, a[:]).String()
}

func asBytes(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func (h *testHarness) call(t *testing.T, method string, params interface{}, token string) *RPCResponse {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, h.server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &rpcResp
}

func (h *testHarness) mustCall(t *testing.T, method string, params interface{}) map[string]interface{} {
	t.Helper()
	resp := h.call(t, method, params, "")
	if resp.Error != nil {
		t.Fatalf("%s: %+v", method, resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("%s: unexpected result shape %T", method, resp.Result)
	}
	return result
}

func createParams(seller string) createListingParams {
	return createListingParams{
		Seller:          seller,
		Title:           "dorm desk",
		Price:           "5000000",
		Category:        "furniture",
		CO2SavedGrams:   900,
		EcoPointsValue:  30,
		PlatformFeeAddr: bech(0xFE),
	}
}

func TestEscrowCreateAndGet(t *testing.T) {
	h := newHarness(t)
	seller := bech(1)

	result := h.mustCall(t, "escrow_create", createParams(seller))
	id, _ := result["id"].(string)
	if len(id) != 64 {
		t.Fatalf("id = %q, want 32 hex bytes", id)
	}

	view := h.mustCall(t, "escrow_get", map[string]string{"id": id})
	if view["status"] != "open" {
		t.Fatalf("status = %v, want open", view["status"])
	}
	if view["seller"] != seller {
		t.Fatalf("seller = %v, want %s", view["seller"], seller)
	}
	if view["price"] != "5000000" {
		t.Fatalf("price = %v", view["price"])
	}
	if _, hasBuyer := view["buyer"]; hasBuyer {
		t.Fatalf("open listing must not report a buyer")
	}
}

func TestEscrowFundAndConfirmFlow(t *testing.T) {
	h := newHarness(t)
	seller, buyer := bech(1), bech(2)
	if err := h.node.Credit(asBytes(2), big.NewInt(10_000_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	result := h.mustCall(t, "escrow_create", createParams(seller))
	id := result["id"].(string)

	h.mustCall(t, "escrow_fund", listingCallParams{Caller: buyer, ID: id})
	view := h.mustCall(t, "escrow_get", map[string]string{"id": id})
	if view["status"] != "funded" {
		t.Fatalf("status = %v, want funded", view["status"])
	}
	if view["buyer"] != buyer {
		t.Fatalf("buyer = %v, want %s", view["buyer"], buyer)
	}

	h.mustCall(t, "escrow_confirm", listingCallParams{Caller: buyer, ID: id})
	balance := h.mustCall(t, "bazaar_getBalance", map[string]string{"address": seller})
	if balance["balance"] != "4950000" {
		t.Fatalf("seller balance = %v, want 4950000", balance["balance"])
	}
}

func TestEscrowFundUnknownListing(t *testing.T) {
	h := newHarness(t)
	resp := h.call(t, "escrow_fund", listingCallParams{
		Caller: bech(2),
		ID:     "00000000000000000000000000000000000000000000000000000000000000ff",
	}, "")
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("error = %+v, want not_found", resp.Error)
	}
}

func TestReputationFlow(t *testing.T) {
	h := newHarness(t)
	user := bech(5)

	h.mustCall(t, "reputation_optIn", accountParams{Address: user})
	profile := h.mustCall(t, "reputation_get", accountParams{Address: user})
	if profile["reputationScore"].(float64) != 0 {
		t.Fatalf("fresh profile must score 0: %v", profile)
	}

	totals := h.mustCall(t, "reputation_totals", nil)
	if totals["totalUsersOptedIn"].(float64) != 1 {
		t.Fatalf("totals = %v", totals)
	}

	h.mustCall(t, "reputation_closeAccount", accountParams{Address: user})
	resp := h.call(t, "reputation_get", accountParams{Address: user}, "")
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("closed profile: error = %+v, want not_found", resp.Error)
	}
}

func TestVerifyCollegeRequiresOperator(t *testing.T) {
	h := newHarness(t)
	operator, user := bech(0x0F), bech(5)
	h.node.SetOperator(asBytes(0x0F))

	h.mustCall(t, "reputation_optIn", accountParams{Address: user})
	resp := h.call(t, "reputation_verifyCollege", verifyParams{Operator: bech(9), Address: user}, "")
	if resp.Error == nil {
		t.Fatalf("non-operator verification must fail")
	}

	h.mustCall(t, "reputation_verifyCollege", verifyParams{Operator: operator, Address: user})
	profile := h.mustCall(t, "reputation_get", accountParams{Address: user})
	if profile["collegeVerified"] != true {
		t.Fatalf("profile not verified: %v", profile)
	}
}

func TestInvalidParamsAndUnknownMethod(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "escrow_get", map[string]string{"id": "zz"}, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("bad id: error = %+v, want invalid_params", resp.Error)
	}

	resp = h.call(t, "escrow_destroy", nil, "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: error = %+v, want method_not_found", resp.Error)
	}
}

func TestBearerTokenGuardsMutations(t *testing.T) {
	t.Setenv("BAZAAR_RPC_TOKEN", "sekrit")
	h := newHarness(t)
	seller := bech(1)

	resp := h.call(t, "escrow_create", createParams(seller), "")
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("missing token: error = %+v, want unauthorized", resp.Error)
	}
	resp = h.call(t, "escrow_create", createParams(seller), "wrong")
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("wrong token: error = %+v, want unauthorized", resp.Error)
	}
	resp = h.call(t, "escrow_create", createParams(seller), "sekrit")
	if resp.Error != nil {
		t.Fatalf("valid token rejected: %+v", resp.Error)
	}

	// Reads stay open.
	resp = h.call(t, "reputation_totals", nil, "")
	if resp.Error != nil {
		t.Fatalf("read must not require a token: %+v", resp.Error)
	}
}
