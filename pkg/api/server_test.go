package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/pkg/asset"
	"github.com/escrowx/escrowx/pkg/exchange"
	"github.com/escrowx/escrowx/pkg/tokengen"
)

var (
	testVault = common.HexToAddress("0x00000000000000000000000000000000e5c20001")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestServer(t *testing.T) (*Server, *asset.Ledger, *exchange.Engine) {
	t.Helper()

	ledger := asset.NewLedger()
	engine := exchange.NewEngine(ledger, exchange.NewOrderStore(), testVault, nil)
	generator := tokengen.NewGenerator(ledger, common.Address{}, nil)
	return NewServer(engine, ledger, generator, nil, nil), ledger, engine
}

func postJSON(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestApproveTokenEndpoint(t *testing.T) {
	s, ledger, _ := newTestServer(t)

	tok, err := ledger.DeployToken("Test Token", "TT", 18)
	if err != nil {
		t.Fatalf("deploy token: %v", err)
	}
	if err := tok.Mint(alice, uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	rec := postJSON(t, s, "/api/v1/assets/"+tok.Address.Hex()+"/approve", ApproveRequest{
		From:  alice.Hex(),
		Value: "250",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Spender defaults to the vault
	if got := tok.Allowance(alice, testVault); got.Uint64() != 250 {
		t.Errorf("allowance = %s, want 250", got.Dec())
	}

	// Explicit spender overrides the default
	rec = postJSON(t, s, "/api/v1/assets/"+tok.Address.Hex()+"/approve", ApproveRequest{
		From:    alice.Hex(),
		Spender: bob.Hex(),
		Value:   "40",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := tok.Allowance(alice, bob); got.Uint64() != 40 {
		t.Errorf("allowance = %s, want 40", got.Dec())
	}
}

func TestApproveCollectionEndpoint(t *testing.T) {
	s, ledger, _ := newTestServer(t)

	col, err := ledger.DeployCollection("Relics", "RLC")
	if err != nil {
		t.Fatalf("deploy collection: %v", err)
	}
	unit := uint256.NewInt(7)
	if err := col.Mint(alice, unit); err != nil {
		t.Fatalf("mint: %v", err)
	}

	rec := postJSON(t, s, "/api/v1/assets/"+col.Address.Hex()+"/approve", ApproveRequest{
		From:  alice.Hex(),
		Value: "7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The vault can now move the unit
	if err := col.TransferFrom(testVault, alice, bob, unit); err != nil {
		t.Errorf("vault transfer after approve: %v", err)
	}

	// Approving someone else's unit is rejected
	rec = postJSON(t, s, "/api/v1/assets/"+col.Address.Hex()+"/approve", ApproveRequest{
		From:  alice.Hex(),
		Value: "7",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestApproveUnknownAsset(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := postJSON(t, s, "/api/v1/assets/"+bob.Hex()+"/approve", ApproveRequest{
		From:  alice.Hex(),
		Value: "100",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestTokenOrderOverREST walks the full fungible flow through the API:
// generate, approve the vault, then escrow a token pledge.
func TestTokenOrderOverREST(t *testing.T) {
	s, ledger, engine := newTestServer(t)

	rec := postJSON(t, s, "/api/v1/assets/generate", GenerateTokenRequest{
		From:     alice.Hex(),
		Name:     "Test Token",
		Symbol:   "TT",
		Decimals: 18,
		Supply:   "10000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body %s", rec.Code, rec.Body.String())
	}
	var genResp GenerateTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &genResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Without an allowance the escrow pull fails
	order := SubmitOrderRequest{
		Order: OrderRequest{
			ID:                "1",
			MakerValue:        "100",
			TakerValue:        "200",
			MakerAssetAddress: genResp.TokenAddress,
			TakerAssetAddress: asset.NativeAddress.Hex(),
			MakerKind:         int8(asset.Fungible),
			TakerKind:         int8(asset.Native),
		},
		From: alice.Hex(),
	}
	rec = postJSON(t, s, "/api/v1/orders", order)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unapproved order status = %d, want 422", rec.Code)
	}

	rec = postJSON(t, s, "/api/v1/assets/"+genResp.TokenAddress+"/approve", ApproveRequest{
		From:  alice.Hex(),
		Value: "100",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, s, "/api/v1/orders", order)
	if rec.Code != http.StatusOK {
		t.Fatalf("order status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Fatal("order must be open after approved submission")
	}
	tok, _ := ledger.Token(common.HexToAddress(genResp.TokenAddress))
	if got := tok.BalanceOf(testVault); got.Uint64() != 100 {
		t.Errorf("vault balance = %s, want escrowed 100", got.Dec())
	}
}

func TestHubBroadcastFiltersBySubscription(t *testing.T) {
	hub := newHub(zap.NewNop().Sugar())

	subscriber := &wsClient{send: make(chan []byte, 1), subs: map[string]bool{ordersChannel: true}}
	bystander := &wsClient{send: make(chan []byte, 1), subs: map[string]bool{}}
	hub.clients = map[*wsClient]struct{}{subscriber: {}, bystander: {}}

	hub.BroadcastEvent(ordersChannel, OrderEvent{Type: "order_created"})

	select {
	case payload := <-subscriber.send:
		var ev OrderEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != "order_created" {
			t.Errorf("event type = %s, want order_created", ev.Type)
		}
	default:
		t.Fatal("subscriber must receive the event")
	}

	select {
	case <-bystander.send:
		t.Fatal("unsubscribed client must not receive the event")
	default:
	}
}
