package exchange

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/escrowx/escrowx/pkg/asset"
)

var (
	testVault = common.HexToAddress("0x00000000000000000000000000000000e5c20001")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// newTestEngine builds an in-memory engine with alice and bob funded with
// 1,000,000 native each
func newTestEngine(t *testing.T) (*Engine, *asset.Ledger) {
	t.Helper()

	ledger := asset.NewLedger()
	ledger.Bank().Mint(alice, uint256.NewInt(1_000_000))
	ledger.Bank().Mint(bob, uint256.NewInt(1_000_000))

	return NewEngine(ledger, NewOrderStore(), testVault, nil), ledger
}

// deployFunded deploys a token, mints supply to owner and approves the vault
// for the full amount
func deployFunded(t *testing.T, ledger *asset.Ledger, owner common.Address, supply uint64) *asset.Token {
	t.Helper()

	tok, err := ledger.DeployToken("Test Token", "TT", 18)
	if err != nil {
		t.Fatalf("deploy token: %v", err)
	}
	if err := tok.Mint(owner, uint256.NewInt(supply)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Approve(owner, testVault, uint256.NewInt(supply)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return tok
}

func tokenForNative(tok *asset.Token, id, makerValue, takerValue uint64) MakeOrderRequest {
	return MakeOrderRequest{
		ID:         *uint256.NewInt(id),
		MakerValue: uint256.NewInt(makerValue),
		TakerValue: uint256.NewInt(takerValue),
		MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
		TakerAsset: asset.NativeRef(),
	}
}

func TestMakeOrderEscrowsPledge(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}

	if got := tok.BalanceOf(alice); got.Uint64() != 900 {
		t.Errorf("alice balance = %s, want 900", got.Dec())
	}
	if got := tok.BalanceOf(testVault); got.Uint64() != 100 {
		t.Errorf("vault balance = %s, want 100", got.Dec())
	}

	order := engine.GetOrder(*uint256.NewInt(1))
	if !order.Open() {
		t.Fatal("order should be open")
	}
	if order.MakerItem.Value.Uint64() != 100 || order.TakerItem.Value.Uint64() != 200 {
		t.Errorf("order values = %s/%s, want 100/200",
			order.MakerItem.Value.Dec(), order.TakerItem.Value.Dec())
	}
	if order.MakerItem.Owner != alice {
		t.Errorf("maker = %s, want alice", order.MakerItem.Owner.Hex())
	}
}

func TestMakeOrderValidation(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	tests := []struct {
		name string
		req  MakeOrderRequest
	}{
		{
			name: "zero id",
			req: MakeOrderRequest{
				MakerValue: uint256.NewInt(100),
				TakerValue: uint256.NewInt(200),
				MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
				TakerAsset: asset.NativeRef(),
			},
		},
		{
			name: "zero maker value",
			req: MakeOrderRequest{
				ID:         *uint256.NewInt(5),
				MakerValue: uint256.NewInt(0),
				TakerValue: uint256.NewInt(200),
				MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
				TakerAsset: asset.NativeRef(),
			},
		},
		{
			name: "zero taker value",
			req: MakeOrderRequest{
				ID:         *uint256.NewInt(5),
				MakerValue: uint256.NewInt(100),
				TakerValue: uint256.NewInt(0),
				MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
				TakerAsset: asset.NativeRef(),
			},
		},
		{
			name: "native with contract address",
			req: MakeOrderRequest{
				ID:         *uint256.NewInt(5),
				MakerValue: uint256.NewInt(100),
				TakerValue: uint256.NewInt(200),
				MakerAsset: asset.Ref{Kind: asset.Native, Address: tok.Address},
				TakerAsset: asset.NativeRef(),
			},
		},
		{
			name: "fungible with zero address",
			req: MakeOrderRequest{
				ID:         *uint256.NewInt(5),
				MakerValue: uint256.NewInt(100),
				TakerValue: uint256.NewInt(200),
				MakerAsset: asset.Ref{Kind: asset.Fungible},
				TakerAsset: asset.NativeRef(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.MakeOrder(tt.req, nil, alice); err == nil {
				t.Error("expected validation error")
			}
			if engine.GetOrder(tt.req.ID).Open() {
				t.Error("rejected order must not be created")
			}
		})
	}
}

func TestMakeOrderDuplicateID(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	err := engine.MakeOrder(tokenForNative(tok, 1, 50, 60), nil, alice)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}

	// The open order and escrow are untouched by the rejected duplicate
	order := engine.GetOrder(*uint256.NewInt(1))
	if order.MakerItem.Value.Uint64() != 100 {
		t.Errorf("maker value = %s, want 100", order.MakerItem.Value.Dec())
	}
	if got := tok.BalanceOf(testVault); got.Uint64() != 100 {
		t.Errorf("vault balance = %s, want 100", got.Dec())
	}
}

func TestTakeOrderPartialFill(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	// 100 TT offered for 200 native; bob pays 50 native
	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(50), uint256.NewInt(50), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}

	if got := tok.BalanceOf(bob); got.Uint64() != 25 {
		t.Errorf("bob tokens = %s, want 25", got.Dec())
	}
	if got := ledger.Bank().BalanceOf(alice); got.Uint64() != 1_000_050 {
		t.Errorf("alice native = %s, want 1000050", got.Dec())
	}
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 999_950 {
		t.Errorf("bob native = %s, want 999950", got.Dec())
	}

	order := engine.GetOrder(*uint256.NewInt(1))
	if order.MakerItem.Value.Uint64() != 75 || order.TakerItem.Value.Uint64() != 150 {
		t.Errorf("remaining = %s/%s, want 75/150",
			order.MakerItem.Value.Dec(), order.TakerItem.Value.Dec())
	}
}

func TestTakeOrderClampsAndCloses(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	// Requesting more than the order wants clamps to the remaining 200
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(999), uint256.NewInt(999), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}

	if got := tok.BalanceOf(bob); got.Uint64() != 100 {
		t.Errorf("bob tokens = %s, want 100", got.Dec())
	}
	// Only the clamped 200 is spent; the 799 overpayment comes back
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 999_800 {
		t.Errorf("bob native = %s, want 999800", got.Dec())
	}
	if engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("fully filled order must be closed")
	}
	if got := tok.BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault tokens = %s, want 0", got.Dec())
	}
}

func TestTakeOrderFlooredProportion(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	// 100 TT for 7 native: the scaled ratio floors at each division
	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 7), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(3), uint256.NewInt(3), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}

	// floor(floor(100e18/7) * 3 / 1e18) = 42
	if got := tok.BalanceOf(bob); got.Uint64() != 42 {
		t.Errorf("bob tokens = %s, want 42", got.Dec())
	}
	order := engine.GetOrder(*uint256.NewInt(1))
	if order.MakerItem.Value.Uint64() != 58 || order.TakerItem.Value.Uint64() != 4 {
		t.Errorf("remaining = %s/%s, want 58/4",
			order.MakerItem.Value.Dec(), order.TakerItem.Value.Dec())
	}
}

func TestTakeOrderNonFungibleAllOrNothing(t *testing.T) {
	engine, ledger := newTestEngine(t)

	col, err := ledger.DeployCollection("Relics", "RLC")
	if err != nil {
		t.Fatalf("deploy collection: %v", err)
	}
	unit := uint256.NewInt(7)
	if err := col.Mint(alice, unit); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := col.Approve(alice, testVault, unit); err != nil {
		t.Fatalf("approve: %v", err)
	}

	req := MakeOrderRequest{
		ID:         *uint256.NewInt(1),
		MakerValue: unit.Clone(),
		TakerValue: uint256.NewInt(300),
		MakerAsset: asset.Ref{Kind: asset.NonFungible, Address: col.Address},
		TakerAsset: asset.NativeRef(),
	}
	if err := engine.MakeOrder(req, nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if owner, _ := col.OwnerOf(unit); owner != testVault {
		t.Fatalf("unit owner = %s, want vault", owner.Hex())
	}

	// A partial request settles nothing and refunds the payment
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(150), uint256.NewInt(150), bob); err != nil {
		t.Fatalf("partial take: %v", err)
	}
	if owner, _ := col.OwnerOf(unit); owner != testVault {
		t.Error("partial request must not move the unit")
	}
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 1_000_000 {
		t.Errorf("bob native = %s, want full refund", got.Dec())
	}
	if !engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Fatal("order must stay open after degenerate take")
	}

	// The exact remaining value settles both sides in full
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(300), uint256.NewInt(300), bob); err != nil {
		t.Fatalf("full take: %v", err)
	}
	if owner, _ := col.OwnerOf(unit); owner != bob {
		t.Errorf("unit owner = %s, want bob", owner.Hex())
	}
	if got := ledger.Bank().BalanceOf(alice); got.Uint64() != 1_000_300 {
		t.Errorf("alice native = %s, want 1000300", got.Dec())
	}
	if engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("order must close after full settlement")
	}
}

func TestTakeOrderNonFungibleTakerSide(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	// Alice offers 400 TT for bob's unit 7; the collectible sits on the
	// taker side so bob must approve the vault before filling.
	col, err := ledger.DeployCollection("Relics", "RLC")
	if err != nil {
		t.Fatalf("deploy collection: %v", err)
	}
	unit := uint256.NewInt(7)
	if err := col.Mint(bob, unit); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := col.Approve(bob, testVault, unit); err != nil {
		t.Fatalf("approve: %v", err)
	}

	req := MakeOrderRequest{
		ID:         *uint256.NewInt(1),
		MakerValue: uint256.NewInt(400),
		TakerValue: unit.Clone(),
		MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
		TakerAsset: asset.Ref{Kind: asset.NonFungible, Address: col.Address},
	}
	if err := engine.MakeOrder(req, nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}

	// A request that does not name the unit id settles nothing
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(3), nil, bob); err != nil {
		t.Fatalf("degenerate take: %v", err)
	}
	if got, _ := col.OwnerOf(unit); got != bob {
		t.Error("degenerate take must not move the unit")
	}
	if !engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Fatal("order must stay open after degenerate take")
	}

	// Naming the unit id exactly settles both sides in full
	if err := engine.TakeOrder(*uint256.NewInt(1), unit.Clone(), nil, bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if got, _ := col.OwnerOf(unit); got != alice {
		t.Errorf("unit owner = %s, want alice", got.Hex())
	}
	if got := tok.BalanceOf(bob); got.Uint64() != 400 {
		t.Errorf("bob tokens = %s, want 400", got.Dec())
	}
	if engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("order must close after full settlement")
	}
	if got := tok.BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault tokens = %s, want 0", got.Dec())
	}
}

func TestTakeMissingOrderIsNoOp(t *testing.T) {
	engine, ledger := newTestEngine(t)

	if err := engine.TakeOrder(*uint256.NewInt(42), uint256.NewInt(10), uint256.NewInt(10), bob); err != nil {
		t.Fatalf("take on missing order: %v", err)
	}
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 1_000_000 {
		t.Errorf("bob native = %s, supplied payment must be refunded", got.Dec())
	}
}

func TestOverpaymentRefundedExactly(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	// Bob supplies 500 but the fill only needs 50
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(50), uint256.NewInt(500), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 999_950 {
		t.Errorf("bob native = %s, want 999950", got.Dec())
	}
	if got := ledger.Bank().BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault native = %s, want 0", got.Dec())
	}
}

func TestTakeOrderInsufficientPayment(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(50), uint256.NewInt(10), bob)
	if !errors.Is(err, ErrInsufficientNative) {
		t.Fatalf("err = %v, want ErrInsufficientNative", err)
	}

	// Failed pull aborts the fill with everything unchanged
	if got := ledger.Bank().BalanceOf(bob); got.Uint64() != 1_000_000 {
		t.Errorf("bob native = %s, want 1000000", got.Dec())
	}
	order := engine.GetOrder(*uint256.NewInt(1))
	if order.MakerItem.Value.Uint64() != 100 || order.TakerItem.Value.Uint64() != 200 {
		t.Errorf("order changed on failed take: %s/%s",
			order.MakerItem.Value.Dec(), order.TakerItem.Value.Dec())
	}
}

func TestTakeOrderAllowanceFailureAborts(t *testing.T) {
	engine, ledger := newTestEngine(t)
	payTok := deployFunded(t, ledger, alice, 1000)

	// Alice sells native for tokens; bob holds tokens but never approved
	// the vault, so his payment pull must fail.
	if err := payTok.Mint(bob, uint256.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	req := MakeOrderRequest{
		ID:         *uint256.NewInt(1),
		MakerValue: uint256.NewInt(400),
		TakerValue: uint256.NewInt(100),
		MakerAsset: asset.NativeRef(),
		TakerAsset: asset.Ref{Kind: asset.Fungible, Address: payTok.Address},
	}
	if err := engine.MakeOrder(req, uint256.NewInt(400), alice); err != nil {
		t.Fatalf("make order: %v", err)
	}

	err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(100), nil, bob)
	if !errors.Is(err, asset.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}

	if got := payTok.BalanceOf(bob); got.Uint64() != 500 {
		t.Errorf("bob tokens = %s, want 500", got.Dec())
	}
	if got := ledger.Bank().BalanceOf(testVault); got.Uint64() != 400 {
		t.Errorf("vault native = %s, escrow must stay intact", got.Dec())
	}
	if !engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("order must survive a failed take")
	}
}

func TestCancelOrder(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}

	// Only the maker may cancel
	if err := engine.CancelOrder(*uint256.NewInt(1), bob); !errors.Is(err, ErrNotMaker) {
		t.Fatalf("err = %v, want ErrNotMaker", err)
	}

	if err := engine.CancelOrder(*uint256.NewInt(1), alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := tok.BalanceOf(alice); got.Uint64() != 1000 {
		t.Errorf("alice tokens = %s, pledge must return in full", got.Dec())
	}
	if engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("cancelled order must be gone")
	}

	// Cancelling again or cancelling an unknown id is an error
	if err := engine.CancelOrder(*uint256.NewInt(1), alice); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("err = %v, want ErrUnknownOrder", err)
	}
}

func TestCancelAfterPartialFillReturnsRemainder(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(50), uint256.NewInt(50), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if err := engine.CancelOrder(*uint256.NewInt(1), alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// 25 sold to bob, 75 back to alice, vault empty
	if got := tok.BalanceOf(alice); got.Uint64() != 975 {
		t.Errorf("alice tokens = %s, want 975", got.Dec())
	}
	if got := tok.BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault tokens = %s, want 0", got.Dec())
	}
}

func TestMakeOrdersBatchIsolation(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	// Occupy id 2 so the middle sub-order fails
	if err := engine.MakeOrder(tokenForNative(tok, 2, 10, 10), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}

	reqs := []MakeOrderRequest{
		tokenForNative(tok, 1, 100, 200),
		tokenForNative(tok, 2, 50, 60), // duplicate id
		tokenForNative(tok, 3, 30, 40),
	}
	if ok := engine.MakeOrders(reqs, nil, alice); ok {
		t.Error("batch with a failing sub-order must report failure")
	}

	// The failure does not disturb the committed neighbours
	if !engine.GetOrder(*uint256.NewInt(1)).Open() {
		t.Error("order 1 must be created")
	}
	if !engine.GetOrder(*uint256.NewInt(3)).Open() {
		t.Error("order 3 must be created")
	}
	if got := engine.GetOrder(*uint256.NewInt(2)); got.MakerItem.Value.Uint64() != 10 {
		t.Errorf("order 2 maker value = %s, want untouched 10", got.MakerItem.Value.Dec())
	}
	// 10 + 100 + 30 escrowed
	if got := tok.BalanceOf(testVault); got.Uint64() != 140 {
		t.Errorf("vault tokens = %s, want 140", got.Dec())
	}
}

func TestMakeOrdersBatchNativeApportionment(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, bob, 1000)

	// Two native-pledge orders drawing from one supplied pot; the second
	// exhausts it so the third fails, and the unused remainder refunds.
	nativeOrder := func(id, makerValue uint64) MakeOrderRequest {
		return MakeOrderRequest{
			ID:         *uint256.NewInt(id),
			MakerValue: uint256.NewInt(makerValue),
			TakerValue: uint256.NewInt(10),
			MakerAsset: asset.NativeRef(),
			TakerAsset: asset.Ref{Kind: asset.Fungible, Address: tok.Address},
		}
	}
	reqs := []MakeOrderRequest{
		nativeOrder(1, 300),
		nativeOrder(2, 500),
		nativeOrder(3, 400), // only 200 left in the pot
	}
	if ok := engine.MakeOrders(reqs, uint256.NewInt(1000), alice); ok {
		t.Error("batch must report the underfunded sub-order")
	}

	if !engine.GetOrder(*uint256.NewInt(1)).Open() || !engine.GetOrder(*uint256.NewInt(2)).Open() {
		t.Error("funded sub-orders must commit")
	}
	if engine.GetOrder(*uint256.NewInt(3)).Open() {
		t.Error("underfunded sub-order must not commit")
	}
	// 300 + 500 escrowed, 200 refunded
	if got := ledger.Bank().BalanceOf(alice); got.Uint64() != 999_200 {
		t.Errorf("alice native = %s, want 999200", got.Dec())
	}
	if got := ledger.Bank().BalanceOf(testVault); got.Uint64() != 800 {
		t.Errorf("vault native = %s, want 800", got.Dec())
	}
}

// TestEscrowConservation checks that native supply is conserved across a
// mixed sequence of operations
func TestEscrowConservation(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	total := func() uint64 {
		sum := new(uint256.Int)
		for _, addr := range []common.Address{alice, bob, testVault} {
			sum.Add(sum, ledger.Bank().BalanceOf(addr))
		}
		return sum.Uint64()
	}
	before := total()

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(60), uint256.NewInt(100), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(999), uint256.NewInt(200), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if err := engine.MakeOrder(tokenForNative(tok, 2, 10, 20), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.CancelOrder(*uint256.NewInt(2), alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if after := total(); after != before {
		t.Errorf("native supply changed: before %d, after %d", before, after)
	}
	// All orders settled or cancelled, nothing left in custody
	if got := ledger.Bank().BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault native = %s, want 0", got.Dec())
	}
	if got := tok.BalanceOf(testVault); !got.IsZero() {
		t.Errorf("vault tokens = %s, want 0", got.Dec())
	}
}

func TestEngineEvents(t *testing.T) {
	engine, ledger := newTestEngine(t)
	tok := deployFunded(t, ledger, alice, 1000)

	var events []Event
	engine.SetNotify(func(ev Event) { events = append(events, ev) })

	if err := engine.MakeOrder(tokenForNative(tok, 1, 100, 200), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(999), uint256.NewInt(200), bob); err != nil {
		t.Fatalf("take order: %v", err)
	}
	if err := engine.MakeOrder(tokenForNative(tok, 2, 10, 20), nil, alice); err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := engine.CancelOrder(*uint256.NewInt(2), alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	want := []EventType{EventOrderCreated, EventOrderFilled, EventOrderCreated, EventOrderCancelled}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
	filled := events[1]
	if !filled.Closed || filled.Taker != bob {
		t.Errorf("fill event = closed %v taker %s, want closed by bob", filled.Closed, filled.Taker.Hex())
	}
	if filled.MakerAmount.Uint64() != 100 || filled.TakerAmount.Uint64() != 200 {
		t.Errorf("fill amounts = %s/%s, want 100/200",
			filled.MakerAmount.Dec(), filled.TakerAmount.Dec())
	}
}

func TestComputeFill(t *testing.T) {
	fungibleOrder := func(makerValue, takerValue uint64) Order {
		return Order{
			ID:        *uint256.NewInt(1),
			MakerItem: Item{Asset: asset.Ref{Kind: asset.Fungible, Address: common.HexToAddress("0x1")}, Value: uint256.NewInt(makerValue)},
			TakerItem: Item{Asset: asset.NativeRef(), Value: uint256.NewInt(takerValue)},
		}
	}

	tests := []struct {
		name      string
		order     Order
		requested uint64
		wantMaker uint64
		wantTaker uint64
	}{
		{"full fill", fungibleOrder(100, 200), 200, 100, 200},
		{"half fill", fungibleOrder(100, 200), 100, 50, 100},
		{"clamped", fungibleOrder(100, 200), 5000, 100, 200},
		{"floors down", fungibleOrder(100, 7), 3, 42, 3},
		{"zero request", fungibleOrder(100, 200), 0, 0, 0},
		{"one to one", fungibleOrder(500, 500), 123, 123, 123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker := computeFill(tt.order, uint256.NewInt(tt.requested))
			if maker.Uint64() != tt.wantMaker || taker.Uint64() != tt.wantTaker {
				t.Errorf("computeFill = %s/%s, want %d/%d",
					maker.Dec(), taker.Dec(), tt.wantMaker, tt.wantTaker)
			}
		})
	}
}
