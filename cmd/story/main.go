// Command story runs a scripted tour of the exchange against an in-memory
// ledger: token generation, a partial fungible fill, an all-or-nothing
// non-fungible trade, and a cancel with its escrow refund.
package main

import (
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/pkg/asset"
	"github.com/escrowx/escrowx/pkg/exchange"
	"github.com/escrowx/escrowx/pkg/tokengen"
	"github.com/escrowx/escrowx/pkg/util"
)

var vault = common.HexToAddress("0x00000000000000000000000000000000e5c20001")

func main() {
	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	alice := freshAddress()
	bob := freshAddress()

	ledger := asset.NewLedger()
	orders := exchange.NewOrderStore()
	engine := exchange.NewEngine(ledger, orders, vault, sugar)
	generator := tokengen.NewGenerator(ledger, common.Address{}, sugar)

	// Fund both users with native currency
	ledger.Bank().Mint(alice, uint256.NewInt(1_000_000))
	ledger.Bank().Mint(bob, uint256.NewInt(1_000_000))
	sugar.Infow("accounts_funded", "alice", alice.Hex(), "bob", bob.Hex())

	// ---- Act 1: alice generates a token and sells it for native ----
	tokenAddr, err := generator.Generate(alice, "Story Token", "STORY", 18, uint256.NewInt(10_000))
	if err != nil {
		sugar.Fatalw("generate_failed", "err", err)
	}
	token, _ := ledger.Token(tokenAddr)

	// The vault pulls escrow via allowance, so alice approves it first
	must(sugar, token.Approve(alice, vault, uint256.NewInt(10_000)))

	must(sugar, engine.MakeOrder(exchange.MakeOrderRequest{
		ID:         *uint256.NewInt(1),
		MakerValue: uint256.NewInt(100),
		TakerValue: uint256.NewInt(200),
		MakerAsset: asset.Ref{Kind: asset.Fungible, Address: tokenAddr},
		TakerAsset: asset.NativeRef(),
	}, nil, alice))

	// Bob fills half: pays 100 native, receives 50 STORY
	must(sugar, engine.TakeOrder(*uint256.NewInt(1), uint256.NewInt(100), uint256.NewInt(100), bob))
	logBalances(sugar, "after_partial_fill", ledger, tokenAddr, alice, bob)

	// ---- Act 2: alice lists a collectible, all-or-nothing ----
	col, err := ledger.DeployCollection("Story Relics", "RELIC")
	if err != nil {
		sugar.Fatalw("deploy_collection_failed", "err", err)
	}
	must(sugar, col.Mint(alice, uint256.NewInt(7)))
	must(sugar, col.Approve(alice, vault, uint256.NewInt(7)))

	must(sugar, engine.MakeOrder(exchange.MakeOrderRequest{
		ID:         *uint256.NewInt(2),
		MakerValue: uint256.NewInt(7), // unit id, not an amount
		TakerValue: uint256.NewInt(300),
		MakerAsset: asset.Ref{Kind: asset.NonFungible, Address: col.Address},
		TakerAsset: asset.NativeRef(),
	}, nil, alice))

	// A partial request against a collectible settles nothing
	must(sugar, engine.TakeOrder(*uint256.NewInt(2), uint256.NewInt(150), uint256.NewInt(150), bob))
	if owner, _ := col.OwnerOf(uint256.NewInt(7)); owner == vault {
		sugar.Infow("relic_still_escrowed", "owner", owner.Hex())
	}

	// The exact remaining value settles both sides in full
	must(sugar, engine.TakeOrder(*uint256.NewInt(2), uint256.NewInt(300), uint256.NewInt(300), bob))
	if owner, _ := col.OwnerOf(uint256.NewInt(7)); owner == bob {
		sugar.Infow("relic_delivered", "owner", owner.Hex())
	}

	// ---- Act 3: alice changes her mind about the rest of order 1 ----
	must(sugar, engine.CancelOrder(*uint256.NewInt(1), alice))
	logBalances(sugar, "after_cancel", ledger, tokenAddr, alice, bob)

	sugar.Infow("story_complete", "open_orders", len(engine.OpenOrders()))
}

func freshAddress() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("keygen: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func must(sugar *zap.SugaredLogger, err error) {
	if err != nil {
		sugar.Fatalw("story_step_failed", "err", err)
	}
}

func logBalances(sugar *zap.SugaredLogger, stage string, ledger *asset.Ledger, tokenAddr, alice, bob common.Address) {
	token, _ := ledger.Token(tokenAddr)
	sugar.Infow(stage,
		"alice_native", ledger.Bank().BalanceOf(alice).Dec(),
		"alice_token", token.BalanceOf(alice).Dec(),
		"bob_native", ledger.Bank().BalanceOf(bob).Dec(),
		"bob_token", token.BalanceOf(bob).Dec())
}
