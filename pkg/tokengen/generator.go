// Package tokengen mints and distributes new fungible tokens. It consumes
// only public ledger operations and carries no settlement logic.
package tokengen

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/pkg/asset"
)

// DefaultHoldersAddress receives the holder allocation when none is configured
var DefaultHoldersAddress = common.HexToAddress("0x00000000000000000000000000000000d0b1d001")

// holdersShareBps is the extra allocation minted to the holders address,
// in basis points of the requested supply (10%)
const holdersShareBps = 1000

// Generator deploys fungible tokens and distributes the initial supply:
// the full requested amount to the caller plus a fixed share to the
// holders address, so total supply exceeds the request by that share.
type Generator struct {
	ledger  *asset.Ledger
	holders common.Address
	log     *zap.SugaredLogger
}

// NewGenerator creates a generator distributing the holder share to holders.
// A zero holders address falls back to DefaultHoldersAddress; a nil logger
// disables logging.
func NewGenerator(ledger *asset.Ledger, holders common.Address, logger *zap.SugaredLogger) *Generator {
	if holders == (common.Address{}) {
		holders = DefaultHoldersAddress
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Generator{ledger: ledger, holders: holders, log: logger}
}

// Holders returns the address receiving the holder allocation
func (g *Generator) Holders() common.Address {
	return g.holders
}

// Generate deploys a new fungible token, mints supply to the caller and
// supply * 10% to the holders address, and returns the token's address.
func (g *Generator) Generate(caller common.Address, name, symbol string, decimals uint8, supply *uint256.Int) (common.Address, error) {
	if supply == nil || supply.IsZero() {
		return common.Address{}, fmt.Errorf("token supply must be non-zero")
	}

	tok, err := g.ledger.DeployToken(name, symbol, decimals)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy token %s: %w", symbol, err)
	}

	if err := tok.Mint(caller, supply); err != nil {
		return common.Address{}, fmt.Errorf("mint %s to caller: %w", symbol, err)
	}

	holderShare := new(uint256.Int).Mul(supply, uint256.NewInt(holdersShareBps))
	holderShare.Div(holderShare, uint256.NewInt(10000))
	if err := tok.Mint(g.holders, holderShare); err != nil {
		return common.Address{}, fmt.Errorf("mint %s holder share: %w", symbol, err)
	}

	g.log.Infow("token_generated",
		"address", tok.Address.Hex(),
		"symbol", symbol,
		"supply", supply.Dec(),
		"holder_share", holderShare.Dec())
	return tok.Address, nil
}
