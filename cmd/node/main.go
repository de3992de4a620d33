package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/params"
	"github.com/escrowx/escrowx/pkg/api"
	"github.com/escrowx/escrowx/pkg/asset"
	"github.com/escrowx/escrowx/pkg/exchange"
	"github.com/escrowx/escrowx/pkg/tokengen"
	"github.com/escrowx/escrowx/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	ledger, err := asset.NewLedgerWithStore(filepath.Join(cfg.Storage.DataDir, "ledger.db"))
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}
	defer ledger.Close()

	orders, err := exchange.NewOrderStoreWithPath(filepath.Join(cfg.Storage.DataDir, "orders.db"))
	if err != nil {
		sugar.Fatalw("order_store_init_failed", "err", err)
	}
	defer orders.Close()

	// ---- Engine ----
	if !common.IsHexAddress(cfg.Node.VaultAddress) {
		sugar.Fatalw("invalid_vault_address", "vault", cfg.Node.VaultAddress)
	}
	vault := common.HexToAddress(cfg.Node.VaultAddress)

	engine := exchange.NewEngine(ledger, orders, vault, sugar)
	generator := tokengen.NewGenerator(ledger, common.Address{}, sugar)

	// ---- Genesis funding (dev convenience) ----
	// GENESIS_ACCOUNTS="0xabc...:1000000000000000000,0xdef...:5000"
	// Applied only when the bank starts empty, so restarts don't re-mint.
	if accounts := os.Getenv("GENESIS_ACCOUNTS"); accounts != "" {
		fundGenesis(ledger, accounts, sugar)
	}

	sugar.Infow("node_starting",
		"vault", vault.Hex(),
		"data_dir", cfg.Storage.DataDir,
		"open_orders", orders.Count(),
		"assets", len(ledger.Assets()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(engine, ledger, generator, sugar, cfg.API.AllowedOrigins)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}

func fundGenesis(ledger *asset.Ledger, accounts string, sugar *zap.SugaredLogger) {
	for _, entry := range strings.Split(accounts, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
			sugar.Warnw("genesis_entry_skipped", "entry", entry)
			continue
		}
		addr := common.HexToAddress(parts[0])
		amount, err := uint256.FromDecimal(parts[1])
		if err != nil {
			sugar.Warnw("genesis_entry_skipped", "entry", entry, "err", err)
			continue
		}
		if !ledger.Bank().BalanceOf(addr).IsZero() {
			continue // already funded from a previous run
		}
		ledger.Bank().Mint(addr, amount)
		sugar.Infow("genesis_funded", "address", addr.Hex(), "amount", amount.Dec())
	}
}
