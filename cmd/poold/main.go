package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"liquidhub/config"
	"liquidhub/core/events"
	"liquidhub/core/types"
	"liquidhub/crypto"
	"liquidhub/native/market"
	"liquidhub/native/pool"
	"liquidhub/native/vault"
	"liquidhub/observability/logging"
	"liquidhub/services/poold"
	"liquidhub/storage"
)

// logEmitter forwards engine events to the structured logger.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(event events.Event) {
	typed, ok := event.(interface{ Event() *types.Event })
	if !ok {
		e.log.Info("event", "type", event.EventType())
		return
	}
	payload := typed.Event()
	attrs := make([]any, 0, 2*len(payload.Attributes)+2)
	attrs = append(attrs, "type", payload.Type)
	for key, value := range payload.Attributes {
		attrs = append(attrs, key, value)
	}
	e.log.Info("event", attrs...)
}

// devInvoker stands in for on-chain target execution in local mode.
type devInvoker struct {
	log *slog.Logger
}

func (i devInvoker) Invoke(target crypto.Address, calldata []byte) error {
	i.log.Info("target invoked", "target", target.String(), "bytes", len(calldata))
	return nil
}

// devAdapter settles a swap one-for-one in the same token. It exists so the
// borrow-and-swap path can be exercised end to end without a venue.
type devAdapter struct {
	store  *storage.StateStore
	module crypto.Address
}

func (a devAdapter) Swap(token string, amount *big.Int, _ []byte) error {
	account, err := a.store.GetAccount(a.module)
	if err != nil {
		return err
	}
	if account == nil {
		account = types.NewAccount()
	}
	account.Credit(token, amount)
	return a.store.PutAccount(a.module, account)
}

func main() {
	configFile := flag.String("config", "./poold.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LIQUIDHUB_ENV"))
	logger := logging.Setup("poold", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	var db storage.Database
	if cfg.DataDir == ":memory:" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", "error", err.Error())
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	store := storage.NewStateStore(db)
	emitter := logEmitter{log: logger}

	moduleAddr := resolveModuleAddress(cfg)
	engine := pool.NewEngine(cfg.PoolID, cfg.Asset)
	engine.SetState(store)
	engine.SetEmitter(emitter)
	engine.SetModuleAddress(moduleAddr)
	engine.SetWrappedNative(cfg.WrappedNative)
	engine.SetInvoker(devInvoker{log: logger})

	var mpc crypto.Address
	if strings.TrimSpace(cfg.MPCAddress) != "" {
		mpc, err = crypto.DecodeAddress(cfg.MPCAddress)
		if err != nil {
			logger.Error("invalid MPC address", "error", err.Error())
			os.Exit(1)
		}
	}
	engine.SetVerifier(pool.NewVerifier(cfg.ChainID, cfg.PoolID, mpc))

	if cfg.Market.Enabled {
		treasury, err := crypto.DecodeAddress(cfg.Market.TreasuryAddress)
		if err != nil {
			logger.Error("invalid treasury address", "error", err.Error())
			os.Exit(1)
		}
		mkt := market.NewMemoryMarket(store, treasury, cfg.Market.LiquidationThresholdBps)
		for _, listing := range cfg.Tokens() {
			price, ok := new(big.Rat).SetString(listing.PriceUSD)
			if !ok {
				logger.Error("invalid token price", "token", listing.Symbol)
				os.Exit(1)
			}
			mkt.ListToken(listing.Symbol, price)
		}
		risk := pool.NewRiskEngine(cfg.PoolID, moduleAddr, mkt)
		risk.SetMinHealthFactor(cfg.MinHealthFactorBps)
		risk.SetDefaultLTV(cfg.DefaultLTVBps)
		engine.SetMarket(mkt, risk)
	}

	var ledger *vault.Ledger
	if cfg.Vault.Enabled {
		ledger = vault.NewLedger(cfg.PoolID, cfg.Asset)
		ledger.SetState(store)
		ledger.SetEmitter(emitter)
		ledger.SetRoles(engine.Roles())
		ledger.SetModuleAddress(moduleAddr)
		engine.SetFeeHandler(ledger)
	}

	if err := engine.InitPool(); err != nil {
		logger.Error("failed to initialise pool", "error", err.Error())
		os.Exit(1)
	}

	if strings.TrimSpace(cfg.AdminAddress) != "" {
		admin, err := crypto.DecodeAddress(cfg.AdminAddress)
		if err != nil {
			logger.Error("invalid admin address", "error", err.Error())
			os.Exit(1)
		}
		roles := engine.Roles()
		for _, role := range []string{
			pool.RoleDefaultAdmin,
			pool.RoleLiquidityAdmin,
			pool.RoleWithdrawProfit,
			pool.RolePauser,
			pool.RoleFeeSetter,
		} {
			if err := roles.Grant(role, admin); err != nil {
				logger.Error("failed to grant role", "role", role, "error", err.Error())
				os.Exit(1)
			}
		}
	}

	if cfg.Vault.Enabled && ledger != nil {
		if strings.TrimSpace(cfg.AdminAddress) != "" {
			admin, _ := crypto.DecodeAddress(cfg.AdminAddress)
			if err := ledger.SetProtocolFeeRate(admin, cfg.Vault.ProtocolFeeRateBps); err != nil {
				logger.Error("failed to set protocol fee rate", "error", err.Error())
				os.Exit(1)
			}
		}
	}

	srv := poold.New(poold.Config{
		Engine:  engine,
		Ledger:  ledger,
		Adapter: devAdapter{store: store, module: moduleAddr},
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress, "poolId", cfg.PoolID, "asset", cfg.Asset)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
}

// resolveModuleAddress uses the configured module account when present and
// otherwise derives a deterministic one from the pool identifier.
func resolveModuleAddress(cfg *config.Config) crypto.Address {
	if strings.TrimSpace(cfg.ModuleAddress) != "" {
		addr, err := crypto.DecodeAddress(cfg.ModuleAddress)
		if err == nil {
			return addr
		}
	}
	digest := ethcrypto.Keccak256([]byte(fmt.Sprintf("module/%s", cfg.PoolID)))
	return crypto.NewAddress(digest[12:])
}
