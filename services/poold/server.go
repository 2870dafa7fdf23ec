package poold

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liquidhub/crypto"
	"liquidhub/native/pool"
	"liquidhub/native/vault"
	"liquidhub/observability/logging"
)

// Config captures the dependencies required to construct the gateway server.
type Config struct {
	Engine  *pool.Engine
	Ledger  *vault.Ledger
	Adapter pool.SwapAdapter
	Logger  *slog.Logger
}

// Server exposes the pool engine over HTTP. Engine access is serialised with
// a mutex because the engine itself assumes single-writer semantics.
type Server struct {
	engine  *pool.Engine
	ledger  *vault.Ledger
	adapter pool.SwapAdapter
	log     *slog.Logger
	metrics *Metrics
	mu      sync.Mutex

	router http.Handler
}

// New constructs a configured HTTP router over the engine.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		ledger:  cfg.Ledger,
		adapter: cfg.Adapter,
		log:     logger,
		metrics: Collect(),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)
	r.Use(s.timed)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/pool", s.handleStatus)
		api.Post("/pool/deposit", s.handleDeposit)
		api.Post("/pool/withdraw", s.handleWithdraw)
		api.Post("/pool/profit", s.handleWithdrawProfit)
		api.Post("/pool/repay", s.handleRepay)
		api.Post("/pool/pause", s.handlePause)
		api.Post("/pool/borrow-pause", s.handleBorrowPause)
		api.Post("/pool/borrow", s.handleBorrow)
		api.Post("/pool/borrow-swap", s.handleBorrowAndSwap)

		api.Post("/admin/mpc", s.handleSetMPC)
		api.Post("/admin/risk", s.handleSetRisk)
		api.Post("/admin/roles/grant", s.handleGrantRole)
		api.Post("/admin/roles/revoke", s.handleRevokeRole)

		api.Get("/vault", s.handleVaultStatus)
		api.Post("/vault/deposit", s.handleVaultDeposit)
		api.Post("/vault/mint", s.handleVaultMint)
		api.Post("/vault/withdraw", s.handleVaultWithdraw)
		api.Post("/vault/redeem", s.handleVaultRedeem)
		api.Post("/vault/fee-rate", s.handleVaultFeeRate)
		api.Post("/vault/collect-fees", s.handleVaultCollectFees)
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.ObserveLatency(route, time.Since(start).Seconds())
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrInvalidSignature), errors.Is(err, pool.ErrExpiredSignature):
		return http.StatusUnauthorized
	case errors.Is(err, pool.ErrNonceAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, pool.ErrEnforcedPause), errors.Is(err, pool.ErrBorrowingPaused):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrHealthFactorTooLow),
		errors.Is(err, pool.ErrTokenLTVExceeded),
		errors.Is(err, pool.ErrInsufficientSwapResult),
		errors.Is(err, pool.ErrTargetCallFailed),
		errors.Is(err, pool.ErrNoProfit),
		errors.Is(err, pool.ErrNothingToRepay),
		errors.Is(err, pool.ErrNotEnoughToDeposit),
		errors.Is(err, vault.ErrInsufficientAssets),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrNoFees):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, pool.ErrNonceAlreadyUsed) {
		s.metrics.ObserveReplay()
	}
	s.log.Error("operation failed",
		logging.MaskField("op", op),
		logging.MaskField("error", err.Error()),
	)
	writeJSON(w, httpStatus(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

func parseHex(field, value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return raw, nil
}

type statusResponse struct {
	PoolID          string `json:"poolId"`
	Asset           string `json:"asset"`
	Paused          bool   `json:"paused"`
	BorrowPaused    bool   `json:"borrowPaused"`
	TotalDeposited  string `json:"totalDeposited"`
	AssetBalance    string `json:"assetBalance"`
	Profit          string `json:"profit"`
	ReservedFees    string `json:"reservedFees"`
	MPCAddress      string `json:"mpcAddress,omitempty"`
	MinHealthFactor uint64 `json:"minHealthFactorBps,omitempty"`
	DefaultLTV      uint64 `json:"defaultLtvBps,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status, err := s.engine.Status()
	s.mu.Unlock()
	s.metrics.ObserveOp("status", err)
	if err != nil {
		s.writeError(w, "status", err)
		return
	}
	resp := statusResponse{
		PoolID:          status.PoolID,
		Asset:           status.Asset,
		Paused:          status.Paused,
		BorrowPaused:    status.BorrowPaused,
		TotalDeposited:  status.TotalDeposited.String(),
		AssetBalance:    status.AssetBalance.String(),
		Profit:          status.Profit.String(),
		ReservedFees:    status.ReservedFees.String(),
		MinHealthFactor: status.MinHealthFactor,
		DefaultLTV:      status.DefaultLTV,
	}
	if !status.MPCAddress.IsZero() {
		resp.MPCAddress = status.MPCAddress.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type depositRequest struct {
	Caller string `json:"caller"`
	From   string `json:"from,omitempty"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.mu.Lock()
	if strings.TrimSpace(req.From) != "" {
		var from crypto.Address
		from, err = parseAddress("from", req.From)
		if err == nil {
			err = s.engine.DepositWithPull(caller, from, amount)
		}
	} else {
		err = s.engine.Deposit(caller, amount)
	}
	s.mu.Unlock()
	s.metrics.ObserveOp("deposit", err)
	if err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.log.Info("principal deposited",
		logging.MaskField("op", "deposit"),
		logging.MaskField("caller", req.Caller),
		logging.MaskField("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	s.mu.Lock()
	err = s.engine.Withdraw(caller, to, amount)
	s.mu.Unlock()
	s.metrics.ObserveOp("withdraw", err)
	if err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	s.log.Info("principal withdrawn",
		logging.MaskField("op", "withdraw"),
		logging.MaskField("caller", req.Caller),
		logging.MaskField("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type profitRequest struct {
	Caller string   `json:"caller"`
	To     string   `json:"to"`
	Tokens []string `json:"tokens"`
}

func (s *Server) handleWithdrawProfit(w http.ResponseWriter, r *http.Request) {
	var req profitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "withdrawProfit", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "withdrawProfit", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, "withdrawProfit", err)
		return
	}
	s.mu.Lock()
	err = s.engine.WithdrawProfit(caller, to, req.Tokens)
	s.mu.Unlock()
	s.metrics.ObserveOp("withdrawProfit", err)
	if err != nil {
		s.writeError(w, "withdrawProfit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type repayRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "repay", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "repay", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, "repay", err)
		return
	}
	s.mu.Lock()
	applied, err := s.engine.Repay(caller, req.Token, amount)
	s.mu.Unlock()
	s.metrics.ObserveOp("repay", err)
	if err != nil {
		s.writeError(w, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repaid": applied.String()})
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "pause", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "pause", err)
		return
	}
	s.mu.Lock()
	err = s.engine.SetPaused(caller, req.Paused)
	s.mu.Unlock()
	s.metrics.ObserveOp("pause", err)
	if err != nil {
		s.writeError(w, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBorrowPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "borrowPause", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "borrowPause", err)
		return
	}
	s.mu.Lock()
	err = s.engine.SetBorrowPaused(caller, req.Paused)
	s.mu.Unlock()
	s.metrics.ObserveOp("borrowPause", err)
	if err != nil {
		s.writeError(w, "borrowPause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type borrowRequest struct {
	Caller          string   `json:"caller"`
	Tokens          []string `json:"tokens"`
	Amounts         []string `json:"amounts"`
	Target          string   `json:"target"`
	Calldata        string   `json:"calldata,omitempty"`
	Nonce           uint64   `json:"nonce"`
	Deadline        int64    `json:"deadline,omitempty"`
	AmountToReceive string   `json:"amountToReceive,omitempty"`
	Signature       string   `json:"signature"`

	FillToken  string `json:"fillToken,omitempty"`
	FillAmount string `json:"fillAmount,omitempty"`
	SwapData   string `json:"swapData,omitempty"`
}

func (s *Server) parseBorrow(req *borrowRequest) (crypto.Address, *pool.BorrowRequest, []byte, error) {
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return crypto.Address{}, nil, nil, err
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		return crypto.Address{}, nil, nil, err
	}
	if len(req.Tokens) == 0 || len(req.Tokens) != len(req.Amounts) {
		return crypto.Address{}, nil, nil, pool.ErrInvalidLength
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amounts[i], err = parseAmount("amounts", raw)
		if err != nil {
			return crypto.Address{}, nil, nil, err
		}
	}
	calldata, err := parseHex("calldata", req.Calldata)
	if err != nil {
		return crypto.Address{}, nil, nil, err
	}
	signature, err := parseHex("signature", req.Signature)
	if err != nil {
		return crypto.Address{}, nil, nil, err
	}
	borrow := &pool.BorrowRequest{
		Tokens:   req.Tokens,
		Amounts:  amounts,
		Target:   target,
		Calldata: calldata,
		Nonce:    req.Nonce,
		Deadline: req.Deadline,
	}
	if strings.TrimSpace(req.AmountToReceive) != "" {
		borrow.AmountToReceive, err = parseAmount("amountToReceive", req.AmountToReceive)
		if err != nil {
			return crypto.Address{}, nil, nil, err
		}
	}
	return caller, borrow, signature, nil
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "borrow", err)
		return
	}
	caller, borrow, signature, err := s.parseBorrow(&req)
	if err != nil {
		s.writeError(w, "borrow", err)
		return
	}
	s.mu.Lock()
	if len(borrow.Tokens) == 1 {
		err = s.engine.Borrow(caller, borrow, signature)
	} else {
		err = s.engine.BorrowMany(caller, borrow, signature)
	}
	s.mu.Unlock()
	s.metrics.ObserveOp("borrow", err)
	if err != nil {
		s.writeError(w, "borrow", err)
		return
	}
	s.log.Info("borrow executed",
		logging.MaskField("op", "borrow"),
		logging.MaskField("caller", req.Caller),
		logging.MaskField("target", req.Target),
		logging.MaskField("nonce", strconv.FormatUint(req.Nonce, 10)),
		logging.MaskField("signature", req.Signature),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBorrowAndSwap(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "borrowAndSwap", err)
		return
	}
	caller, borrow, signature, err := s.parseBorrow(&req)
	if err != nil {
		s.writeError(w, "borrowAndSwap", err)
		return
	}
	fillAmount, err := parseAmount("fillAmount", req.FillAmount)
	if err != nil {
		s.writeError(w, "borrowAndSwap", err)
		return
	}
	swapData, err := parseHex("swapData", req.SwapData)
	if err != nil {
		s.writeError(w, "borrowAndSwap", err)
		return
	}
	settle := &pool.SwapSettlement{
		FillToken:  strings.TrimSpace(req.FillToken),
		FillAmount: fillAmount,
		SwapData:   swapData,
	}
	s.mu.Lock()
	if len(borrow.Tokens) == 1 {
		err = s.engine.BorrowAndSwap(caller, borrow, signature, settle, s.adapter)
	} else {
		err = s.engine.BorrowAndSwapMany(caller, borrow, signature, settle, s.adapter)
	}
	s.mu.Unlock()
	s.metrics.ObserveOp("borrowAndSwap", err)
	if err != nil {
		s.writeError(w, "borrowAndSwap", err)
		return
	}
	s.log.Info("borrow and swap executed",
		logging.MaskField("op", "borrowAndSwap"),
		logging.MaskField("caller", req.Caller),
		logging.MaskField("token", settle.FillToken),
		logging.MaskField("nonce", strconv.FormatUint(req.Nonce, 10)),
		logging.MaskField("swapData", req.SwapData),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setMPCRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

func (s *Server) handleSetMPC(w http.ResponseWriter, r *http.Request) {
	var req setMPCRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "setMPC", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "setMPC", err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writeError(w, "setMPC", err)
		return
	}
	s.mu.Lock()
	err = s.engine.SetMPCAddress(caller, addr)
	s.mu.Unlock()
	s.metrics.ObserveOp("setMPC", err)
	if err != nil {
		s.writeError(w, "setMPC", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setRiskRequest struct {
	Caller             string   `json:"caller"`
	MinHealthFactorBps *uint64  `json:"minHealthFactorBps,omitempty"`
	DefaultLTVBps      *uint64  `json:"defaultLtvBps,omitempty"`
	Tokens             []string `json:"tokens,omitempty"`
	TokenLTVBps        []uint64 `json:"tokenLtvBps,omitempty"`
}

func (s *Server) handleSetRisk(w http.ResponseWriter, r *http.Request) {
	var req setRiskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "setRisk", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "setRisk", err)
		return
	}
	s.mu.Lock()
	if req.MinHealthFactorBps != nil {
		err = s.engine.SetMinHealthFactor(caller, *req.MinHealthFactorBps)
	}
	if err == nil && req.DefaultLTVBps != nil {
		err = s.engine.SetDefaultLTV(caller, *req.DefaultLTVBps)
	}
	if err == nil && len(req.Tokens) > 0 {
		err = s.engine.SetBorrowTokenLTVs(caller, req.Tokens, req.TokenLTVBps)
	}
	s.mu.Unlock()
	s.metrics.ObserveOp("setRisk", err)
	if err != nil {
		s.writeError(w, "setRisk", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type roleRequest struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request, op string, apply func(role string, addr crypto.Address) error) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, op, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	s.mu.Lock()
	if !s.engine.Roles().Has(pool.RoleDefaultAdmin, caller) {
		err = pool.ErrUnauthorized
	} else {
		err = apply(req.Role, addr)
	}
	s.mu.Unlock()
	s.metrics.ObserveOp(op, err)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.handleRole(w, r, "grantRole", s.engine.Roles().Grant)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.handleRole(w, r, "revokeRole", s.engine.Roles().Revoke)
}

type vaultStatusResponse struct {
	TotalAssets  string `json:"totalAssets"`
	TotalShares  string `json:"totalShares"`
	FeeRateBps   uint64 `json:"protocolFeeRateBps"`
	AccruedFees  string `json:"accruedProtocolFees"`
	ShareBalance string `json:"shareBalance,omitempty"`
}

var errVaultDisabled = errors.New("vault not enabled")

func (s *Server) handleVaultStatus(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, "vaultStatus", errVaultDisabled)
		return
	}
	s.mu.Lock()
	assets, err := s.ledger.TotalAssets()
	var shares *big.Int
	if err == nil {
		shares, err = s.ledger.TotalShares()
	}
	var rate uint64
	if err == nil {
		rate, err = s.ledger.ProtocolFeeRate()
	}
	var fees *big.Int
	if err == nil {
		fees, err = s.ledger.AccruedProtocolFees()
	}
	resp := vaultStatusResponse{}
	if err == nil {
		if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
			var addr crypto.Address
			addr, err = parseAddress("owner", owner)
			if err == nil {
				var held *big.Int
				held, err = s.ledger.SharesOf(addr)
				if err == nil {
					resp.ShareBalance = held.String()
				}
			}
		}
	}
	s.mu.Unlock()
	s.metrics.ObserveOp("vaultStatus", err)
	if err != nil {
		s.writeError(w, "vaultStatus", err)
		return
	}
	resp.TotalAssets = assets.String()
	resp.TotalShares = shares.String()
	resp.FeeRateBps = rate
	resp.AccruedFees = fees.String()
	writeJSON(w, http.StatusOK, resp)
}

type vaultMoveRequest struct {
	Owner  string `json:"owner"`
	To     string `json:"to,omitempty"`
	Assets string `json:"assets,omitempty"`
	Shares string `json:"shares,omitempty"`
}

func (s *Server) handleVaultMove(w http.ResponseWriter, r *http.Request, op string, needTo bool, apply func(owner, to crypto.Address, amount *big.Int) (*big.Int, error)) {
	if s.ledger == nil {
		s.writeError(w, op, errVaultDisabled)
		return
	}
	var req vaultMoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, op, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	to := owner
	if needTo && strings.TrimSpace(req.To) != "" {
		to, err = parseAddress("to", req.To)
		if err != nil {
			s.writeError(w, op, err)
			return
		}
	}
	raw := req.Assets
	if raw == "" {
		raw = req.Shares
	}
	amount, err := parseAmount("amount", raw)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	s.mu.Lock()
	out, err := apply(owner, to, amount)
	s.mu.Unlock()
	s.metrics.ObserveOp(op, err)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": out.String()})
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, "vaultDeposit", false, func(owner, _ crypto.Address, amount *big.Int) (*big.Int, error) {
		return s.ledger.Deposit(owner, amount)
	})
}

func (s *Server) handleVaultMint(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, "vaultMint", false, func(owner, _ crypto.Address, amount *big.Int) (*big.Int, error) {
		return s.ledger.Mint(owner, amount)
	})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, "vaultWithdraw", true, func(owner, to crypto.Address, amount *big.Int) (*big.Int, error) {
		return s.ledger.Withdraw(owner, to, amount)
	})
}

func (s *Server) handleVaultRedeem(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, "vaultRedeem", true, func(owner, to crypto.Address, amount *big.Int) (*big.Int, error) {
		return s.ledger.Redeem(owner, to, amount)
	})
}

type feeRateRequest struct {
	Caller string `json:"caller"`
	Bps    uint64 `json:"bps"`
}

func (s *Server) handleVaultFeeRate(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, "vaultFeeRate", errVaultDisabled)
		return
	}
	var req feeRateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "vaultFeeRate", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "vaultFeeRate", err)
		return
	}
	s.mu.Lock()
	err = s.ledger.SetProtocolFeeRate(caller, req.Bps)
	s.mu.Unlock()
	s.metrics.ObserveOp("vaultFeeRate", err)
	if err != nil {
		s.writeError(w, "vaultFeeRate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type collectFeesRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

func (s *Server) handleVaultCollectFees(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, "vaultCollectFees", errVaultDisabled)
		return
	}
	var req collectFeesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "vaultCollectFees", err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, "vaultCollectFees", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, "vaultCollectFees", err)
		return
	}
	s.mu.Lock()
	amount, err := s.ledger.WithdrawProtocolFees(caller, to)
	s.mu.Unlock()
	s.metrics.ObserveOp("vaultCollectFees", err)
	if err != nil {
		s.writeError(w, "vaultCollectFees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collected": amount.String()})
}
