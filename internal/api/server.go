// Package api exposes the custody ledger over HTTP with gin.
package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"custody-ledger/internal/chain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/provider"
	"custody-ledger/internal/reconciler"
	"custody-ledger/internal/storage"
	"custody-ledger/internal/withdrawal"
)

// Keys are the shared secrets of the privileged route groups.
type Keys struct {
	Admin     string
	Watcher   string
	Processor string
}

// StatusFunc contributes component state to GET /status.
type StatusFunc func() map[string]interface{}

// Options configures a Server.
type Options struct {
	Ledger      *ledger.Ledger
	Reconciler  *reconciler.Reconciler
	Withdrawals *withdrawal.Service
	Exchange    *exchange.Engine
	Chains      *chain.Registry
	Rates       provider.RateOracle
	History     storage.HistorySink // optional; enables /admin/fees/summary
	Keys        Keys
	RateLimit   RateLimitConfig
	Status      StatusFunc // optional
	Logger      *log.Logger
	Now         func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	ledger      *ledger.Ledger
	reconciler  *reconciler.Reconciler
	withdrawals *withdrawal.Service
	exchange    *exchange.Engine
	chains      *chain.Registry
	rates       provider.RateOracle
	history     storage.HistorySink
	keys        Keys
	limiter     *IPRateLimiter
	status      StatusFunc
	logger      *log.Logger
	now         func() time.Time
	started     time.Time
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Ledger == nil || opts.Reconciler == nil || opts.Withdrawals == nil ||
		opts.Exchange == nil || opts.Chains == nil || opts.Rates == nil {
		return nil, fmt.Errorf("api: ledger, reconciler, withdrawals, exchange, chains and rates are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RateLimit.RequestsPerSecond <= 0 {
		opts.RateLimit.RequestsPerSecond = 10
	}
	if opts.RateLimit.BurstSize <= 0 {
		opts.RateLimit.BurstSize = 20
	}

	return &Server{
		ledger:      opts.Ledger,
		reconciler:  opts.Reconciler,
		withdrawals: opts.Withdrawals,
		exchange:    opts.Exchange,
		chains:      opts.Chains,
		rates:       opts.Rates,
		history:     opts.History,
		keys:        opts.Keys,
		limiter:     NewIPRateLimiter(opts.RateLimit, opts.Now),
		status:      opts.Status,
		logger:      opts.Logger,
		now:         opts.Now,
		started:     opts.Now(),
	}, nil
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))

	router.GET("/health", s.health)
	router.GET("/status", s.statusHandler)
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(s.limiter.Middleware())
	{
		v1.GET("/networks", s.networks)

		// User routes
		v1.GET("/balances", s.getBalances)
		v1.GET("/history", s.getHistory)
		v1.POST("/withdrawals", s.requestWithdrawal)
		v1.GET("/withdrawals", s.listWithdrawals)
		v1.GET("/withdrawals/limits", s.withdrawalLimits)
		v1.GET("/withdrawals/:id", s.getWithdrawal)
		v1.POST("/swaps", s.requestSwap)
		v1.POST("/bridges", s.requestBridge)
		v1.GET("/bridges", s.listBridges)
		v1.GET("/bridges/:id", s.getBridge)
		v1.GET("/deposits", s.listDeposits)

		// Chain watcher
		watcher := v1.Group("/watcher", requireKey(s.keys.Watcher))
		watcher.POST("/observations", s.reportObservation)
		watcher.POST("/invalidations", s.reportInvalidation)

		// Payout processor
		v1.POST("/payouts/result", requireKey(s.keys.Processor), s.reportPayoutResult)

		admin := v1.Group("/admin", requireKey(s.keys.Admin))
		admin.POST("/deposit-addresses", s.registerDepositAddress)
		admin.POST("/withdrawals/:id/approve", s.approveWithdrawal)
		admin.POST("/withdrawals/:id/reject", s.rejectWithdrawal)
		admin.GET("/reversals", s.listReversals)
		admin.POST("/reversals/:id/approve", s.approveReversal)
		admin.POST("/reversals/:id/reject", s.rejectReversal)
		admin.POST("/bridges/:id/observation", s.reportBridgeObservation)
		admin.POST("/bridges/:id/fail", s.failBridge)
		admin.GET("/fees/summary", s.feesSummary)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	data := map[string]interface{}{
		"started_at":     s.started.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(s.now().Sub(s.started).Seconds()),
		"networks":       len(s.chains.Networks()),
		"assets":         len(s.chains.Assets()),
		"history_sink":   s.history != nil,
	}
	if s.status != nil {
		for k, v := range s.status() {
			data[k] = v
		}
	}
	ok(c, data)
}

type networkView struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	NativeAsset        string   `json:"native_asset"`
	MinConfirmations   int64    `json:"min_confirmations"`
	Assets             []string `json:"assets"`
	ExplorerTxURL      string   `json:"explorer_tx_url"`
	ExplorerAddressURL string   `json:"explorer_address_url"`
}

func (s *Server) networks(c *gin.Context) {
	list := s.chains.Networks()
	out := make([]networkView, 0, len(list))
	for _, n := range list {
		assets := make([]string, 0, len(n.Assets))
		for _, a := range n.Assets {
			assets = append(assets, string(a))
		}
		out = append(out, networkView{
			Code:               string(n.Code),
			Name:               n.Name,
			NativeAsset:        string(n.NativeAsset),
			MinConfirmations:   n.MinConfirmations,
			Assets:             assets,
			ExplorerTxURL:      n.ExplorerTxURL,
			ExplorerAddressURL: n.ExplorerAddressURL,
		})
	}
	ok(c, out)
}
