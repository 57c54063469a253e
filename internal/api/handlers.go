package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/reconciler"
	"custody-ledger/internal/storage"
	"custody-ledger/internal/withdrawal"
)

// getBalances handles GET /balances.
func (s *Server) getBalances(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	balances, err := s.ledger.Balances(c.Request.Context(), user)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, balances)
}

// getHistory handles GET /history.
func (s *Server) getHistory(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	limit, offset, valid := paging(c, domain.DefaultHistoryLimit)
	if !valid {
		return
	}
	from, valid := queryInt64(c, "from")
	if !valid {
		return
	}
	to, valid := queryInt64(c, "to")
	if !valid {
		return
	}

	filter := domain.HistoryFilter{
		Asset:       domain.AssetCode(c.Query("asset")),
		EntryType:   domain.EntryType(c.Query("type")),
		ReferenceID: c.Query("reference"),
		FromMs:      from,
		ToMs:        to,
		Limit:       limit,
		Offset:      offset,
	}
	if filter.EntryType != "" && !filter.EntryType.IsValid() {
		fail(c, http.StatusBadRequest, "unknown entry type")
		return
	}

	entries, err := s.ledger.History(c.Request.Context(), user, filter)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.entryViews(entries))
}

func (s *Server) listDeposits(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	limit, offset, valid := paging(c, 50)
	if !valid {
		return
	}
	deposits, err := s.reconciler.Deposits(c.Request.Context(), user, limit, offset)
	if err != nil {
		s.failErr(c, err)
		return
	}
	out := make([]depositView, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, s.depositView(d))
	}
	ok(c, out)
}

// requestWithdrawal handles POST /withdrawals.
func (s *Server) requestWithdrawal(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	var in withdrawal.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = user

	w, err := s.withdrawals.Request(c.Request.Context(), in)
	if err != nil {
		s.failErr(c, err)
		return
	}
	created(c, s.withdrawalView(w))
}

func (s *Server) listWithdrawals(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	limit, offset, valid := paging(c, 50)
	if !valid {
		return
	}
	list, err := s.withdrawals.List(c.Request.Context(), user, domain.WithdrawalStatus(c.Query("status")), limit, offset)
	if err != nil {
		s.failErr(c, err)
		return
	}
	out := make([]withdrawalView, 0, len(list))
	for _, w := range list {
		out = append(out, s.withdrawalView(w))
	}
	ok(c, out)
}

func (s *Server) getWithdrawal(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	w, err := s.withdrawals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	if w.UserID != user {
		fail(c, http.StatusNotFound, "withdrawal not found")
		return
	}
	ok(c, s.withdrawalView(w))
}

// withdrawalLimits handles GET /withdrawals/limits. Limit denials are a
// normal answer here and come back as 200 with allowed=false.
func (s *Server) withdrawalLimits(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	asset, amount := c.Query("asset"), c.Query("amount")
	if asset == "" || amount == "" {
		fail(c, http.StatusBadRequest, "asset and amount are required")
		return
	}

	d, err := s.withdrawals.Preview(c.Request.Context(), user, domain.AssetCode(asset), amount)
	if err != nil && (d == nil || statusFor(err) >= http.StatusInternalServerError) {
		s.failErr(c, err)
		return
	}
	ok(c, d)
}

type swapBody struct {
	FromAsset domain.AssetCode `json:"from_asset" binding:"required"`
	ToAsset   domain.AssetCode `json:"to_asset" binding:"required"`
	Amount    string           `json:"amount" binding:"required"`
}

// requestSwap handles POST /swaps. The Idempotency-Key header, when set,
// makes retries return the original result.
func (s *Server) requestSwap(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	var body swapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, code := range []domain.AssetCode{body.FromAsset, body.ToAsset} {
		if _, err := s.chains.Asset(code); err != nil {
			s.failErr(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	rate, err := s.rates.Rate(ctx, body.FromAsset, body.ToAsset)
	if err != nil {
		s.failErr(c, err)
		return
	}

	res, err := s.exchange.Swap(ctx, exchange.SwapRequest{
		UserID:      user,
		FromAsset:   body.FromAsset,
		ToAsset:     body.ToAsset,
		FromAmount:  body.Amount,
		Rate:        rate,
		ReferenceID: idempotencyKey(c),
	})
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, res)
}

// requestBridge handles POST /bridges.
func (s *Server) requestBridge(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	var req exchange.BridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = user
	req.ReferenceID = idempotencyKey(c)

	res, err := s.exchange.Bridge(c.Request.Context(), req)
	if err != nil {
		s.failErr(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Data: gin.H{
		"transfer":   s.bridgeView(res.Transfer),
		"net_amount": res.NetAmount,
		"fee":        res.Fee,
		"replayed":   res.Replayed,
	}})
}

func (s *Server) listBridges(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	limit, offset, valid := paging(c, 50)
	if !valid {
		return
	}
	list, err := s.exchange.ListBridges(c.Request.Context(), user, limit, offset)
	if err != nil {
		s.failErr(c, err)
		return
	}
	out := make([]bridgeView, 0, len(list))
	for _, b := range list {
		out = append(out, s.bridgeView(b))
	}
	ok(c, out)
}

func (s *Server) getBridge(c *gin.Context) {
	user, valid := userID(c)
	if !valid {
		return
	}
	b, err := s.exchange.GetBridge(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	if b.UserID != user {
		fail(c, http.StatusNotFound, "bridge transfer not found")
		return
	}
	ok(c, s.bridgeView(b))
}

// reportObservation handles POST /watcher/observations.
func (s *Server) reportObservation(c *gin.Context) {
	var obs reconciler.Observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.reconciler.Report(c.Request.Context(), obs)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.depositView(d))
}

// reportInvalidation handles POST /watcher/invalidations. A credited
// deposit answers 409 with the raised reversal proposal in data.
func (s *Server) reportInvalidation(c *gin.Context) {
	var inv reconciler.Invalidation
	if err := c.ShouldBindJSON(&inv); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.reconciler.Invalidate(c.Request.Context(), inv)
	switch {
	case err != nil && p != nil:
		c.AbortWithStatusJSON(statusFor(err), Response{Success: false, Data: s.reversalView(p), Error: err.Error()})
	case err != nil:
		s.failErr(c, err)
	default:
		ok(c, gin.H{"invalidated": true})
	}
}

// reportPayoutResult handles POST /payouts/result.
func (s *Server) reportPayoutResult(c *gin.Context) {
	var res domain.PayoutResult
	if err := c.ShouldBindJSON(&res); err != nil || res.WithdrawalID == "" {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	w, err := s.withdrawals.ReportPayoutResult(c.Request.Context(), res)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.withdrawalView(w))
}

type depositAddressBody struct {
	Network domain.NetworkCode `json:"network" binding:"required"`
	Address string             `json:"address" binding:"required"`
	UserID  string             `json:"user_id" binding:"required"`
}

func (s *Server) registerDepositAddress(c *gin.Context) {
	var body depositAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := s.reconciler.RegisterAddress(c.Request.Context(), body.Network, body.Address, body.UserID)
	if err != nil {
		s.failErr(c, err)
		return
	}
	created(c, gin.H{
		"network":     a.Network,
		"address":     a.Address,
		"user_id":     a.UserID,
		"address_url": s.chains.AddressURL(a.Network, a.Address),
		"created_at":  a.CreatedAt,
	})
}

type reviewBody struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

// review reads an optional review body. The reviewer defaults to "admin".
func review(c *gin.Context) (reviewBody, bool) {
	var body reviewBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return body, false
		}
	}
	if body.Reviewer == "" {
		body.Reviewer = "admin"
	}
	return body, true
}

func (s *Server) approveWithdrawal(c *gin.Context) {
	body, valid := review(c)
	if !valid {
		return
	}
	w, err := s.withdrawals.Approve(c.Request.Context(), c.Param("id"), body.Reviewer)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.withdrawalView(w))
}

func (s *Server) rejectWithdrawal(c *gin.Context) {
	body, valid := review(c)
	if !valid {
		return
	}
	w, err := s.withdrawals.Reject(c.Request.Context(), c.Param("id"), body.Reviewer, body.Reason)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.withdrawalView(w))
}

func (s *Server) listReversals(c *gin.Context) {
	limit, offset, valid := paging(c, 50)
	if !valid {
		return
	}
	status := domain.ReversalStatus(c.DefaultQuery("status", string(domain.ReversalPending)))
	list, err := s.reconciler.Reversals(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.failErr(c, err)
		return
	}
	out := make([]reversalView, 0, len(list))
	for _, p := range list {
		out = append(out, s.reversalView(p))
	}
	ok(c, out)
}

func (s *Server) approveReversal(c *gin.Context) {
	body, valid := review(c)
	if !valid {
		return
	}
	receipt, err := s.reconciler.ApproveReversal(c.Request.Context(), c.Param("id"), body.Reviewer)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, gin.H{
		"reference_id": receipt.ReferenceID,
		"replayed":     receipt.Replayed,
		"entries":      s.entryViews(receipt.Entries),
	})
}

func (s *Server) rejectReversal(c *gin.Context) {
	body, valid := review(c)
	if !valid {
		return
	}
	if err := s.reconciler.RejectReversal(c.Request.Context(), c.Param("id"), body.Reviewer, body.Reason); err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id"), "status": domain.ReversalRejected})
}

type bridgeObservationBody struct {
	DestTxHash    string `json:"dest_tx_hash" binding:"required"`
	Confirmations int64  `json:"confirmations"`
}

func (s *Server) reportBridgeObservation(c *gin.Context) {
	var body bridgeObservationBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Confirmations < 0 {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := s.exchange.ReportBridgeObservation(c.Request.Context(), c.Param("id"), body.DestTxHash, body.Confirmations)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.bridgeView(b))
}

func (s *Server) failBridge(c *gin.Context) {
	body, valid := review(c)
	if !valid {
		return
	}
	b, err := s.exchange.FailBridge(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, s.bridgeView(b))
}

// feesSummary handles GET /admin/fees/summary?from=&to= (ms). The default
// window is the last 30 days.
func (s *Server) feesSummary(c *gin.Context) {
	if s.history == nil {
		fail(c, http.StatusServiceUnavailable, "history sink is not configured")
		return
	}
	from, valid := queryInt64(c, "from")
	if !valid {
		return
	}
	to, valid := queryInt64(c, "to")
	if !valid {
		return
	}
	now := s.now()
	if to == 0 {
		to = now.UnixMilli()
	}
	if from == 0 {
		from = now.Add(-30 * 24 * time.Hour).UnixMilli()
	}
	if from > to {
		fail(c, http.StatusBadRequest, "from is after to")
		return
	}

	totals, err := s.history.FeeTotals(c.Request.Context(), from, to)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidInput) {
			err = errors.Join(domain.ErrExternalServiceUnavailable, err)
		}
		s.failErr(c, err)
		return
	}
	out := make([]feeTotalView, 0, len(totals))
	for _, t := range totals {
		out = append(out, feeTotalView{
			Day:     t.Day,
			Asset:   string(t.Asset),
			Pool:    string(t.Pool),
			Amount:  s.format(t.Asset, t.Amount),
			Entries: t.Entries,
		})
	}
	ok(c, out)
}

// idempotencyKey returns the Idempotency-Key header or a fresh key.
func idempotencyKey(c *gin.Context) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return uuid.NewString()
}
