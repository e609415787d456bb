package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coordinator/internal/engine"
	"coordinator/internal/logger"
	"coordinator/internal/raffle"
	"coordinator/internal/storage"
)

const intentTimeout = 2 * time.Minute

// Coordinator is the raffle lifecycle as driven over HTTP.
type Coordinator interface {
	Initialize(ctx context.Context) (engine.Result, error)
	CreateRaffle(ctx context.Context, req engine.CreateRequest) (engine.Result, error)
	UpdateRafflePeriod(ctx context.Context, mint solana.PublicKey, end time.Time) (engine.Result, error)
	BuyTickets(ctx context.Context, mint solana.PublicKey, amount uint64) (engine.Result, error)
	RevealWinner(ctx context.Context, mint solana.PublicKey) (engine.RevealResult, error)
	ClaimReward(ctx context.Context, mint solana.PublicKey) (engine.Result, error)
	WithdrawNft(ctx context.Context, mint solana.PublicKey) (engine.Result, error)
	Describe(ctx context.Context, mint solana.PublicKey) (engine.Raffle, bool, error)
}

type Journal interface {
	GetOperationsByMint(mint string) ([]*storage.OperationRecord, error)
}

type Watcher interface {
	Watch(ctx context.Context, mint solana.PublicKey) (*storage.RaffleStatus, bool, error)
}

type RaffleController struct {
	coordinator Coordinator
	journal     Journal
	watcher     Watcher
	token       string
}

// NewRaffleController serves raffle routes. Intents spend the service
// wallet and require token as a bearer token.
func NewRaffleController(coordinator Coordinator, journal Journal, watcher Watcher, token string) *RaffleController {
	return &RaffleController{coordinator: coordinator, journal: journal, watcher: watcher, token: token}
}

func (c *RaffleController) RegisterRaffleRoutes(rg *gin.RouterGroup) {
	rg.GET("/raffles/:mint", c.handleGetRaffle)
	rg.GET("/raffles/:mint/operations", c.handleListOperations)

	intents := rg.Group("", RequireToken(c.token))
	intents.POST("/initialize", c.handleInitialize)
	intents.POST("/raffles", c.handleCreateRaffle)
	intents.POST("/raffles/:mint/period", c.handleUpdatePeriod)
	intents.POST("/raffles/:mint/tickets", c.handleBuyTickets)
	intents.POST("/raffles/:mint/reveal", c.handleReveal)
	intents.POST("/raffles/:mint/claim", c.handleClaim)
	intents.POST("/raffles/:mint/withdraw", c.handleWithdraw)
	intents.POST("/raffles/:mint/watch", c.handleWatch)
}

type resultResponse struct {
	Raffle    string `json:"raffle,omitempty"`
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

func newResultResponse(result engine.Result) resultResponse {
	resp := resultResponse{Signature: result.Signature.String(), Slot: result.Slot}
	if !result.Raffle.IsZero() {
		resp.Raffle = result.Raffle.String()
	}
	return resp
}

type winnerResponse struct {
	Address string `json:"address"`
	Claimed bool   `json:"claimed"`
}

type raffleResponse struct {
	Address     string           `json:"address"`
	Mint        string           `json:"mint"`
	Creator     string           `json:"creator"`
	Status      raffle.Status    `json:"status"`
	Entrants    uint64           `json:"entrants"`
	Held        uint64           `json:"held"`
	MaxEntrants uint64           `json:"maxEntrants"`
	WinnerCount uint64           `json:"winnerCount"`
	Whitelisted bool             `json:"whitelisted"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Prices      raffle.Prices    `json:"prices"`
	Winners     []winnerResponse `json:"winners"`
}

func newRaffleResponse(r engine.Raffle) raffleResponse {
	pool := r.Pool
	resp := raffleResponse{
		Address:     r.Address.String(),
		Mint:        pool.NftMint.String(),
		Creator:     pool.Creator.String(),
		Status:      r.Status,
		Entrants:    pool.Count,
		Held:        r.Held,
		MaxEntrants: pool.MaxEntrants,
		WinnerCount: pool.WinnerCount,
		Whitelisted: pool.Whitelisted,
		Start:       time.Unix(pool.StartTimestamp, 0).UTC(),
		End:         time.Unix(pool.EndTimestamp, 0).UTC(),
		Prices: raffle.Prices{
			Sol:   raffle.FromBaseUnits(pool.TicketPriceSol, raffle.CurrencySol),
			Booga: raffle.FromBaseUnits(pool.TicketPriceBooga, raffle.CurrencyBooga),
			Zion:  raffle.FromBaseUnits(pool.TicketPriceZion, raffle.CurrencyZion),
		},
		Winners: []winnerResponse{},
	}
	for i, winner := range pool.WinnerList() {
		resp.Winners = append(resp.Winners, winnerResponse{Address: winner.String(), Claimed: pool.Claimed(i)})
	}
	return resp
}

// writeError maps lifecycle failures onto HTTP statuses.
func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, raffle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, raffle.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, raffle.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, raffle.ErrInvalidState),
		errors.Is(err, raffle.ErrCapacityExceeded),
		errors.Is(err, raffle.ErrSeedExhausted):
		status = http.StatusConflict
	case errors.Is(err, raffle.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, raffle.ErrSettlementFailure):
		status = http.StatusBadGateway
	}

	body := gin.H{"error": err.Error()}
	var opErr *raffle.OperationError
	if errors.As(err, &opErr) {
		body["operation"] = opErr.Op
		body["precondition"] = opErr.Precondition
		if !opErr.Raffle.IsZero() {
			body["raffle"] = opErr.Raffle.String()
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("api: request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, body)
}

func mintParam(ctx *gin.Context) (solana.PublicKey, bool) {
	mint, err := solana.PublicKeyFromBase58(ctx.Param("mint"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint address"})
		return solana.PublicKey{}, false
	}
	return mint, true
}

func intentContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), intentTimeout)
}

func (c *RaffleController) handleInitialize(ctx *gin.Context) {
	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := c.coordinator.Initialize(reqCtx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newResultResponse(result))
}

func (c *RaffleController) handleCreateRaffle(ctx *gin.Context) {
	var req struct {
		Mint string `json:"mint"`
		// prices accept JSON numbers or decimal strings
		Prices      raffle.Prices `json:"prices"`
		End         time.Time     `json:"end"`
		WinnerCount uint64        `json:"winnerCount"`
		Whitelisted bool          `json:"whitelisted"`
		Max         uint64        `json:"max"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint address"})
		return
	}

	create := engine.CreateRequest{
		Mint:        mint,
		Prices:      req.Prices,
		End:         req.End,
		WinnerCount: req.WinnerCount,
		Whitelisted: req.Whitelisted,
		Max:         req.Max,
	}

	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := c.coordinator.CreateRaffle(reqCtx, create)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newResultResponse(result))
}

func (c *RaffleController) handleGetRaffle(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}
	r, found, err := c.coordinator.Describe(ctx.Request.Context(), mint)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no raffle for mint"})
		return
	}
	ctx.JSON(http.StatusOK, newRaffleResponse(r))
}

func (c *RaffleController) handleListOperations(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}
	records, err := c.journal.GetOperationsByMint(mint.String())
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, records)
}

func (c *RaffleController) handleUpdatePeriod(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}
	var req struct {
		End time.Time `json:"end"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := c.coordinator.UpdateRafflePeriod(reqCtx, mint, req.End)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newResultResponse(result))
}

func (c *RaffleController) handleBuyTickets(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := c.coordinator.BuyTickets(reqCtx, mint, req.Amount)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newResultResponse(result))
}

func (c *RaffleController) handleReveal(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := c.coordinator.RevealWinner(reqCtx, mint)
	if err != nil {
		writeError(ctx, err)
		return
	}

	winners := make([]string, 0, len(result.Winners))
	for _, winner := range result.Winners {
		winners = append(winners, winner.String())
	}
	ctx.JSON(http.StatusOK, gin.H{
		"raffle":    result.Raffle.String(),
		"signature": result.Signature.String(),
		"slot":      result.Slot,
		"winners":   winners,
		"audited":   result.Audited,
	})
}

func (c *RaffleController) handleClaim(ctx *gin.Context) {
	c.handleRelease(ctx, c.coordinator.ClaimReward)
}

func (c *RaffleController) handleWithdraw(ctx *gin.Context) {
	c.handleRelease(ctx, c.coordinator.WithdrawNft)
}

func (c *RaffleController) handleRelease(ctx *gin.Context, release func(context.Context, solana.PublicKey) (engine.Result, error)) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := intentContext(ctx)
	defer cancel()
	result, err := release(reqCtx, mint)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newResultResponse(result))
}

func (c *RaffleController) handleWatch(ctx *gin.Context) {
	mint, ok := mintParam(ctx)
	if !ok {
		return
	}
	status, found, err := c.watcher.Watch(ctx.Request.Context(), mint)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no raffle for mint"})
		return
	}
	ctx.JSON(http.StatusOK, status)
}
