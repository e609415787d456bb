// Package engine implements the raffle lifecycle: every intent is checked
// against the current ledger state, turned into one bundle and settled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/address"
	"coordinator/internal/assembler"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/program"
	"coordinator/internal/provision"
	"coordinator/internal/raffle"
	"coordinator/internal/registry"
	"coordinator/internal/storage"
)

const (
	OpInitialize         = "initialize"
	OpCreateRaffle       = "createRaffle"
	OpUpdateRafflePeriod = "updateRafflePeriod"
	OpBuyTickets         = "buyTickets"
	OpRevealWinner       = "revealWinner"
	OpClaimReward        = "claimReward"
	OpWithdrawNft        = "withdrawNft"
)

// DefaultWithdrawGrace is how long after its end a raffle with entrants
// must stay unclaimed before the creator may take the collectible back.
const DefaultWithdrawGrace = 72 * time.Hour

// Watchlist receives the latest known state of raffles the engine touched.
type Watchlist interface {
	UpdateRaffleStatus(status *storage.RaffleStatus) error
}

type Option func(*Engine)

// WithClock overrides the time source deadlines are checked against.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithWithdrawGrace(grace time.Duration) Option {
	return func(e *Engine) {
		e.withdrawGrace = grace
	}
}

func WithWatchlist(watchlist Watchlist) Option {
	return func(e *Engine) {
		e.watchlist = watchlist
	}
}

type Engine struct {
	env           ledger.Env
	mints         raffle.Mints
	resolver      *address.Resolver
	registry      *registry.Registry
	provisioner   *provision.Provisioner
	builder       *program.Builder
	assembler     *assembler.Assembler
	watchlist     Watchlist
	now           func() time.Time
	withdrawGrace time.Duration
}

func New(env ledger.Env, mints raffle.Mints, submitter *assembler.Assembler, options ...Option) *Engine {
	resolver := address.NewResolver(env.ProgramID)
	e := &Engine{
		env:           env,
		mints:         mints,
		resolver:      resolver,
		registry:      registry.New(env.Client, env.ProgramID),
		provisioner:   provision.NewProvisioner(env.Client, resolver),
		builder:       program.NewBuilder(env.ProgramID),
		assembler:     submitter,
		now:           time.Now,
		withdrawGrace: DefaultWithdrawGrace,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *Engine) Resolver() *address.Resolver {
	return e.resolver
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Result identifies the raffle an intent acted on and its settlement.
type Result struct {
	Raffle    solana.PublicKey
	Signature solana.Signature
	Slot      uint64
}

func fail(op string, mint, raffleAddr solana.PublicKey, precondition string, err error) error {
	return &raffle.OperationError{Op: op, Mint: mint, Raffle: raffleAddr, Precondition: precondition, Err: err}
}

// live resolves the raffle currently associated with mint.
func (e *Engine) live(ctx context.Context, op string, mint solana.PublicKey) (registry.Entry, error) {
	entry, found, err := e.registry.FindLiveRaffle(ctx, mint)
	if err != nil {
		return registry.Entry{}, fail(op, mint, solana.PublicKey{}, "discover raffle", err)
	}
	if !found {
		return registry.Entry{}, fail(op, mint, solana.PublicKey{}, "raffle exists", raffle.ErrNotFound)
	}
	return entry, nil
}

func (e *Engine) submit(ctx context.Context, op string, b assembler.Bundle) (Result, error) {
	receipt, err := e.assembler.Submit(ctx, b)
	if err != nil {
		return Result{}, fail(op, b.Mint, b.Raffle, "settle", err)
	}
	e.watch(ctx, b.Raffle)
	return Result{Raffle: b.Raffle, Signature: receipt.Signature, Slot: receipt.Slot}, nil
}

// watch records the settled state of a raffle for the reveal tracker.
func (e *Engine) watch(ctx context.Context, raffleAddr solana.PublicKey) {
	if e.watchlist == nil || raffleAddr.IsZero() {
		return
	}
	pool, err := e.registry.FetchRaffleState(ctx, raffleAddr)
	if err != nil {
		logger.Warn("engine: refresh watched raffle", zap.String("raffle", raffleAddr.String()), zap.Error(err))
		return
	}
	if err := e.watchlist.UpdateRaffleStatus(StatusRow(raffleAddr, pool)); err != nil {
		logger.Warn("engine: store watched raffle", zap.String("raffle", raffleAddr.String()), zap.Error(err))
	}
}

// StatusRow converts a decoded record into its watchlist row.
func StatusRow(raffleAddr solana.PublicKey, pool *raffle.Pool) *storage.RaffleStatus {
	return &storage.RaffleStatus{
		Raffle:       raffleAddr.String(),
		NftMint:      pool.NftMint.String(),
		Creator:      pool.Creator.String(),
		EndTimestamp: pool.EndTimestamp,
		Entrants:     pool.Count,
		Revealed:     pool.Revealed(),
		Closed:       pool.Settled(),
	}
}

// globalAuthority reads the authority record. It returns nil when the
// record is absent and raffle.ErrMalformedAccount when it does not decode.
func (e *Engine) globalAuthority(ctx context.Context, authority solana.PublicKey) (*raffle.GlobalPool, error) {
	acc, err := e.env.Client.GetAccount(ctx, authority)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raffle.DecodeGlobalPool(acc.Data)
}

// Initialize creates the global authority record.
func (e *Engine) Initialize(ctx context.Context) (Result, error) {
	authority, bump := e.resolver.GlobalAuthority()
	global, err := e.globalAuthority(ctx, authority)
	if err != nil {
		return Result{}, fail(OpInitialize, solana.PublicKey{}, solana.PublicKey{}, "read global authority", err)
	}
	if global != nil {
		return Result{}, fail(OpInitialize, solana.PublicKey{}, solana.PublicKey{}, "global authority absent",
			fmt.Errorf("%w: super admin %s", raffle.ErrAlreadyInitialized, global.SuperAdmin))
	}

	ix, err := e.builder.Initialize(e.env.PayerKey(), authority, bump)
	if err != nil {
		return Result{}, fail(OpInitialize, solana.PublicKey{}, solana.PublicKey{}, "build", err)
	}

	logger.Info("engine: initializing global authority...", zap.String("authority", authority.String()))
	return e.submit(ctx, OpInitialize, assembler.Bundle{Operation: ix})
}

// Raffle is a read-only view of one raffle record. Held counts the
// tickets owned by the service wallet.
type Raffle struct {
	Address solana.PublicKey
	Pool    *raffle.Pool
	Status  raffle.Status
	Held    uint64
}

// Describe returns the live raffle of mint. found is false when none exists.
func (e *Engine) Describe(ctx context.Context, mint solana.PublicKey) (Raffle, bool, error) {
	entry, found, err := e.registry.FindLiveRaffle(ctx, mint)
	if err != nil || !found {
		return Raffle{}, found, err
	}
	return Raffle{
		Address: entry.Address,
		Pool:    entry.Pool,
		Status:  entry.Pool.StatusAt(e.now()),
		Held:    entry.Pool.TicketsOf(e.env.PayerKey()),
	}, true, nil
}
