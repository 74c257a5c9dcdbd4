// Package orchestrator drives cross-chain vault deposits. Every request runs
// as its own workflow: a linear state machine that validates the request,
// quotes and submits the source transaction, follows the bridge order and
// settles on the destination chain. Callers only see the workflow through
// StartDeposit, Subscribe, Cancel and Wait.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-deposit/pkg/bridge"
	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/deposit"
	"vault-deposit/pkg/types"
)

var (
	// ErrUnknownWorkflow is returned for handles the orchestrator does not know
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrWorkflowRunning is returned when releasing a workflow that has not finished
	ErrWorkflowRunning = errors.New("workflow has not reached a terminal state")
)

// Quoter produces bridge quotes
type Quoter interface {
	GetQuote(ctx context.Context, req *types.DepositRequest) (*types.Quote, error)
}

// SourceSubmitter broadcasts the source chain transaction
type SourceSubmitter interface {
	Submit(ctx context.Context, req *types.DepositRequest, quote *types.Quote) (common.Hash, error)
}

// OrderPoller follows a bridge order to a terminal status
type OrderPoller interface {
	PollUntilTerminal(ctx context.Context, orderID string, deadline time.Time) (*types.BridgeOrder, error)
}

// Settler deposits bridged funds on the destination chain
type Settler interface {
	Settle(ctx context.Context, order *types.BridgeOrder, req *types.DepositRequest, quote *types.Quote) (common.Hash, error)
}

// ConfirmationWaiter waits for a transaction to be confirmed
type ConfirmationWaiter interface {
	WaitForConfirmation(ctx context.Context, chainID uint64, hash common.Hash, timeout time.Duration) (*gethtypes.Receipt, error)
}

// Components are the collaborators a workflow sequences. Notifier is optional.
type Components struct {
	Registry   *chains.Registry
	Signer     deposit.Signer
	Reader     deposit.ChainReader
	Quotes     Quoter
	Source     SourceSubmitter
	Poller     OrderPoller
	Settlement Settler
	Confirmer  ConfirmationWaiter
	Notifier   bridge.DepositNotifier
}

func (c Components) validate() error {
	var missing []string
	if c.Registry == nil {
		missing = append(missing, "registry")
	}
	if c.Signer == nil {
		missing = append(missing, "signer")
	}
	if c.Reader == nil {
		missing = append(missing, "chain reader")
	}
	if c.Quotes == nil {
		missing = append(missing, "quote service")
	}
	if c.Source == nil {
		missing = append(missing, "source adapter")
	}
	if c.Poller == nil {
		missing = append(missing, "bridge poller")
	}
	if c.Settlement == nil {
		missing = append(missing, "settlement adapter")
	}
	if c.Confirmer == nil {
		missing = append(missing, "confirmer")
	}

	if len(missing) > 0 {
		return fmt.Errorf("orchestrator is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Config holds the workflow limits
type Config struct {
	// MinAmounts maps a token symbol to the smallest accepted deposit
	MinAmounts                     map[string]decimal.Decimal
	SwitchTimeout                  time.Duration
	SourceConfirmationTimeout      time.Duration
	BridgeDeadline                 time.Duration
	DestinationConfirmationTimeout time.Duration
}

// DefaultConfig returns the default workflow limits
func DefaultConfig() Config {
	return Config{
		MinAmounts:                     map[string]decimal.Decimal{},
		SwitchTimeout:                  time.Minute,
		SourceConfirmationTimeout:      deposit.DefaultConfirmationTimeout,
		BridgeDeadline:                 bridge.DefaultBridgeDeadline,
		DestinationConfirmationTimeout: deposit.DefaultConfirmationTimeout,
	}
}

// MinAmount returns the configured minimum for a token symbol
func (c Config) MinAmount(symbol string) (decimal.Decimal, bool) {
	for s, min := range c.MinAmounts {
		if strings.EqualFold(s, symbol) {
			return min, true
		}
	}
	return decimal.Zero, false
}

// WorkflowHandle identifies a running or finished workflow
type WorkflowHandle string

// Outcome is the terminal snapshot of a workflow
type Outcome struct {
	WorkflowID        string               `json:"workflow_id"`
	Request           types.DepositRequest `json:"request"`
	State             State                `json:"state"`
	Failure           *Failure             `json:"failure,omitempty"`
	Quote             *types.Quote         `json:"quote,omitempty"`
	ApprovalTxHash    string               `json:"approval_tx_hash,omitempty"`
	SourceTxHash      string               `json:"source_tx_hash,omitempty"`
	Order             *types.BridgeOrder   `json:"order,omitempty"`
	DestinationTxHash string               `json:"destination_tx_hash,omitempty"`
	StartedAt         time.Time            `json:"started_at"`
	FinishedAt        time.Time            `json:"finished_at"`
}

// Succeeded returns true if the deposit completed
func (o *Outcome) Succeeded() bool {
	return o.State == StateCompleted
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for timestamps and deadlines
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithReadBackOff replaces the retry policy for chain reads during validation
func WithReadBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *Orchestrator) { o.newBackOff = newBackOff }
}

// Orchestrator runs deposit workflows. Workflows share nothing but the
// components, which are read-only or stateless.
type Orchestrator struct {
	components Components
	cfg        Config
	clock      clock.Clock
	newBackOff func() backoff.BackOff
	logger     *zap.Logger

	mu        sync.Mutex
	workflows map[WorkflowHandle]*workflow
}

// New creates an orchestrator
func New(components Components, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := components.validate(); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg.MinAmounts == nil {
		cfg.MinAmounts = defaults.MinAmounts
	}
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = defaults.SwitchTimeout
	}
	if cfg.SourceConfirmationTimeout <= 0 {
		cfg.SourceConfirmationTimeout = defaults.SourceConfirmationTimeout
	}
	if cfg.BridgeDeadline <= 0 {
		cfg.BridgeDeadline = defaults.BridgeDeadline
	}
	if cfg.DestinationConfirmationTimeout <= 0 {
		cfg.DestinationConfirmationTimeout = defaults.DestinationConfirmationTimeout
	}

	o := &Orchestrator{
		components: components,
		cfg:        cfg,
		clock:      clock.New(),
		newBackOff: defaultReadBackOff,
		logger:     zap.NewNop(),
		workflows:  make(map[WorkflowHandle]*workflow),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

func defaultReadBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, 2)
}

// StartDeposit starts a workflow for the request and returns at once. The
// request is copied; the workflow keeps running after ctx is done and is
// only stopped by Cancel.
func (o *Orchestrator) StartDeposit(ctx context.Context, req types.DepositRequest) (WorkflowHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	w := o.newWorkflow(ctx, req)

	o.mu.Lock()
	o.workflows[WorkflowHandle(w.id)] = w
	o.mu.Unlock()

	workflowsStarted.WithLabelValues(w.route()).Inc()
	workflowsActive.Inc()

	go w.run()

	return WorkflowHandle(w.id), nil
}

// Subscribe returns the workflow's events: everything emitted so far, then
// live events. The channel is closed after the terminal event.
func (o *Orchestrator) Subscribe(h WorkflowHandle) (<-chan Event, error) {
	w, err := o.get(h)
	if err != nil {
		return nil, err
	}
	return w.subscribe(), nil
}

// Cancel stops a workflow. Before a transaction is broadcast this has no
// on-chain effect. Afterwards it only stops further orchestration; the
// workflow still ends in Failed. Cancelling a finished workflow does nothing.
func (o *Orchestrator) Cancel(h WorkflowHandle) error {
	w, err := o.get(h)
	if err != nil {
		return err
	}
	w.requestCancel()
	return nil
}

// Wait blocks until the workflow reaches a terminal state
func (o *Orchestrator) Wait(ctx context.Context, h WorkflowHandle) (*Outcome, error) {
	w, err := o.get(h)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
	}

	return w.result(), nil
}

// Release forgets a finished workflow
func (o *Orchestrator) Release(h WorkflowHandle) error {
	w, err := o.get(h)
	if err != nil {
		return err
	}

	select {
	case <-w.done:
	default:
		return ErrWorkflowRunning
	}

	o.mu.Lock()
	delete(o.workflows, h)
	o.mu.Unlock()

	return nil
}

func (o *Orchestrator) get(h WorkflowHandle) (*workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workflows[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, h)
	}
	return w, nil
}

func (o *Orchestrator) newWorkflow(ctx context.Context, req types.DepositRequest) *workflow {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	return &workflow{
		id:        id,
		req:       req,
		o:         o,
		logger:    o.logger.With(zap.String("workflow", id)),
		ctx:       runCtx,
		cancel:    cancel,
		state:     StateIdle,
		startedAt: o.clock.Now(),
		done:      make(chan struct{}),
	}
}
