package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-deposit/pkg/bridge"
	"vault-deposit/pkg/deposit"
	"vault-deposit/pkg/types"
)

// workflow is the state of one deposit request. Only run's goroutine moves
// the state machine; the mutex guards what callers read.
type workflow struct {
	id     string
	req    types.DepositRequest
	o      *Orchestrator
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run goroutine
	amount   decimal.Decimal
	quote    *types.Quote
	approval common.Hash
	sourceTx common.Hash
	order    *types.BridgeOrder
	destTx   common.Hash

	mu          sync.Mutex
	state       State
	events      []Event
	subscribers []chan Event
	broadcast   bool
	failure     *Failure
	startedAt   time.Time
	finishedAt  time.Time
}

func (w *workflow) route() string {
	if w.req.IsCrossChain() {
		return "cross_chain"
	}
	return "same_chain"
}

// run drives the workflow until it reaches a terminal state
func (w *workflow) run() {
	defer w.cancel()

	w.logger.Info("deposit workflow started",
		zap.String("token", w.req.Token.Symbol),
		zap.String("amount", w.req.Amount),
		zap.Uint64("source_chain", w.req.SourceChainID),
		zap.Uint64("destination_chain", w.req.DestinationChainID))

	if err := w.transition(StateValidating, "validating deposit request"); err != nil {
		w.fail(newFailure(ValidationError, StateIdle, err, ""))
		return
	}

	for {
		current := w.currentState()
		if current.IsTerminal() {
			return
		}

		next, detail, failure := w.step(current)
		// a deposit already confirmed in the vault completes despite a late cancel
		landed := failure == nil && next == StateCompleted
		if w.ctx.Err() != nil && !landed {
			w.fail(w.cancelled(current))
			return
		}
		if failure != nil {
			w.fail(failure)
			return
		}

		if err := w.transition(next, detail); err != nil {
			w.fail(newFailure(failureKindFor(current), current, err, ""))
			return
		}
	}
}

// step performs the work of the current state and returns the state to
// move to, or the failure that ends the workflow
func (w *workflow) step(current State) (State, string, *Failure) {
	ctx := w.ctx
	c := w.o.components

	switch current {
	case StateValidating:
		if failure := w.validate(ctx); failure != nil {
			return "", "", failure
		}

		active, err := c.Signer.ChainID(ctx)
		if err != nil {
			return "", "", newFailure(WrongNetwork, current, err, "could not read the wallet network")
		}
		if active != w.req.SourceChainID {
			return StateSwitchingNetwork, fmt.Sprintf("switching wallet from chain %d to chain %d", active, w.req.SourceChainID), nil
		}
		return w.afterNetworkReady()

	case StateSwitchingNetwork:
		if failure := w.switchNetwork(ctx); failure != nil {
			return "", "", failure
		}
		return w.afterNetworkReady()

	case StateQuoting:
		quote, err := c.Quotes.GetQuote(ctx, &w.req)
		if err != nil {
			return "", "", newFailure(QuoteRejected, current, err, "quote failed")
		}
		if !quote.Feasible {
			return "", "", newFailure(QuoteRejected, current, nil, "%s", quote.ErrorSummary())
		}
		w.quote = quote
		return StateSubmittingSource, fmt.Sprintf("bridge fee %s, minimum received %s, estimated %ds",
			quote.BridgeFee, quote.MinAmountOut, quote.EstimatedSeconds), nil

	case StateSubmittingSource:
		if ctx.Err() != nil {
			return "", "", nil
		}
		hash, err := c.Source.Submit(ctx, &w.req, w.quote)
		if err != nil {
			var approval *deposit.ApprovalError
			if errors.As(err, &approval) {
				w.approval = approval.TxHash
			}
			failure := newFailure(SourceTxFailed, current, err, "source transaction was not sent")
			failure.Retryable = !deposit.IsPermanent(err)
			return "", "", failure
		}
		w.sourceTx = hash
		w.markBroadcast()
		return StateAwaitingSourceConfirmation, "source transaction " + hash.Hex(), nil

	case StateAwaitingSourceConfirmation:
		_, err := c.Confirmer.WaitForConfirmation(ctx, w.req.SourceChainID, w.sourceTx, w.o.cfg.SourceConfirmationTimeout)
		if err != nil {
			return "", "", newFailure(SourceTxReverted, current, err, "source transaction %s did not confirm", w.sourceTx.Hex())
		}
		if !w.req.IsCrossChain() {
			return StateCompleted, "deposit confirmed in transaction " + w.sourceTx.Hex(), nil
		}

		w.order = w.newOrder()
		w.notifyDeposit(ctx)
		return StateAwaitingBridgeCompletion, "waiting for bridge order " + w.order.OrderID, nil

	case StateAwaitingBridgeCompletion:
		return w.awaitBridge(ctx)

	case StateSubmittingDestination:
		hash, err := c.Settlement.Settle(ctx, w.order, &w.req, w.quote)
		if err != nil {
			failure := newFailure(DestinationTxFailed, current, err, "destination transaction was not sent")
			failure.Retryable = !deposit.IsPermanent(err)
			return "", "", failure
		}
		w.destTx = hash
		return StateAwaitingDestinationConfirmation, "destination transaction " + hash.Hex(), nil

	case StateAwaitingDestinationConfirmation:
		_, err := c.Confirmer.WaitForConfirmation(ctx, w.req.DestinationChainID, w.destTx, w.o.cfg.DestinationConfirmationTimeout)
		if err != nil {
			failure := newFailure(DestinationTxFailed, current, err, "destination transaction %s did not confirm", w.destTx.Hex())
			var revert *deposit.RevertError
			failure.Retryable = !errors.As(err, &revert)
			return "", "", failure
		}
		return StateCompleted, "deposit confirmed in transaction " + w.destTx.Hex(), nil
	}

	return "", "", newFailure(failureKindFor(current), current, nil, "no step defined for state %s", current)
}

// afterNetworkReady picks the next state once the wallet is on the source chain
func (w *workflow) afterNetworkReady() (State, string, *Failure) {
	if w.req.IsCrossChain() {
		return StateQuoting, "requesting bridge quote", nil
	}
	w.quote = types.SameChainQuote(w.amount)
	return StateSubmittingSource, "same-chain deposit, no bridge fee", nil
}

// validate runs the pure checks before anything touches the network
func (w *workflow) validate(ctx context.Context) *Failure {
	c := w.o.components

	amount, err := w.req.ParsedAmount()
	if err != nil {
		return newFailure(ValidationError, StateValidating, err, "")
	}
	if !amount.IsPositive() {
		return newFailure(ValidationError, StateValidating, nil, "amount must be greater than zero")
	}
	if min, ok := w.o.cfg.MinAmount(w.req.Token.Symbol); ok && amount.LessThan(min) {
		return newFailure(ValidationError, StateValidating, nil, "amount %s is below the minimum of %s %s", amount, min, w.req.Token.Symbol)
	}
	units, err := types.ToBaseUnits(amount, w.req.Token.Decimals)
	if err != nil {
		return newFailure(ValidationError, StateValidating, err, "")
	}
	if w.req.Recipient == (common.Address{}) {
		return newFailure(ValidationError, StateValidating, nil, "recipient is required")
	}
	if err := c.Registry.CheckPair(w.req.SourceChainID, w.req.DestinationChainID); err != nil {
		return newFailure(ValidationError, StateValidating, err, "")
	}
	w.amount = amount

	var balance *big.Int
	read := func() error {
		b, err := c.Reader.BalanceOf(ctx, w.req.SourceChainID, w.req.Token, c.Signer.Address())
		if err != nil {
			return err
		}
		balance = b
		return nil
	}
	if err := backoff.Retry(read, backoff.WithContext(w.o.newBackOff(), ctx)); err != nil {
		failure := newFailure(ValidationError, StateValidating, err, "could not read wallet balance")
		failure.Retryable = true
		return failure
	}
	if balance.Cmp(units) < 0 {
		return newFailure(ValidationError, StateValidating, nil, "insufficient balance: have %s %s, need %s",
			types.FromBaseUnits(balance, w.req.Token.Decimals), w.req.Token.Symbol, amount)
	}

	return nil
}

// switchNetwork asks the wallet to move to the source chain. Failures other
// than a user rejection are retried once.
func (w *workflow) switchNetwork(ctx context.Context) *Failure {
	signer := w.o.components.Signer

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		switchCtx, cancel := context.WithTimeout(ctx, w.o.cfg.SwitchTimeout)
		err = signer.SwitchChain(switchCtx, w.req.SourceChainID)
		cancel()

		if err == nil {
			active, chainErr := signer.ChainID(ctx)
			if chainErr == nil && active == w.req.SourceChainID {
				return nil
			}
			if chainErr != nil {
				err = chainErr
			} else {
				err = fmt.Errorf("%w: wallet is still on chain %d", deposit.ErrWrongNetwork, active)
			}
		}

		if errors.Is(err, deposit.ErrUserRejected) || ctx.Err() != nil {
			break
		}
		w.logger.Warn("network switch failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	failure := newFailure(WrongNetwork, StateSwitchingNetwork, err, "could not switch to chain %d", w.req.SourceChainID)
	failure.Retryable = !errors.Is(err, deposit.ErrUserRejected)
	return failure
}

// newOrder creates the bridge order once the source transaction is
// confirmed. The provider's order id is used when the quote carries one.
func (w *workflow) newOrder() *types.BridgeOrder {
	orderID := w.sourceTx.Hex()
	if w.quote != nil && w.quote.OrderID != "" {
		orderID = w.quote.OrderID
	}

	return &types.BridgeOrder{
		OrderID:      orderID,
		SourceTxHash: w.sourceTx.Hex(),
		Status:       types.OrderPending,
	}
}

func (w *workflow) notifyDeposit(ctx context.Context) {
	notifier := w.o.components.Notifier
	if notifier == nil {
		return
	}

	if err := notifier.NotifyDeposit(ctx, w.order); err != nil {
		w.logger.Warn("failed to notify bridge provider of deposit", zap.String("order_id", w.order.OrderID), zap.Error(err))
	}
}

func (w *workflow) awaitBridge(ctx context.Context) (State, string, *Failure) {
	current := StateAwaitingBridgeCompletion
	deadline := w.o.clock.Now().Add(w.o.cfg.BridgeDeadline)

	order, err := w.o.components.Poller.PollUntilTerminal(ctx, w.order.OrderID, deadline)
	if order != nil {
		if order.SourceTxHash == "" {
			order.SourceTxHash = w.order.SourceTxHash
		}
		w.order = order
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return "", "", nil
	case errors.Is(err, bridge.ErrBridgeTimeout):
		return "", "", newFailure(BridgeTimeout, current, err,
			"order %s still pending after %s, funds may still arrive", w.order.OrderID, w.o.cfg.BridgeDeadline)
	default:
		return "", "", newFailure(BridgeStatusUnavailable, current, err,
			"status of order %s is unknown, funds may still arrive", w.order.OrderID)
	}

	switch w.order.Status {
	case types.OrderFulfilled:
		return StateSubmittingDestination, fmt.Sprintf("bridge order %s fulfilled", w.order.OrderID), nil
	case types.OrderFailed:
		return "", "", newFailure(BridgeFailed, current, nil,
			"bridge reported order %s as %s; source transaction %s needs manual recovery",
			w.order.OrderID, w.order.ProviderStatus, w.order.SourceTxHash)
	default:
		return "", "", newFailure(BridgeStatusUnavailable, current, nil, "order %s returned without a final status", w.order.OrderID)
	}
}

// cancelled builds the failure for a caller cancellation
func (w *workflow) cancelled(state State) *Failure {
	w.mu.Lock()
	broadcast := w.broadcast
	w.mu.Unlock()

	if !broadcast {
		if w.approval != (common.Hash{}) {
			return newFailure(Cancelled, state, nil,
				"cancelled after token approval %s was broadcast; the allowance stays on chain but no funds moved", w.approval.Hex())
		}
		return newFailure(Cancelled, state, nil, "cancelled before any transaction was broadcast")
	}

	failure := newFailure(Cancelled, state, nil,
		"cancelled after source transaction %s was broadcast; it cannot be recalled", w.sourceTx.Hex())
	failure.InFlight = w.req.IsCrossChain()
	return failure
}

func (w *workflow) requestCancel() {
	w.mu.Lock()
	terminal := w.state.IsTerminal()
	w.mu.Unlock()

	if terminal {
		return
	}

	w.logger.Info("deposit workflow cancellation requested")
	w.cancel()
}

func (w *workflow) markBroadcast() {
	w.mu.Lock()
	w.broadcast = true
	w.mu.Unlock()
}

func (w *workflow) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// transition moves the workflow to a new state and emits the event
func (w *workflow) transition(to State, detail string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.state
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition from %s to %s", from, to)
	}

	w.state = to
	event := Event{
		WorkflowID: w.id,
		From:       from,
		To:         to,
		Timestamp:  w.o.clock.Now(),
		Detail:     detail,
	}
	w.events = append(w.events, event)
	for _, ch := range w.subscribers {
		ch <- event
	}
	stateTransitions.WithLabelValues(string(to)).Inc()

	w.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("detail", detail))

	if to.IsTerminal() {
		w.finishLocked()
	}

	return nil
}

func (w *workflow) fail(failure *Failure) {
	w.mu.Lock()
	w.failure = failure
	w.mu.Unlock()

	w.logger.Warn("deposit workflow failed",
		zap.String("kind", string(failure.Kind)),
		zap.String("state", string(failure.State)),
		zap.String("detail", failure.Detail),
		zap.Bool("funds_in_flight", failure.FundsInFlight()))

	if err := w.transition(StateFailed, failure.Error()); err != nil {
		w.logger.Error("failed to record failure", zap.Error(err))
	}
}

// finishLocked closes subscriptions once a terminal state is recorded
func (w *workflow) finishLocked() {
	w.finishedAt = w.o.clock.Now()

	for _, ch := range w.subscribers {
		close(ch)
	}
	w.subscribers = nil

	outcome := "completed"
	if w.failure != nil {
		outcome = string(w.failure.Kind)
	}
	workflowsFinished.WithLabelValues(w.route(), outcome).Inc()
	workflowsActive.Dec()
	workflowDuration.WithLabelValues(w.route()).Observe(w.finishedAt.Sub(w.startedAt).Seconds())

	if w.state == StateCompleted {
		w.logger.Info("deposit workflow completed")
	}

	close(w.done)
}

func (w *workflow) subscribe() <-chan Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan Event, numStates)
	for _, event := range w.events {
		ch <- event
	}

	if w.state.IsTerminal() {
		close(ch)
		return ch
	}

	w.subscribers = append(w.subscribers, ch)
	return ch
}

// result snapshots the terminal outcome. Only valid after done is closed.
func (w *workflow) result() *Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	outcome := &Outcome{
		WorkflowID: w.id,
		Request:    w.req,
		State:      w.state,
		Failure:    w.failure,
		Quote:      w.quote,
		Order:      w.order,
		StartedAt:  w.startedAt,
		FinishedAt: w.finishedAt,
	}
	if w.approval != (common.Hash{}) {
		outcome.ApprovalTxHash = w.approval.Hex()
	}
	if w.sourceTx != (common.Hash{}) {
		outcome.SourceTxHash = w.sourceTx.Hex()
	}
	if w.destTx != (common.Hash{}) {
		outcome.DestinationTxHash = w.destTx.Hex()
	}

	return outcome
}
