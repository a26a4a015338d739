// Package payment runs the payment saga: it drives the payment aggregate through
// provider calls and reconciles asynchronous provider callbacks.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
	"github.com/lllypuk/estately/internal/domain/errs"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/payment"
	"github.com/lllypuk/estately/internal/domain/uuid"
)

const (
	defaultExpiryHorizon = 30 * time.Minute
	defaultSweepBatch    = 100
)

type snapshot = eventsourcing.Snapshot[payment.State]

// Saga orchestrates the payment lifecycle. Every mutation goes through the
// command handler, so racing callers converge on one transition.
type Saga struct {
	handler   *eventsourcing.CommandHandler[payment.State]
	providers *ProviderRegistry
	retry     RetryScheduler
	fees      FeePolicy
	index     PaymentIndex
	metrics   SagaMetrics
	logger    *slog.Logger
	now       func() time.Time
	expiry    time.Duration
}

// SagaOption configures Saga.
type SagaOption func(*Saga)

// WithClock injects the time source.
func WithClock(now func() time.Time) SagaOption {
	return func(s *Saga) {
		s.now = now
	}
}

// WithExpiryHorizon sets how long a payment may stay PENDING.
func WithExpiryHorizon(d time.Duration) SagaOption {
	return func(s *Saga) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithFeePolicy sets the fee policy.
func WithFeePolicy(p FeePolicy) SagaOption {
	return func(s *Saga) {
		s.fees = p
	}
}

// WithIndex sets the index used by ExpireDue.
func WithIndex(index PaymentIndex) SagaOption {
	return func(s *Saga) {
		s.index = index
	}
}

// WithSagaMetrics sets the metrics sink.
func WithSagaMetrics(m SagaMetrics) SagaOption {
	return func(s *Saga) {
		s.metrics = m
	}
}

// WithSagaLogger sets the logger.
func WithSagaLogger(logger *slog.Logger) SagaOption {
	return func(s *Saga) {
		s.logger = logger
	}
}

// NewSaga creates the saga.
func NewSaga(
	handler *eventsourcing.CommandHandler[payment.State],
	providers *ProviderRegistry,
	retry RetryScheduler,
	opts ...SagaOption,
) *Saga {
	s := &Saga{
		handler:   handler,
		providers: providers,
		retry:     retry,
		fees:      NoFees{},
		metrics:   noopMetrics{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		expiry:    defaultExpiryHorizon,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate creates the payment and asks the provider to start collecting it.
// PAYMENT_INITIATED is durable before the provider is called.
func (s *Saga) Initiate(ctx context.Context, cmd InitiateCommand) (Result, error) {
	if err := cmd.validate(); err != nil {
		return Result{}, err
	}
	adapter, err := s.providers.For(cmd.Method)
	if err != nil {
		return Result{}, err
	}

	paymentID := cmd.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewSortable().String()
	}

	now := s.now()
	terms := payment.Terms{
		Amount:    cmd.Amount,
		Currency:  cmd.Currency,
		Method:    cmd.Method,
		PayerID:   cmd.PayerID,
		Reference: cmd.Reference,
		Fees:      s.fees.Compute(cmd.Amount, cmd.Method),
		ExpiresAt: now.Add(s.expiry),
	}

	created, err := s.handler.Execute(ctx, paymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		if snap.State.Exists() {
			return nil, nil
		}
		agg := payment.NewAggregate(snap.State, snap.Version)
		if err := agg.Initiate(terms, s.metadata(ctx, now)); err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if err != nil {
		return Result{}, s.translate(err)
	}
	if !created.Changed() {
		s.metrics.ObserveOutcome("initiate", "existing")
		return resultOf(created.Snapshot), nil
	}

	state := created.Snapshot.State
	var resp InitiateResponse
	attempts, callErr := s.retry.Do(WithIdempotencyKey(ctx, paymentID), "provider.initiate", func(ctx context.Context) error {
		r, err := adapter.Initiate(ctx, InitiateRequest{
			PaymentID:  paymentID,
			Amount:     state.Amount,
			PayerTotal: state.PayerTotal(),
			Currency:   state.Currency,
			Method:     state.Method,
			PayerID:    state.PayerID,
			Reference:  state.Reference,
		})
		if err != nil {
			return err
		}
		if !r.Accepted {
			return fmt.Errorf("%w: %s", ErrProviderRejected, r.DeclineReason)
		}
		resp = r
		return nil
	})
	if callErr != nil && ctx.Err() != nil {
		// Отмена запроса: платеж остается PENDING и истечет сам
		return resultOf(created.Snapshot), ctx.Err()
	}

	// ответ провайдера уже получен, его нужно записать даже если клиент ушел
	outcome, err := s.handler.Execute(context.WithoutCancel(ctx), paymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		if snap.State.Status != payment.StatusPending || snap.State.ProviderRef != "" {
			return nil, nil
		}
		agg := payment.NewAggregate(snap.State, snap.Version)
		meta := s.metadata(ctx, s.now())
		if callErr != nil {
			exhausted := errors.Is(callErr, appcore.ErrRetriesExhausted)
			if err := agg.Fail(callErr.Error(), payment.StageInitiation, attempts, exhausted, meta); err != nil {
				return nil, err
			}
		} else if err := agg.Acknowledge(resp.ProviderRef, resp.Instructions, attempts, meta); err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if err != nil {
		return Result{}, s.translate(err)
	}

	result := resultOf(outcome.Snapshot)
	result.Attempts = attempts
	if callErr != nil {
		s.logger.WarnContext(ctx, "payment initiation failed",
			slog.String("payment_id", paymentID),
			slog.Int("attempts", attempts),
			slog.String("error", callErr.Error()),
		)
		s.metrics.ObserveOutcome("initiate", "failed")
		return result, s.providerError(callErr)
	}

	s.logger.InfoContext(ctx, "payment initiated",
		slog.String("payment_id", paymentID),
		slog.String("provider", adapter.Name()),
		slog.String("provider_ref", resp.ProviderRef),
	)
	s.metrics.ObserveOutcome("initiate", "processing")
	return result, nil
}

// Confirm re-verifies the payment with its provider and records the outcome.
// On a payment that is no longer in flight it changes nothing and sets AlreadyTerminal.
func (s *Saga) Confirm(ctx context.Context, paymentID string) (Result, error) {
	current, err := s.observe(ctx, paymentID)
	if err != nil {
		return Result{}, err
	}
	if !current.State.Status.InFlight() {
		s.metrics.ObserveOutcome("confirm", "already_terminal")
		return terminalResult(current), nil
	}
	if current.State.ProviderRef == "" {
		return resultOf(current), ErrNoProviderReference
	}
	return s.confirm(ctx, current)
}

// confirm verifies an in-flight payment that has a provider reference.
// A payment still pending at the provider past its horizon fails as expired.
func (s *Saga) confirm(ctx context.Context, current snapshot) (Result, error) {
	paymentID := current.State.PaymentID
	adapter, err := s.providers.For(current.State.Method)
	if err != nil {
		return Result{}, err
	}

	var verified VerifyResponse
	attempts, verifyErr := s.retry.Do(ctx, "provider.verify", func(ctx context.Context) error {
		r, err := adapter.Verify(ctx, current.State.ProviderRef)
		if err != nil {
			return err
		}
		verified = r
		return nil
	})
	exhausted := errors.Is(verifyErr, appcore.ErrRetriesExhausted)
	rejected := errors.Is(verifyErr, ErrProviderRejected)
	overdue := current.State.Overdue(s.now())
	switch {
	case verifyErr != nil && !exhausted && !rejected:
		return resultOf(current), s.providerError(verifyErr)
	case verifyErr == nil && verified.Status == VerifyPending && !overdue:
		s.metrics.ObserveOutcome("confirm", "pending")
		result := resultOf(current)
		result.Attempts = attempts
		return result, nil
	}

	outcome, err := s.handler.Execute(context.WithoutCancel(ctx), paymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		if !snap.State.Status.InFlight() {
			return nil, nil
		}
		agg := payment.NewAggregate(snap.State, snap.Version)
		meta := s.metadata(ctx, s.now())
		var err error
		switch {
		case verifyErr != nil:
			err = agg.Fail(verifyErr.Error(), payment.StageVerification, attempts, exhausted, meta)
		case verified.Status == VerifySucceeded:
			err = agg.Complete(verified.ProviderTransactionID, meta)
		case verified.Status == VerifyPending:
			err = agg.Fail(payment.ReasonExpired, payment.StageVerification, attempts, false, meta)
		default:
			err = agg.Fail(verified.Reason, payment.StageVerification, attempts, false, meta)
		}
		if err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if err != nil {
		return Result{}, s.translate(err)
	}
	if !outcome.Changed() {
		s.metrics.ObserveOutcome("confirm", "already_terminal")
		return terminalResult(outcome.Snapshot), nil
	}

	result := resultOf(outcome.Snapshot)
	result.Attempts = attempts
	s.logger.InfoContext(ctx, "payment confirmed",
		slog.String("payment_id", paymentID),
		slog.String("status", result.Payment.Status.String()),
		slog.String("failure_reason", result.Payment.FailureReason),
	)
	s.metrics.ObserveOutcome("confirm", string(result.Payment.Status))
	if verifyErr != nil {
		return result, s.providerError(verifyErr)
	}
	return result, nil
}

// Refund refunds part or all of the remaining balance of a completed payment.
// REFUND_INITIATED reserves the amount before the provider is called. When ctx
// ends during the call the refund stays pending and ResumeRefunds finishes it.
func (s *Saga) Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	if err := cmd.validate(); err != nil {
		return RefundResult{}, err
	}
	current, err := s.observe(ctx, cmd.PaymentID)
	if err != nil {
		return RefundResult{}, err
	}
	adapter, err := s.providers.For(current.State.Method)
	if err != nil {
		return RefundResult{}, err
	}

	refundID := uuid.NewSortable().String()
	requested, err := s.handler.Execute(ctx, cmd.PaymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		agg := payment.NewAggregate(snap.State, snap.Version)
		if err := agg.RequestRefund(refundID, cmd.Amount, cmd.Reason, s.metadata(ctx, s.now())); err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if errors.Is(err, errs.ErrInvalidTransition) {
		return RefundResult{}, fmt.Errorf("%w: %w", ErrRefundNotAllowed, err)
	}
	if err != nil {
		return RefundResult{}, s.translate(err)
	}

	return s.issueRefund(ctx, adapter, requested.Snapshot, refundID, cmd.Amount)
}

// ResumeRefunds re-issues every refund of the payment still waiting for the
// provider. The refund ID is the idempotency key, so a refund the provider
// already applied is not applied twice.
func (s *Saga) ResumeRefunds(ctx context.Context, paymentID string) (Result, error) {
	current, err := s.observe(ctx, paymentID)
	if err != nil {
		return Result{}, err
	}
	if len(current.State.PendingRefunds) == 0 {
		return resultOf(current), nil
	}
	adapter, err := s.providers.For(current.State.Method)
	if err != nil {
		return Result{}, err
	}

	result := resultOf(current)
	var failed []error
	for _, refundID := range slices.Sorted(maps.Keys(current.State.PendingRefunds)) {
		res, err := s.issueRefund(ctx, adapter, current, refundID, current.State.PendingRefunds[refundID])
		if res.Payment.Exists() {
			result = res.Result
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("refund %s: %w", refundID, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return result, errors.Join(failed...)
}

// issueRefund calls the provider for one reserved refund and records the answer.
func (s *Saga) issueRefund(
	ctx context.Context,
	adapter ProviderAdapter,
	requested snapshot,
	refundID string,
	amount int64,
) (RefundResult, error) {
	paymentID := requested.State.PaymentID
	txID := requested.State.ProviderTransactionID
	var resp RefundResponse
	attempts, refundErr := s.retry.Do(WithIdempotencyKey(ctx, refundID), "provider.refund", func(ctx context.Context) error {
		r, err := adapter.Refund(ctx, txID, amount)
		if err != nil {
			return err
		}
		if !r.Accepted {
			return fmt.Errorf("%w: %s", ErrProviderRejected, r.DeclineReason)
		}
		resp = r
		return nil
	})
	if refundErr != nil && ctx.Err() != nil {
		// Ответ провайдера неизвестен: резерв остается до ResumeRefunds
		s.logger.WarnContext(ctx, "refund left pending",
			slog.String("payment_id", paymentID),
			slog.String("refund_id", refundID),
			slog.String("error", refundErr.Error()),
		)
		s.metrics.ObserveOutcome("refund", "pending")
		result := RefundResult{Result: resultOf(requested), RefundID: refundID}
		result.Attempts = attempts
		return result, ctx.Err()
	}

	outcome, err := s.handler.Execute(context.WithoutCancel(ctx), paymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		if _, pending := snap.State.PendingRefunds[refundID]; !pending {
			return nil, nil
		}
		agg := payment.NewAggregate(snap.State, snap.Version)
		meta := s.metadata(ctx, s.now())
		var err error
		if refundErr != nil {
			err = agg.FailRefund(refundID, refundErr.Error(), errors.Is(refundErr, appcore.ErrRetriesExhausted), meta)
		} else {
			err = agg.CompleteRefund(refundID, resp.RefundRef, meta)
		}
		if err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if err != nil {
		return RefundResult{}, s.translate(err)
	}

	result := RefundResult{Result: resultOf(outcome.Snapshot), RefundID: refundID, Succeeded: refundErr == nil}
	result.Attempts = attempts
	if refundErr != nil {
		s.metrics.ObserveOutcome("refund", "failed")
		return result, s.providerError(refundErr)
	}
	s.metrics.ObserveOutcome("refund", string(result.Payment.Status))
	return result, nil
}

// Get observes the payment. A PENDING payment past its horizon is cancelled
// first; a PROCESSING one is verified and settled. A failed settlement is
// logged and the latest state is returned.
func (s *Saga) Get(ctx context.Context, paymentID string) (Result, error) {
	snap, err := s.observe(ctx, paymentID)
	if err != nil {
		return Result{}, err
	}
	if !s.overdueProcessing(snap.State) {
		return resultOf(snap), nil
	}

	settled, err := s.confirm(ctx, snap)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to settle overdue payment",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
	}
	if !settled.Payment.Exists() {
		return resultOf(snap), nil
	}
	return Result{Payment: settled.Payment, Version: settled.Version, Attempts: settled.Attempts}, nil
}

// ExpireDue settles in-flight payments whose horizon passed before now and
// resumes refunds left waiting for the provider. Returns the number of
// payments it took out of flight.
func (s *Saga) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	ids, err := s.index.OverdueBefore(ctx, now, defaultSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired payments: %w", err)
	}

	settled := 0
	for _, id := range ids {
		res, err := s.Get(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to expire payment",
				slog.String("payment_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !res.Payment.Status.InFlight() {
			settled++
		}
	}

	refunding, err := s.index.WithPendingRefunds(ctx, defaultSweepBatch)
	if err != nil {
		return settled, fmt.Errorf("failed to list pending refunds: %w", err)
	}
	for _, id := range refunding {
		if _, err := s.ResumeRefunds(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "failed to resume refunds",
				slog.String("payment_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return settled, nil
}

func (s *Saga) overdueProcessing(st payment.State) bool {
	return st.Status == payment.StatusProcessing && st.ProviderRef != "" && st.Overdue(s.now())
}

// observe loads the payment and applies lazy expiry before anything else runs.
func (s *Saga) observe(ctx context.Context, paymentID string) (snapshot, error) {
	outcome, err := s.handler.Execute(ctx, paymentID, func(snap snapshot) ([]event.DomainEvent, error) {
		if !snap.State.Exists() {
			return nil, ErrPaymentNotFound
		}
		now := s.now()
		agg := payment.NewAggregate(snap.State, snap.Version)
		if agg.Expire(now, s.metadata(ctx, now)) {
			return agg.UncommittedEvents(), nil
		}
		return nil, nil
	})
	if err != nil {
		return snapshot{}, s.translate(err)
	}
	if outcome.Changed() {
		s.logger.InfoContext(ctx, "payment expired",
			slog.String("payment_id", paymentID),
			slog.Time("expires_at", outcome.Snapshot.State.ExpiresAt),
		)
		s.metrics.ObserveOutcome("expire", "cancelled")
	}
	return outcome.Snapshot, nil
}

func (s *Saga) metadata(ctx context.Context, at time.Time) event.Metadata {
	return appcore.MetadataFromContext(ctx).At(at).WithSource("payment-saga")
}

// translate maps domain errors onto the saga's error surface.
func (s *Saga) translate(err error) error {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return err
	case errors.Is(err, payment.ErrRefundExceedsRefundable):
		return fmt.Errorf("%w: %w", ErrRefundExceedsBalance, err)
	case errors.Is(err, errs.ErrInvalidInput):
		return appcore.NewValidationError("payment", err.Error())
	default:
		return err
	}
}

func (s *Saga) providerError(err error) error {
	switch {
	case errors.Is(err, appcore.ErrRetriesExhausted):
		return fmt.Errorf("%w: %w", ErrProviderExhausted, err)
	case errors.Is(err, ErrProviderRejected), errors.Is(err, ErrProviderTransient):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrProviderTransient, err)
	}
}

func resultOf(snap snapshot) Result {
	return Result{Payment: snap.State, Version: snap.Version}
}

func terminalResult(snap snapshot) Result {
	r := resultOf(snap)
	r.AlreadyTerminal = true
	return r
}
