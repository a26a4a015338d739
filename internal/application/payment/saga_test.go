package payment_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/payment"
)

func TestSaga_Initiate(t *testing.T) {
	f := newFixture(t)

	res := f.initiate(t, 10_000)

	assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
	assert.Equal(t, "ref-"+res.Payment.PaymentID, res.Payment.ProviderRef)
	assert.Equal(t, payment.NewFees(150, 100, 30), res.Payment.Fees)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), res.Payment.ExpiresAt)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{payment.EventTypeInitiated, payment.EventTypeProcessing},
		f.eventTypes(t, res.Payment.PaymentID))
}

func TestSaga_InitiateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cmd  apppayment.InitiateCommand
	}{
		{"zero amount", apppayment.InitiateCommand{Amount: 0, Currency: "KES", Method: payment.MethodCard, PayerID: "u"}},
		{"bad currency", apppayment.InitiateCommand{Amount: 5, Currency: "kes", Method: payment.MethodCard, PayerID: "u"}},
		{"unknown method", apppayment.InitiateCommand{Amount: 5, Currency: "KES", Method: "cash", PayerID: "u"}},
		{"missing payer", apppayment.InitiateCommand{Amount: 5, Currency: "KES", Method: payment.MethodCard}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.saga.Initiate(context.Background(), tt.cmd)
			require.ErrorIs(t, err, appcore.ErrValidationFailed)
		})
	}
	assert.Zero(t, f.provider.initiateCalls.Load())
}

func TestSaga_InitiateUnsupportedMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.saga.Initiate(context.Background(), apppayment.InitiateCommand{
		Amount: 5, Currency: "KES", Method: payment.MethodBankTransfer, PayerID: "u",
	})

	require.ErrorIs(t, err, apppayment.ErrUnsupportedMethod)
}

func TestSaga_InitiateIsIdempotentPerPaymentID(t *testing.T) {
	f := newFixture(t)
	cmd := apppayment.InitiateCommand{
		PaymentID: "pay-fixed", Amount: 700, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
	}

	first, err := f.saga.Initiate(context.Background(), cmd)
	require.NoError(t, err)
	second, err := f.saga.Initiate(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.Payment, second.Payment)
	assert.Equal(t, int32(1), f.provider.initiateCalls.Load())
}

func TestSaga_InitiateTransientErrorsExhaustRetries(t *testing.T) {
	f := newFixture(t)
	f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
		return apppayment.InitiateResponse{}, apppayment.ErrProviderTransient
	}

	res, err := f.saga.Initiate(context.Background(), apppayment.InitiateCommand{
		Amount: 500, Currency: "KES", Method: payment.MethodMobileMoney, PayerID: "u",
	})

	require.ErrorIs(t, err, apppayment.ErrProviderExhausted)
	require.ErrorIs(t, err, appcore.ErrRetriesExhausted)
	var httpErr interface{ HTTPStatus() int }
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.HTTPStatus())

	assert.Equal(t, int32(3), f.provider.initiateCalls.Load())
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assert.True(t, res.Payment.RetriesExhausted)
	assert.Equal(t, 3, res.Payment.AttemptCount)

	events, err := f.store.LoadEvents(context.Background(), res.Payment.PaymentID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	failed, ok := events[1].(*payment.Failed)
	require.True(t, ok)
	assert.True(t, failed.RetriesExhausted)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, payment.StageInitiation, failed.Stage)
}

func TestSaga_InitiateRejectedIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
		return apppayment.InitiateResponse{Accepted: false, DeclineReason: "insufficient funds"}, nil
	}

	res, err := f.saga.Initiate(context.Background(), apppayment.InitiateCommand{
		Amount: 500, Currency: "KES", Method: payment.MethodMobileMoney, PayerID: "u",
	})

	require.ErrorIs(t, err, apppayment.ErrProviderRejected)
	assert.Equal(t, int32(1), f.provider.initiateCalls.Load())
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assert.False(t, res.Payment.RetriesExhausted)
	assert.Contains(t, res.Payment.FailureReason, "insufficient funds")
}

func TestSaga_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("success completes once", func(t *testing.T) {
		f := newFixture(t)
		id := f.initiate(t, 10_000).Payment.PaymentID

		first, err := f.saga.Confirm(ctx, id)
		require.NoError(t, err)
		second, err := f.saga.Confirm(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, payment.StatusCompleted, first.Payment.Status)
		assert.False(t, first.AlreadyTerminal)
		assert.True(t, second.AlreadyTerminal)
		assert.Equal(t, first.Payment, second.Payment)
		assert.Equal(t, 1, count(f.eventTypes(t, id), payment.EventTypeCompleted))
		assert.Equal(t, int32(1), f.provider.verifyCalls.Load())
	})

	t.Run("pending leaves state unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = func(int) (apppayment.VerifyResponse, error) {
			return apppayment.VerifyResponse{Status: apppayment.VerifyPending}, nil
		}
		id := f.initiate(t, 100).Payment.PaymentID

		res, err := f.saga.Confirm(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
		assert.Len(t, f.eventTypes(t, id), 2)
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = func(int) (apppayment.VerifyResponse, error) {
			return apppayment.VerifyResponse{Status: apppayment.VerifyFailed, Reason: "cancelled by payer"}, nil
		}
		id := f.initiate(t, 100).Payment.PaymentID

		res, err := f.saga.Confirm(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, res.Payment.Status)
		assert.Equal(t, "cancelled by payer", res.Payment.FailureReason)
		assert.Equal(t, payment.StageVerification, res.Payment.FailureStage)
	})

	t.Run("verify exhaustion fails the payment", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = func(int) (apppayment.VerifyResponse, error) {
			return apppayment.VerifyResponse{}, apppayment.ErrProviderTransient
		}
		id := f.initiate(t, 100).Payment.PaymentID

		res, err := f.saga.Confirm(ctx, id)

		require.ErrorIs(t, err, apppayment.ErrProviderExhausted)
		assert.Equal(t, payment.StatusFailed, res.Payment.Status)
		assert.True(t, res.Payment.RetriesExhausted)
	})

	t.Run("unknown payment", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.saga.Confirm(ctx, "pay-missing")

		require.ErrorIs(t, err, apppayment.ErrPaymentNotFound)
		require.ErrorIs(t, err, appcore.ErrNotFound)
	})
}

func TestSaga_ConcurrentConfirmProducesOneTerminalEvent(t *testing.T) {
	f := newFixture(t)
	id := f.initiate(t, 10_000).Payment.PaymentID

	const callers = 8
	var wg sync.WaitGroup
	results := make([]apppayment.Result, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.saga.Confirm(context.Background(), id)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	types := f.eventTypes(t, id)
	assert.Equal(t, 1, count(types, payment.EventTypeCompleted))
	assert.Len(t, types, 3)
	fresh := 0
	for _, r := range results {
		assert.Equal(t, payment.StatusCompleted, r.Payment.Status)
		if !r.AlreadyTerminal {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestSaga_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
		return apppayment.InitiateResponse{}, context.Canceled
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	res, err := f.saga.Initiate(cancelled, apppayment.InitiateCommand{
		PaymentID: "pay-exp", Amount: 100, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, payment.StatusPending, res.Payment.Status)

	t.Run("not yet due", func(t *testing.T) {
		f.clock.Advance(29 * time.Minute)
		got, err := f.saga.Get(ctx, "pay-exp")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPending, got.Payment.Status)
	})

	t.Run("cancelled on first access after horizon", func(t *testing.T) {
		f.clock.Advance(time.Minute)
		got, err := f.saga.Get(ctx, "pay-exp")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusCancelled, got.Payment.Status)
	})

	t.Run("never reverts", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		got, err := f.saga.Get(ctx, "pay-exp")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusCancelled, got.Payment.Status)

		confirmed, err := f.saga.Confirm(ctx, "pay-exp")
		require.NoError(t, err)
		assert.True(t, confirmed.AlreadyTerminal)
		assert.Equal(t, []string{payment.EventTypeInitiated, payment.EventTypeCancelled}, f.eventTypes(t, "pay-exp"))
	})
}

func TestSaga_ExpireDue(t *testing.T) {
	f := newFixture(t)
	f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
		return apppayment.InitiateResponse{}, context.DeadlineExceeded
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, id := range []string{"pay-a", "pay-b"} {
		_, _ = f.saga.Initiate(ctx, apppayment.InitiateCommand{
			PaymentID: id, Amount: 100, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
		})
	}
	f.clock.Advance(31 * time.Minute)

	n, err := f.saga.ExpireDue(context.Background(), f.clock.Now())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []string{"pay-a", "pay-b"} {
		assert.Equal(t, 1, count(f.eventTypes(t, id), payment.EventTypeCancelled))
	}
}

func TestSaga_ConfirmRejectedVerifyFailsThePayment(t *testing.T) {
	f := newFixture(t)
	f.provider.verify = func(int) (apppayment.VerifyResponse, error) {
		return apppayment.VerifyResponse{}, fmt.Errorf("%w: unknown reference", apppayment.ErrProviderRejected)
	}
	id := f.initiate(t, 100).Payment.PaymentID

	res, err := f.saga.Confirm(context.Background(), id)

	require.ErrorIs(t, err, apppayment.ErrProviderRejected)
	assert.Equal(t, int32(1), f.provider.verifyCalls.Load())
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assert.Equal(t, payment.StageVerification, res.Payment.FailureStage)
	assert.False(t, res.Payment.RetriesExhausted)
	assert.Equal(t, 1, count(f.eventTypes(t, id), payment.EventTypeFailed))

	again, err := f.saga.Confirm(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, again.AlreadyTerminal)
}

func TestSaga_OverdueProcessingIsSettled(t *testing.T) {
	ctx := context.Background()
	stillPending := func(int) (apppayment.VerifyResponse, error) {
		return apppayment.VerifyResponse{Status: apppayment.VerifyPending}, nil
	}

	t.Run("confirm fails it as expired", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = stillPending
		id := f.initiate(t, 100).Payment.PaymentID
		f.clock.Advance(48 * time.Hour)

		res, err := f.saga.Confirm(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, res.Payment.Status)
		assert.Equal(t, payment.ReasonExpired, res.Payment.FailureReason)
		assert.Equal(t, payment.StageVerification, res.Payment.FailureStage)
		assert.Equal(t, []string{payment.EventTypeInitiated, payment.EventTypeProcessing, payment.EventTypeFailed},
			f.eventTypes(t, id))
	})

	t.Run("pending before the horizon stays processing", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = stillPending
		id := f.initiate(t, 100).Payment.PaymentID
		f.clock.Advance(29 * time.Minute)

		res, err := f.saga.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
		assert.Zero(t, f.provider.verifyCalls.Load())
	})

	t.Run("get settles it once", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = stillPending
		id := f.initiate(t, 100).Payment.PaymentID
		f.clock.Advance(48 * time.Hour)

		first, err := f.saga.Get(ctx, id)
		require.NoError(t, err)
		second, err := f.saga.Get(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, payment.StatusFailed, first.Payment.Status)
		assert.Equal(t, payment.ReasonExpired, first.Payment.FailureReason)
		assert.Equal(t, first.Payment, second.Payment)
		assert.Equal(t, int32(1), f.provider.verifyCalls.Load())
	})

	t.Run("get completes a late settlement", func(t *testing.T) {
		f := newFixture(t)
		id := f.initiate(t, 100).Payment.PaymentID
		f.clock.Advance(48 * time.Hour)

		res, err := f.saga.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusCompleted, res.Payment.Status)
		assert.Equal(t, "tx-ref-"+id, res.Payment.ProviderTransactionID)
	})

	t.Run("get returns the latest state when settlement fails", func(t *testing.T) {
		f := newFixture(t)
		id := f.initiate(t, 100).Payment.PaymentID
		f.clock.Advance(48 * time.Hour)
		f.provider.verify = func(int) (apppayment.VerifyResponse, error) {
			return apppayment.VerifyResponse{}, apppayment.ErrProviderTransient
		}

		res, err := f.saga.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, res.Payment.Status)
		assert.True(t, res.Payment.RetriesExhausted)
	})

	t.Run("sweep settles processing and pending", func(t *testing.T) {
		f := newFixture(t)
		f.provider.verify = stillPending
		processing := f.initiate(t, 100).Payment.PaymentID

		f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
			return apppayment.InitiateResponse{}, context.Canceled
		}
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, _ = f.saga.Initiate(cancelled, apppayment.InitiateCommand{
			PaymentID: "pay-stuck", Amount: 100, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
		})
		f.clock.Advance(48 * time.Hour)

		n, err := f.saga.ExpireDue(ctx, f.clock.Now())

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		got, err := f.saga.Get(ctx, processing)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, got.Payment.Status)
		got, err = f.saga.Get(ctx, "pay-stuck")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusCancelled, got.Payment.Status)

		n, err = f.saga.ExpireDue(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSaga_ConfirmWithoutProviderReference(t *testing.T) {
	f := newFixture(t)
	f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
		return apppayment.InitiateResponse{}, context.Canceled
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = f.saga.Initiate(ctx, apppayment.InitiateCommand{
		PaymentID: "pay-noref", Amount: 100, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
	})

	_, err := f.saga.Confirm(context.Background(), "pay-noref")

	require.ErrorIs(t, err, apppayment.ErrNoProviderReference)
	require.ErrorIs(t, err, appcore.ErrValidationFailed)
}

func TestSaga_PartialRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.initiate(t, 100).Payment.PaymentID
	_, err := f.saga.Confirm(ctx, id)
	require.NoError(t, err)

	first, err := f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 40})
	require.NoError(t, err)
	assert.True(t, first.Succeeded)
	second, err := f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 40})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPartiallyRefunded, second.Payment.Status)
	assert.Equal(t, int64(80), second.Payment.Refunded)

	_, err = f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 30})
	require.ErrorIs(t, err, apppayment.ErrRefundExceedsBalance)
	require.ErrorIs(t, err, appcore.ErrValidationFailed)
	assert.Equal(t, int32(2), f.provider.refundCalls.Load())

	last, err := f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 20})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, last.Payment.Status)
}

func TestSaga_RefundRules(t *testing.T) {
	ctx := context.Background()

	t.Run("not completed", func(t *testing.T) {
		f := newFixture(t)
		id := f.initiate(t, 100).Payment.PaymentID

		_, err := f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 10})

		require.ErrorIs(t, err, apppayment.ErrRefundNotAllowed)
	})

	t.Run("provider declines", func(t *testing.T) {
		f := newFixture(t)
		f.provider.refund = func(int, int64) (apppayment.RefundResponse, error) {
			return apppayment.RefundResponse{Accepted: false, DeclineReason: "window closed"}, nil
		}
		id := f.initiate(t, 100).Payment.PaymentID
		_, err := f.saga.Confirm(ctx, id)
		require.NoError(t, err)

		res, err := f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 60})

		require.ErrorIs(t, err, apppayment.ErrProviderRejected)
		assert.False(t, res.Succeeded)
		assert.Equal(t, payment.StatusCompleted, res.Payment.Status)
		assert.Equal(t, int64(100), res.Payment.RefundableAmount())
		assert.Equal(t, 1, count(f.eventTypes(t, id), payment.EventTypeRefundFailed))
	})
}

func TestSaga_RefundInterruptedStaysPending(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, string, apppayment.RefundResult) {
		t.Helper()
		f := newFixture(t)
		id := f.initiate(t, 100).Payment.PaymentID
		_, err := f.saga.Confirm(ctx, id)
		require.NoError(t, err)

		refundCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.provider.refund = func(call int, _ int64) (apppayment.RefundResponse, error) {
			if call == 1 {
				// клиент ушел, ответ провайдера потерян
				cancel()
				return apppayment.RefundResponse{}, context.Canceled
			}
			return apppayment.RefundResponse{Accepted: true, RefundRef: "rr-late"}, nil
		}

		res, err := f.saga.Refund(refundCtx, apppayment.RefundCommand{PaymentID: id, Amount: 40})
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, res.Succeeded)
		assert.NotEmpty(t, res.RefundID)
		return f, id, res
	}

	t.Run("reservation is kept", func(t *testing.T) {
		f, id, res := setup(t)

		types := f.eventTypes(t, id)
		assert.Equal(t, payment.EventTypeRefundInitiated, types[len(types)-1])
		assert.Zero(t, count(types, payment.EventTypeRefundFailed))
		assert.Equal(t, int64(60), res.Payment.RefundableAmount())

		got, err := f.saga.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{res.RefundID: 40}, got.Payment.PendingRefunds)

		_, err = f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 70})
		require.ErrorIs(t, err, apppayment.ErrRefundExceedsBalance)
	})

	t.Run("resume finishes it with the same key", func(t *testing.T) {
		f, id, res := setup(t)

		resumed, err := f.saga.ResumeRefunds(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, payment.StatusPartiallyRefunded, resumed.Payment.Status)
		assert.Equal(t, int64(40), resumed.Payment.Refunded)
		assert.Empty(t, resumed.Payment.PendingRefunds)
		assert.Equal(t, []string{res.RefundID, res.RefundID}, f.provider.RefundKeys())
		assert.Equal(t, 1, count(f.eventTypes(t, id), payment.EventTypeRefundCompleted))

		again, err := f.saga.ResumeRefunds(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, resumed.Payment, again.Payment)
		assert.Equal(t, int32(2), f.provider.refundCalls.Load())
	})

	t.Run("sweep resumes it", func(t *testing.T) {
		f, id, _ := setup(t)

		_, err := f.saga.ExpireDue(ctx, f.clock.Now())

		require.NoError(t, err)
		got, err := f.saga.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(40), got.Payment.Refunded)
		assert.Empty(t, got.Payment.PendingRefunds)
	})
}

// Every stored trajectory must be a path through the state graph with
// PROCESSING recorded before COMPLETED.
func TestSaga_TrajectoriesFollowTheStateGraph(t *testing.T) {
	ctx := context.Background()
	scenarios := map[string]func(f *fixture) string{
		"completed and refunded": func(f *fixture) string {
			id := f.initiate(t, 100).Payment.PaymentID
			_, _ = f.saga.Confirm(ctx, id)
			_, _ = f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 30})
			_, _ = f.saga.Refund(ctx, apppayment.RefundCommand{PaymentID: id, Amount: 70})
			return id
		},
		"failed on initiation": func(f *fixture) string {
			f.provider.initiate = func(int) (apppayment.InitiateResponse, error) {
				return apppayment.InitiateResponse{}, errors.New("connection reset")
			}
			res, _ := f.saga.Initiate(ctx, apppayment.InitiateCommand{
				Amount: 100, Currency: "KES", Method: payment.MethodCard, PayerID: "u",
			})
			return res.Payment.PaymentID
		},
	}

	for name, run := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			id := run(f)

			events, err := f.store.LoadEvents(ctx, id)
			require.NoError(t, err)

			def := payment.Definition{}
			state := def.Initial(id)
			sawProcessing := false
			for _, e := range events {
				next := def.Apply(state, e)
				if next.Status != state.Status {
					assert.True(t, payment.CanTransition(state.Status, next.Status), "%s -> %s", state.Status, next.Status)
				}
				if next.Status == payment.StatusProcessing {
					sawProcessing = true
				}
				if next.Status == payment.StatusCompleted {
					assert.True(t, sawProcessing)
				}
				state = next
			}
			assertOnlyKnownEvents(t, events)
		})
	}
}

func assertOnlyKnownEvents(t *testing.T, events []event.DomainEvent) {
	t.Helper()
	for _, e := range events {
		_, unknown := e.(*event.Unrecognized)
		assert.False(t, unknown)
	}
}
