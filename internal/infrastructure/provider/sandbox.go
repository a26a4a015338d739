package provider

import (
	"context"
	"fmt"
	"sync"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// Sandbox is an in-process provider for mock mode. Every payment is accepted
// and verifies as the configured default unless scripted otherwise.
type Sandbox struct {
	name string

	mu         sync.Mutex
	outcome    apppayment.VerifyStatus
	outcomes   map[string]apppayment.VerifyStatus
	failNext   map[string]int
	refunds    int
	refundRefs map[string]string
	initiated  map[string]string
}

// NewSandbox creates a sandbox provider answering verify with outcome.
func NewSandbox(name string, outcome apppayment.VerifyStatus) *Sandbox {
	if outcome == "" {
		outcome = apppayment.VerifySucceeded
	}
	return &Sandbox{
		name:       name,
		outcome:    outcome,
		outcomes:   make(map[string]apppayment.VerifyStatus),
		failNext:   make(map[string]int),
		refundRefs: make(map[string]string),
		initiated:  make(map[string]string),
	}
}

// SetOutcome scripts the verify result of one provider reference.
func (s *Sandbox) SetOutcome(providerRef string, status apppayment.VerifyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[providerRef] = status
}

// FailNext makes the next n calls of operation (initiate, verify, refund) fail transiently.
func (s *Sandbox) FailNext(operation string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[operation] = n
}

func (s *Sandbox) injected(operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext[operation] > 0 {
		s.failNext[operation]--
		return fmt.Errorf("%w: sandbox %s unavailable", apppayment.ErrProviderTransient, operation)
	}
	return nil
}

// Name implements payment.ProviderAdapter.
func (s *Sandbox) Name() string { return s.name }

// Initiate accepts the payment. The reference is stable per payment ID.
func (s *Sandbox) Initiate(_ context.Context, req apppayment.InitiateRequest) (apppayment.InitiateResponse, error) {
	if err := s.injected("initiate"); err != nil {
		return apppayment.InitiateResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.initiated[req.PaymentID]
	if !ok {
		ref = "sbx_" + req.PaymentID
		s.initiated[req.PaymentID] = ref
	}
	return apppayment.InitiateResponse{
		Accepted:     true,
		ProviderRef:  ref,
		Instructions: map[string]string{"sandbox": "confirm via POST /webhooks/" + s.name},
	}, nil
}

// Verify returns the scripted outcome for the reference.
func (s *Sandbox) Verify(_ context.Context, providerRef string) (apppayment.VerifyResponse, error) {
	if err := s.injected("verify"); err != nil {
		return apppayment.VerifyResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.outcomes[providerRef]
	if !ok {
		status = s.outcome
	}
	resp := apppayment.VerifyResponse{Status: status}
	switch status {
	case apppayment.VerifySucceeded:
		resp.ProviderTransactionID = "sbx_tx_" + providerRef
	case apppayment.VerifyFailed:
		resp.Reason = "sandbox declined"
	}
	return resp, nil
}

// Refund accepts every refund. A repeated idempotency key returns the
// original refund instead of a new one.
func (s *Sandbox) Refund(ctx context.Context, _ string, _ int64) (apppayment.RefundResponse, error) {
	if err := s.injected("refund"); err != nil {
		return apppayment.RefundResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := apppayment.IdempotencyKey(ctx)
	if ref, ok := s.refundRefs[key]; ok && key != "" {
		return apppayment.RefundResponse{Accepted: true, RefundRef: ref}, nil
	}
	s.refunds++
	ref := fmt.Sprintf("sbx_rf_%d", s.refunds)
	if key != "" {
		s.refundRefs[key] = ref
	}
	return apppayment.RefundResponse{Accepted: true, RefundRef: ref}, nil
}

// Refunds returns how many distinct refunds were applied.
func (s *Sandbox) Refunds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunds
}
