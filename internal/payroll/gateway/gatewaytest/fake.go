// Package gatewaytest provides a deterministic in-memory gateway that honors
// idempotency-key dedupe the way the real provider does. Tests use it to
// prove that crash-and-retry never moves money twice.
package gatewaytest

import (
	"context"
	"sync"

	"payguard/internal/payroll/ports"
	derrors "payguard/pkg/domain-errors"
)

// Fake is an in-memory ports.Gateway.
type Fake struct {
	mu        sync.Mutex
	transfers map[string]*ports.Transfer // keyed by idempotency key == reference

	// Test knobs.
	Balance             int64
	FailDestinations    map[string]bool // destinations that fail permanently
	TransientFailures   int             // next N CreateTransfer calls fail transiently
	AcceptAsPending     bool            // transfers start pending instead of succeeded
	CreateCalls         int
	StatusQueryCalls    int
	unknownDestinations map[string]bool
}

func New() *Fake {
	return &Fake{
		transfers:           make(map[string]*ports.Transfer),
		FailDestinations:    make(map[string]bool),
		unknownDestinations: make(map[string]bool),
		Balance:             1_000_000_00,
	}
}

func (f *Fake) VerifyDestination(_ context.Context, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknownDestinations[destination] {
		return derrors.Newf(derrors.CodeGatewayPermanent, "unknown destination %s", destination)
	}
	return nil
}

// MarkDestinationUnknown makes VerifyDestination fail for destination.
func (f *Fake) MarkDestinationUnknown(destination string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unknownDestinations[destination] = true
}

func (f *Fake) CreateTransfer(_ context.Context, destination string, amount int64, idempotencyKey string) (*ports.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++

	// Duplicate reference: return the original transfer, no new money moves.
	if existing, ok := f.transfers[idempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}

	if f.TransientFailures > 0 {
		f.TransientFailures--
		return nil, derrors.New(derrors.CodeGatewayTransient, "gateway unreachable")
	}
	if f.FailDestinations[destination] {
		return nil, derrors.Newf(derrors.CodeGatewayPermanent, "invalid destination %s", destination)
	}

	status := ports.TransferSucceeded
	if f.AcceptAsPending {
		status = ports.TransferPending
	}
	transfer := &ports.Transfer{Reference: idempotencyKey, Status: status}
	f.transfers[idempotencyKey] = transfer
	f.Balance -= amount

	cp := *transfer
	return &cp, nil
}

func (f *Fake) QueryTransferStatus(_ context.Context, reference string) (ports.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StatusQueryCalls++
	transfer, ok := f.transfers[reference]
	if !ok {
		return "", derrors.Newf(derrors.CodeGatewayPermanent, "unknown transfer %s", reference)
	}
	return transfer.Status, nil
}

func (f *Fake) GetBalance(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Balance, nil
}

// ResolveTransfer flips a pending transfer to its final status, simulating
// the provider settling asynchronously.
func (f *Fake) ResolveTransfer(reference string, status ports.TransferStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if transfer, ok := f.transfers[reference]; ok {
		transfer.Status = status
	}
}

// TransferCount reports how many distinct transfers the gateway executed.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

var _ ports.Gateway = (*Fake)(nil)
