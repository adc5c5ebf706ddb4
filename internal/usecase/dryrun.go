package usecase

import (
	"context"
	"fmt"
	"sync/atomic"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// DryRunLedger forwards lookups to the real ledger and fakes every write.
type DryRunLedger struct {
	inner ports.BillingLedger
	seq   atomic.Int64
}

var _ ports.BillingLedger = (*DryRunLedger)(nil)

// NewDryRunLedger wraps inner.
func NewDryRunLedger(inner ports.BillingLedger) *DryRunLedger {
	return &DryRunLedger{inner: inner}
}

func (d *DryRunLedger) FindCustomer(ctx context.Context, ref string) (*domain.Customer, error) {
	return d.inner.FindCustomer(ctx, ref)
}

func (d *DryRunLedger) FindProduct(ctx context.Context, key string) (*domain.Product, error) {
	return d.inner.FindProduct(ctx, key)
}

func (d *DryRunLedger) CreateCustomer(_ context.Context, ref string) (domain.Customer, error) {
	return domain.Customer{ID: fmt.Sprintf("dry-run-%d", d.seq.Add(1)), Ref: ref, Name: ref}, nil
}

func (d *DryRunLedger) CreateOrder(_ context.Context, _ domain.OrderRequest) (domain.OrderRef, error) {
	n := d.seq.Add(1)
	return domain.OrderRef{ID: fmt.Sprintf("dry-run-%d", n), Name: fmt.Sprintf("DRY%03d", n)}, nil
}
