package policy

import (
	"context"
	"fmt"
	"strings"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// CustomerStrategy resolves a patient reference to a customer record.
type CustomerStrategy interface {
	Name() string
	Resolve(ctx context.Context, ledger ports.BillingLedger, patientRef string) (domain.Customer, error)
}

// LookupOnly fails with domain.ErrCustomerNotFound when no customer matches.
type LookupOnly struct{}

// Name identifies the strategy inside the registry.
func (LookupOnly) Name() string { return string(domain.CustomerLookupOnly) }

// Resolve searches the ledger for patientRef.
func (LookupOnly) Resolve(ctx context.Context, ledger ports.BillingLedger, patientRef string) (domain.Customer, error) {
	customer, err := find(ctx, ledger, patientRef)
	if err != nil {
		return domain.Customer{}, err
	}
	if customer == nil {
		return domain.Customer{}, fmt.Errorf("%w: no customer with ref %s", domain.ErrCustomerNotFound, patientRef)
	}
	return *customer, nil
}

// LookupOrCreate creates a minimal purchaser record when none exists.
type LookupOrCreate struct{}

// Name identifies the strategy inside the registry.
func (LookupOrCreate) Name() string { return string(domain.CustomerLookupOrCreate) }

// Resolve searches the ledger for patientRef and creates the customer on a miss.
func (LookupOrCreate) Resolve(ctx context.Context, ledger ports.BillingLedger, patientRef string) (domain.Customer, error) {
	customer, err := find(ctx, ledger, patientRef)
	if err != nil {
		return domain.Customer{}, err
	}
	if customer != nil {
		return *customer, nil
	}

	created, err := ledger.CreateCustomer(ctx, patientRef)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("create customer %s: %w", patientRef, err)
	}
	return created, nil
}

func find(ctx context.Context, ledger ports.BillingLedger, patientRef string) (*domain.Customer, error) {
	if strings.TrimSpace(patientRef) == "" {
		return nil, fmt.Errorf("%w: empty patient reference", domain.ErrCustomerNotFound)
	}
	customer, err := ledger.FindCustomer(ctx, patientRef)
	if err != nil {
		return nil, fmt.Errorf("find customer %s: %w", patientRef, err)
	}
	return customer, nil
}
