package policy

import (
	"context"
	"errors"
	"testing"

	"FeeSync/internal/domain"
	"FeeSync/internal/infrastructure/billing"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	for _, name := range []domain.CustomerPolicy{domain.CustomerLookupOnly, domain.CustomerLookupOrCreate} {
		strategy, err := r.Resolve(string(name))
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if strategy.Name() != string(name) {
			t.Fatalf("expected %s, got %s", name, strategy.Name())
		}
	}

	if _, err := r.Resolve("guess"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLookupOnly(t *testing.T) {
	t.Parallel()

	ledger := billing.NewMemoryLedger()
	existing := ledger.AddCustomer("GAN200001")

	got, err := LookupOnly{}.Resolve(context.Background(), ledger, "GAN200001")
	if err != nil || got.ID != existing.ID {
		t.Fatalf("expected existing customer, got %+v err=%v", got, err)
	}

	_, err = LookupOnly{}.Resolve(context.Background(), ledger, "GAN200002")
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if ledger.Customers() != 1 {
		t.Fatalf("lookup-only must not create customers")
	}
}

func TestLookupOrCreate(t *testing.T) {
	t.Parallel()

	ledger := billing.NewMemoryLedger()

	created, err := LookupOrCreate{}.Resolve(context.Background(), ledger, "GAN200001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	again, err := LookupOrCreate{}.Resolve(context.Background(), ledger, "GAN200001")
	if err != nil || again.ID != created.ID {
		t.Fatalf("second resolve must reuse customer: %+v err=%v", again, err)
	}
	if ledger.Customers() != 1 {
		t.Fatalf("expected one customer, got %d", ledger.Customers())
	}
}

func TestEmptyPatientRef(t *testing.T) {
	t.Parallel()

	_, err := LookupOrCreate{}.Resolve(context.Background(), billing.NewMemoryLedger(), "  ")
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}
