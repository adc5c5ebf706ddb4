package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"FeeSync/internal/domain"
	"FeeSync/internal/policy"
	"FeeSync/internal/ports"
)

// ReconciliationResolver maps extracted fees to ledger products and the
// patient to a customer.
type ReconciliationResolver struct {
	ledger      ports.BillingLedger
	customers   policy.CustomerStrategy
	defaultMiss domain.ProductMissPolicy
	logger      *slog.Logger
}

// NewReconciliationResolver wires the customer strategy and the global
// product-miss policy used when a concept sets none.
func NewReconciliationResolver(ledger ports.BillingLedger, customers policy.CustomerStrategy, defaultMiss domain.ProductMissPolicy, logger *slog.Logger) *ReconciliationResolver {
	if !defaultMiss.Valid() {
		defaultMiss = domain.ProductMissSkip
	}
	return &ReconciliationResolver{
		ledger:      ledger,
		customers:   customers,
		defaultMiss: defaultMiss,
		logger:      logger,
	}
}

// Resolve builds the order lines. Products are resolved before the customer
// so an encounter with nothing billable never touches customer records.
func (r *ReconciliationResolver) Resolve(ctx context.Context, patientRef string, fees []domain.ExtractedFee) (domain.ReconciliationResult, error) {
	lines := make([]domain.LineItem, 0, len(fees))
	for _, fee := range fees {
		product, err := r.ledger.FindProduct(ctx, fee.ProductKey)
		if err != nil {
			return domain.ReconciliationResult{}, fmt.Errorf("find product %s: %w", fee.ProductKey, err)
		}
		if product == nil {
			if r.missPolicy(fee) == domain.ProductMissFail {
				return domain.ReconciliationResult{}, fmt.Errorf("%w: %s (concept %s)", domain.ErrProductNotFound, fee.ProductKey, fee.Concept)
			}
			r.logger.Warn("product not found, skipping line",
				"concept", fee.Concept,
				"product_key", fee.ProductKey)
			continue
		}
		lines = append(lines, domain.LineItem{
			Concept:   fee.Concept,
			ProductID: product.ID,
			Quantity:  1,
			UnitPrice: fee.Value,
		})
	}

	if len(lines) == 0 {
		return domain.ReconciliationResult{}, nil
	}

	customer, err := r.customers.Resolve(ctx, r.ledger, patientRef)
	if err != nil {
		return domain.ReconciliationResult{}, err
	}
	return domain.ReconciliationResult{Customer: customer, Lines: lines}, nil
}

func (r *ReconciliationResolver) missPolicy(fee domain.ExtractedFee) domain.ProductMissPolicy {
	if fee.OnMissingProduct.Valid() {
		return fee.OnMissingProduct
	}
	return r.defaultMiss
}
