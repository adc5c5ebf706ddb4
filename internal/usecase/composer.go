package usecase

import (
	"context"
	"fmt"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// OrderComposer submits one order per encounter to the billing ledger.
type OrderComposer struct {
	ledger      ports.BillingLedger
	priceListID string
	shopID      string
}

// NewOrderComposer binds the price list and shop every order is created under.
func NewOrderComposer(ledger ports.BillingLedger, priceListID, shopID string) *OrderComposer {
	return &OrderComposer{ledger: ledger, priceListID: priceListID, shopID: shopID}
}

// Submit creates the order; any ledger error is wrapped as ErrOrderSubmissionFailed.
func (c *OrderComposer) Submit(ctx context.Context, customerID string, lines []domain.LineItem) (domain.OrderRef, error) {
	ref, err := c.ledger.CreateOrder(ctx, domain.OrderRequest{
		CustomerID:  customerID,
		PriceListID: c.priceListID,
		ShopID:      c.shopID,
		Lines:       lines,
	})
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("%w: %w", domain.ErrOrderSubmissionFailed, err)
	}
	return ref, nil
}
