package domain

import (
	"fmt"
	"strings"
)

// Customer is a partner record in the billing ledger.
type Customer struct {
	ID   string
	Ref  string
	Name string
}

// Product is a billable product in the billing ledger.
type Product struct {
	ID   string
	Key  string
	Name string
}

// LineItem is one order line produced from a resolved fee.
type LineItem struct {
	Concept   string
	ProductID string
	Quantity  int
	UnitPrice float64
}

// ReconciliationResult holds the resolved customer and order lines for an encounter.
// A result without lines means nothing billable was found.
type ReconciliationResult struct {
	Customer Customer
	Lines    []LineItem
}

// Empty reports whether the result carries no billable lines.
func (r ReconciliationResult) Empty() bool {
	return len(r.Lines) == 0
}

// Total sums quantity times unit price over all lines.
func (r ReconciliationResult) Total() float64 {
	var total float64
	for _, line := range r.Lines {
		total += float64(line.Quantity) * line.UnitPrice
	}
	return total
}

// Summary renders the lines as "Concept: value" pairs.
func (r ReconciliationResult) Summary() string {
	parts := make([]string, 0, len(r.Lines))
	for _, line := range r.Lines {
		parts = append(parts, fmt.Sprintf("%s: %s", line.Concept, FormatAmount(line.UnitPrice)))
	}
	return strings.Join(parts, ", ")
}

// OrderRequest is the payload submitted to the billing ledger.
type OrderRequest struct {
	CustomerID  string
	PriceListID string
	ShopID      string
	Lines       []LineItem
}

// OrderRef identifies a created order.
type OrderRef struct {
	ID   string
	Name string
}

// String prefers the human-readable order name.
func (o OrderRef) String() string {
	if o.Name != "" {
		return o.Name
	}
	return o.ID
}

// FormatAmount prints an amount without trailing zeros.
func FormatAmount(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
