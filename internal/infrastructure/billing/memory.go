package billing

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// MemoryLedger is an in-process billing ledger for dry runs and tests.
type MemoryLedger struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    []MemoryOrder
	nextID    int
}

// MemoryOrder is an order stored by MemoryLedger.
type MemoryOrder struct {
	Ref     domain.OrderRef
	Request domain.OrderRequest
}

var _ ports.BillingLedger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
	}
}

// AddCustomer seeds a customer with the given reference.
func (m *MemoryLedger) AddCustomer(ref string) domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCustomerLocked(ref)
}

// AddProduct seeds a product with the given lookup key.
func (m *MemoryLedger) AddProduct(key string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	p := domain.Product{ID: strconv.Itoa(m.nextID), Key: key, Name: key}
	m.products[key] = p
	return p
}

func (m *MemoryLedger) FindCustomer(_ context.Context, ref string) (*domain.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.customers[ref]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *MemoryLedger) CreateCustomer(_ context.Context, ref string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.customers[ref]; exists {
		return domain.Customer{}, fmt.Errorf("%w: customer %s", domain.ErrInvalidInput, ref)
	}
	return m.addCustomerLocked(ref), nil
}

func (m *MemoryLedger) FindProduct(_ context.Context, key string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.products[key]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemoryLedger) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	if req.CustomerID == "" || len(req.Lines) == 0 {
		return domain.OrderRef{}, fmt.Errorf("%w: order needs a customer and lines", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ref := domain.OrderRef{
		ID:   strconv.Itoa(m.nextID),
		Name: fmt.Sprintf("SO%03d", len(m.orders)+1),
	}
	lines := make([]domain.LineItem, len(req.Lines))
	copy(lines, req.Lines)
	req.Lines = lines
	m.orders = append(m.orders, MemoryOrder{Ref: ref, Request: req})
	return ref, nil
}

// Orders returns a snapshot of the created orders.
func (m *MemoryLedger) Orders() []MemoryOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MemoryOrder, len(m.orders))
	copy(out, m.orders)
	return out
}

// Customers returns the number of stored customers.
func (m *MemoryLedger) Customers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.customers)
}

func (m *MemoryLedger) addCustomerLocked(ref string) domain.Customer {
	m.nextID++
	c := domain.Customer{ID: strconv.Itoa(m.nextID), Ref: ref, Name: ref}
	m.customers[ref] = c
	return c
}
