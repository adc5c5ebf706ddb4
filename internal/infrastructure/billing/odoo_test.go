package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
)

type rpcCall struct {
	Service string
	Method  string
	Model   string
	Action  string
	Args    []json.RawMessage
}

// fakeOdoo answers JSON-RPC calls from a table keyed by "model.method".
type fakeOdoo struct {
	mu      sync.Mutex
	calls   []rpcCall
	results map[string]any
	logins  int
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64 `json:"id"`
		Params struct {
			Service string            `json:"service"`
			Method  string            `json:"method"`
			Args    []json.RawMessage `json:"args"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	call := rpcCall{Service: req.Params.Service, Method: req.Params.Method}
	var result any
	if call.Service == "common" && call.Method == "login" {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		result = 7
	} else {
		_ = json.Unmarshal(req.Params.Args[3], &call.Model)
		_ = json.Unmarshal(req.Params.Args[4], &call.Action)
		call.Args = req.Params.Args
		result = f.results[call.Model+"."+call.Action]
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if errResult, ok := result.(*RPCError); ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": errResult})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeOdoo) find(model, action string) (rpcCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Model == model && c.Action == action {
			return c, true
		}
	}
	return rpcCall{}, false
}

func newTestOdoo(t *testing.T, results map[string]any) (*OdooClient, *fakeOdoo) {
	t.Helper()

	fake := &fakeOdoo{results: results}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewOdooClient(config.OdooConfig{URL: srv.URL, Database: "odoo", Username: "admin", Password: "admin"}, logger)
	return client, fake
}

func TestOdooFindCustomer(t *testing.T) {
	t.Parallel()

	client, fake := newTestOdoo(t, map[string]any{
		"res.partner.search_read": []map[string]any{{"id": 12, "name": "John Doe"}},
	})

	customer, err := client.FindCustomer(context.Background(), "GAN200001")
	if err != nil {
		t.Fatalf("FindCustomer: %v", err)
	}
	if customer == nil || customer.ID != "12" || customer.Ref != "GAN200001" {
		t.Fatalf("unexpected customer %+v", customer)
	}

	if _, err := client.FindCustomer(context.Background(), "GAN200002"); err != nil {
		t.Fatalf("second FindCustomer: %v", err)
	}
	if fake.logins != 1 {
		t.Fatalf("expected cached login, got %d logins", fake.logins)
	}
}

func TestOdooFindMissing(t *testing.T) {
	t.Parallel()

	client, _ := newTestOdoo(t, map[string]any{
		"res.partner.search_read":     []any{},
		"product.product.search_read": []any{},
	})

	customer, err := client.FindCustomer(context.Background(), "GAN200001")
	if err != nil || customer != nil {
		t.Fatalf("expected nil customer, got %+v err=%v", customer, err)
	}
	product, err := client.FindProduct(context.Background(), "Registration Fee")
	if err != nil || product != nil {
		t.Fatalf("expected nil product, got %+v err=%v", product, err)
	}
}

func TestOdooCreateCustomer(t *testing.T) {
	t.Parallel()

	client, fake := newTestOdoo(t, map[string]any{"res.partner.create": 31})

	customer, err := client.CreateCustomer(context.Background(), "GAN200001")
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if customer.ID != "31" {
		t.Fatalf("unexpected id %s", customer.ID)
	}

	call, ok := fake.find("res.partner", "create")
	if !ok {
		t.Fatalf("create not called")
	}
	var args []map[string]any
	if err := json.Unmarshal(call.Args[5], &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args[0]["ref"] != "GAN200001" || args[0]["customer_rank"] != float64(1) {
		t.Fatalf("unexpected partner values %v", args[0])
	}
}

func TestOdooCreateOrder(t *testing.T) {
	t.Parallel()

	client, fake := newTestOdoo(t, map[string]any{
		"sale.order.create": 55,
		"sale.order.read":   []map[string]any{{"id": 55, "name": "SO055"}},
	})

	ref, err := client.CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID:  "12",
		PriceListID: "1",
		ShopID:      "4",
		Lines: []domain.LineItem{
			{Concept: "Registration Fee", ProductID: "3", Quantity: 1, UnitPrice: 50},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ref.ID != "55" || ref.Name != "SO055" || ref.String() != "SO055" {
		t.Fatalf("unexpected ref %+v", ref)
	}

	call, _ := fake.find("sale.order", "create")
	var args []struct {
		PartnerID   int64   `json:"partner_id"`
		PricelistID int64   `json:"pricelist_id"`
		ShopID      int64   `json:"shop_id"`
		OrderLine   [][]any `json:"order_line"`
	}
	if err := json.Unmarshal(call.Args[5], &args); err != nil {
		t.Fatalf("decode order args: %v", err)
	}
	values := args[0]
	if values.PartnerID != 12 || values.PricelistID != 1 || values.ShopID != 4 {
		t.Fatalf("unexpected order header %+v", values)
	}
	if len(values.OrderLine) != 1 {
		t.Fatalf("expected one line, got %d", len(values.OrderLine))
	}
	line, _ := values.OrderLine[0][2].(map[string]any)
	if line["product_id"] != float64(3) || line["product_uom_qty"] != float64(1) || line["price_unit"] != float64(50) {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestOdooRPCError(t *testing.T) {
	t.Parallel()

	rpcErr := &RPCError{Code: 200, Message: "Odoo Server Error"}
	rpcErr.Data.Message = "Access Denied"
	client, _ := newTestOdoo(t, map[string]any{"sale.order.create": rpcErr})

	_, err := client.CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID:  "12",
		PriceListID: "1",
		Lines:       []domain.LineItem{{ProductID: "3", Quantity: 1, UnitPrice: 50}},
	})
	var got *RPCError
	if !errors.As(err, &got) || got.Data.Message != "Access Denied" {
		t.Fatalf("expected RPCError, got %v", err)
	}
}

func TestOdooRejectsNonNumericIDs(t *testing.T) {
	t.Parallel()

	client, _ := newTestOdoo(t, nil)
	_, err := client.CreateOrder(context.Background(), domain.OrderRequest{CustomerID: "abc", PriceListID: "1"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
