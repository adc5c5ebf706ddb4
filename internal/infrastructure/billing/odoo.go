package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const (
	modelPartner = "res.partner"
	modelProduct = "product.product"
	modelOrder   = "sale.order"
)

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo rpc error %d: %s: %s", e.Code, e.Message, e.Data.Message)
	}
	return fmt.Sprintf("odoo rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// OdooClient implements ports.BillingLedger over Odoo's JSON-RPC endpoint.
type OdooClient struct {
	endpoint string
	database string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	mu  sync.Mutex
	uid int64

	seq atomic.Int64
}

var _ ports.BillingLedger = (*OdooClient)(nil)

// NewOdooClient creates a reusable HTTP client from configuration.
func NewOdooClient(cfg config.OdooConfig, logger *slog.Logger) *OdooClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OdooClient{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
		database: cfg.Database,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// FindCustomer searches res.partner by its internal reference.
func (c *OdooClient) FindCustomer(ctx context.Context, ref string) (*domain.Customer, error) {
	var rows []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	err := c.executeKW(ctx, modelPartner, "search_read",
		[]any{[]any{[]any{"ref", "=", ref}}},
		map[string]any{"fields": []string{"id", "name"}, "limit": 1},
		&rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.Customer{ID: formatID(rows[0].ID), Ref: ref, Name: rows[0].Name}, nil
}

// CreateCustomer creates a minimal partner flagged as a customer.
func (c *OdooClient) CreateCustomer(ctx context.Context, ref string) (domain.Customer, error) {
	var id int64
	err := c.executeKW(ctx, modelPartner, "create",
		[]any{map[string]any{"name": ref, "ref": ref, "customer_rank": 1}},
		nil, &id)
	if err != nil {
		return domain.Customer{}, err
	}
	if c.logger != nil {
		c.logger.Info("customer created", "ref", ref, "partner_id", id)
	}
	return domain.Customer{ID: formatID(id), Ref: ref, Name: ref}, nil
}

// FindProduct searches product.product by name.
func (c *OdooClient) FindProduct(ctx context.Context, key string) (*domain.Product, error) {
	var rows []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	err := c.executeKW(ctx, modelProduct, "search_read",
		[]any{[]any{[]any{"name", "=", key}}},
		map[string]any{"fields": []string{"id", "name"}, "limit": 1},
		&rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.Product{ID: formatID(rows[0].ID), Key: key, Name: rows[0].Name}, nil
}

// CreateOrder creates a sale.order with one line per item and reads back its name.
func (c *OdooClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	partnerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("customer id: %w", err)
	}
	priceListID, err := parseID(req.PriceListID)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("price list id: %w", err)
	}

	lines := make([]any, 0, len(req.Lines))
	for _, line := range req.Lines {
		productID, err := parseID(line.ProductID)
		if err != nil {
			return domain.OrderRef{}, fmt.Errorf("product id: %w", err)
		}
		lines = append(lines, []any{0, 0, map[string]any{
			"product_id":      productID,
			"product_uom_qty": line.Quantity,
			"price_unit":      line.UnitPrice,
		}})
	}

	values := map[string]any{
		"partner_id":   partnerID,
		"pricelist_id": priceListID,
		"order_line":   lines,
	}
	if req.ShopID != "" {
		shopID, err := parseID(req.ShopID)
		if err != nil {
			return domain.OrderRef{}, fmt.Errorf("shop id: %w", err)
		}
		values["shop_id"] = shopID
	}

	var orderID int64
	if err := c.executeKW(ctx, modelOrder, "create", []any{values}, nil, &orderID); err != nil {
		return domain.OrderRef{}, err
	}

	ref := domain.OrderRef{ID: formatID(orderID)}
	var rows []struct {
		Name string `json:"name"`
	}
	err = c.executeKW(ctx, modelOrder, "read",
		[]any{[]int64{orderID}},
		map[string]any{"fields": []string{"name"}},
		&rows)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("order created but name lookup failed", "order_id", orderID, "error", err)
		}
		return ref, nil
	}
	if len(rows) > 0 {
		ref.Name = rows[0].Name
	}
	return ref, nil
}

func (c *OdooClient) executeKW(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.login(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	callArgs := []any{c.database, uid, c.password, model, method, args, kwargs}
	if err := c.call(ctx, "object", "execute_kw", callArgs, out); err != nil {
		return fmt.Errorf("%s.%s: %w", model, method, err)
	}
	return nil
}

func (c *OdooClient) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid != 0 {
		return c.uid, nil
	}

	var result json.RawMessage
	if err := c.call(ctx, "common", "login", []any{c.database, c.username, c.password}, &result); err != nil {
		return 0, fmt.Errorf("odoo login: %w", err)
	}

	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, errors.New("odoo login: invalid credentials")
	}
	c.uid = uid
	return uid, nil
}

func (c *OdooClient) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.seq.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not an odoo record id", domain.ErrInvalidInput, s)
	}
	return id, nil
}
