// Package binance provides Binance USD-M futures connectivity
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
	pkghttp "tradebot/pkg/http"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	defaultWSURL   = "wss://fstream.binance.com/ws"

	requestTimeout = 10 * time.Second
	recvWindow     = "5000"
)

// signer implements request signing for authenticated endpoints
type signer struct {
	apiKey    string
	secretKey string
}

func (s *signer) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	if q.Get("recvWindow") == "" {
		q.Set("recvWindow", recvWindow)
	}

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()
	return nil
}

// Exchange implements core.IExchange against the Binance futures REST and
// user data stream APIs
type Exchange struct {
	cfg    config.ExchangeConfig
	http   *pkghttp.Client
	wsURL  string
	logger core.ILogger

	mu          sync.Mutex
	constraints map[string]*core.SymbolConstraints
	stream      *userStream
}

// New creates a Binance adapter from config
func New(cfg config.ExchangeConfig, logger core.ILogger) *Exchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	wsURL := cfg.WSBaseURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &Exchange{
		cfg: cfg,
		http: pkghttp.NewClient(baseURL, requestTimeout, &signer{
			apiKey:    string(cfg.APIKey),
			secretKey: string(cfg.SecretKey),
		}),
		wsURL:       wsURL,
		logger:      logger.WithField("component", "binance_exchange"),
		constraints: make(map[string]*core.SymbolConstraints),
	}
}

func (e *Exchange) GetName() string { return "binance" }

func (e *Exchange) CheckHealth(ctx context.Context) error {
	_, err := e.http.Get(ctx, "/fapi/v1/ping", nil)
	return e.mapError(err)
}

// orderResponse is the REST shape shared by place, query, and open orders
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	params := map[string]string{
		"symbol":           req.Symbol,
		"side":             string(req.Side),
		"type":             string(req.Type),
		"quantity":         req.Quantity.String(),
		"newClientOrderId": req.IdempotencyKey,
	}
	if req.Type == core.OrderTypeLimit {
		params["price"] = req.Price.String()
		params["timeInForce"] = "GTC"
	}

	body, err := e.http.Post(ctx, "/fapi/v1/order?"+encodeParams(params), nil)
	if err != nil {
		return nil, e.mapError(err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode place order response: %w", err)
	}
	return e.toOrder(&resp), nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	_, err := e.http.Delete(ctx, "/fapi/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": exchangeOrderID,
	})
	return e.mapError(err)
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*core.Order, error) {
	return e.queryOrder(ctx, map[string]string{
		"symbol":  symbol,
		"orderId": exchangeOrderID,
	})
}

func (e *Exchange) GetOrderByIdempotencyKey(ctx context.Context, symbol, key string) (*core.Order, error) {
	return e.queryOrder(ctx, map[string]string{
		"symbol":            symbol,
		"origClientOrderId": key,
	})
}

func (e *Exchange) queryOrder(ctx context.Context, params map[string]string) (*core.Order, error) {
	body, err := e.http.Get(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, e.mapError(err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return e.toOrder(&resp), nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	body, err := e.http.Get(ctx, "/fapi/v1/openOrders", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, e.mapError(err)
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders response: %w", err)
	}
	orders := make([]*core.Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, e.toOrder(&resp[i]))
	}
	return orders, nil
}

func (e *Exchange) GetAccount(ctx context.Context) (*core.AccountSnapshot, error) {
	body, err := e.http.Get(ctx, "/fapi/v2/account", nil)
	if err != nil {
		return nil, e.mapError(err)
	}

	var resp struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		AvailableBalance      string `json:"availableBalance"`
		TotalInitialMargin    string `json:"totalInitialMargin"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}

	return &core.AccountSnapshot{
		TotalBalance:     mustDecimal(resp.TotalWalletBalance),
		AvailableBalance: mustDecimal(resp.AvailableBalance),
		MarginUsed:       mustDecimal(resp.TotalInitialMargin),
		UnrealizedPnL:    mustDecimal(resp.TotalUnrealizedProfit),
		FetchedAt:        time.Now().UTC(),
	}, nil
}

func (e *Exchange) GetPositions(ctx context.Context) ([]*core.Position, error) {
	body, err := e.http.Get(ctx, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, e.mapError(err)
	}

	var resp []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions response: %w", err)
	}

	var positions []*core.Position
	for _, p := range resp {
		amt := mustDecimal(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := core.SideBuy
		if amt.IsNegative() {
			side = core.SideSell
		}
		positions = append(positions, &core.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      amt.Abs(),
			AvgEntryPrice: mustDecimal(p.EntryPrice),
			CurrentPrice:  mustDecimal(p.MarkPrice),
			UnrealizedPnL: mustDecimal(p.UnRealizedProfit),
			UpdatedAt:     time.UnixMilli(p.UpdateTime).UTC(),
		})
	}
	return positions, nil
}

// GetSymbolConstraints fetches trading rules for a symbol. Rules change
// rarely, so the first successful fetch is cached for the process lifetime.
func (e *Exchange) GetSymbolConstraints(ctx context.Context, symbol string) (*core.SymbolConstraints, error) {
	e.mu.Lock()
	if c, ok := e.constraints[symbol]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	body, err := e.http.Get(ctx, "/fapi/v1/exchangeInfo", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, e.mapError(err)
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				StepSize   string `json:"stepSize"`
				TickSize   string `json:"tickSize"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode exchange info response: %w", err)
	}

	constraints := &core.SymbolConstraints{
		MakerFeeRate: decimal.NewFromFloat(e.cfg.FeeRate),
		TakerFeeRate: decimal.NewFromFloat(e.cfg.FeeRate),
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				constraints.MinOrderQuantity = mustDecimal(f.MinQty)
				constraints.StepSize = mustDecimal(f.StepSize)
			case "PRICE_FILTER":
				constraints.TickSize = mustDecimal(f.TickSize)
			case "MIN_NOTIONAL":
				constraints.MinOrderValue = mustDecimal(f.Notional)
			}
		}
	}

	e.mu.Lock()
	e.constraints[symbol] = constraints
	e.mu.Unlock()
	return constraints, nil
}

func (e *Exchange) toOrder(resp *orderResponse) *core.Order {
	return &core.Order{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		IdempotencyKey:  resp.ClientOrderID,
		Symbol:          resp.Symbol,
		Side:            core.Side(resp.Side),
		Type:            core.OrderType(resp.Type),
		Status:          mapOrderStatus(resp.Status),
		Quantity:        mustDecimal(resp.OrigQty),
		FilledQuantity:  mustDecimal(resp.ExecutedQty),
		Price:           mustDecimal(resp.Price),
		AvgFillPrice:    mustDecimal(resp.AvgPrice),
		UpdatedAt:       time.UnixMilli(resp.UpdateTime).UTC(),
	}
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case "NEW":
		return core.OrderStatusSubmitted
	case "PARTIALLY_FILLED":
		return core.OrderStatusPartiallyFilled
	case "FILLED":
		return core.OrderStatusFilled
	case "CANCELED":
		return core.OrderStatusCancelled
	case "REJECTED":
		return core.OrderStatusRejected
	case "EXPIRED":
		return core.OrderStatusExpired
	default:
		return core.OrderStatusSubmitted
	}
}

// mapError translates Binance error codes into the pipeline's sentinels so
// retry classification works without knowing the venue
func (e *Exchange) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *pkghttp.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &payload); jsonErr != nil {
		return err
	}

	switch payload.Code {
	case -2010:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrInsufficientFunds, payload.Msg)
	case -1121:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidSymbol, payload.Msg)
	case -1003:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrRateLimitExceeded, payload.Msg)
	case -2015:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrAuthenticationFailed, payload.Msg)
	case -2011:
		// Cancel raced a fill or an earlier cancel
		return core.ErrOrderFinalized
	case -2013:
		return core.ErrOrderNotFound
	case -2012:
		return core.ErrDuplicateOrder
	case -4164:
		return fmt.Errorf("binance: min notional not met: %s", payload.Msg)
	default:
		return fmt.Errorf("binance error %d: %s", payload.Code, payload.Msg)
	}
}

func encodeParams(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return q.Encode()
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
