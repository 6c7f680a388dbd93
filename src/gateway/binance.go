package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionengine/src/model"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	recvWindowMillis = 5000
)

// BinanceGateway is the USDT-M futures execution client. All private calls
// carry an HMAC-SHA256 signature over the query string; transient HTTP
// failures are retried inside resty before the caller sees an error.
type BinanceGateway struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	log       *logger.Entry
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewBinanceGateway(cfg Config, log *logger.Entry) (*BinanceGateway, error) {
	apiKey, apiSecret, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BinanceGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
		log:       log,
	}, nil
}

func (g *BinanceGateway) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiError is the exchange's error envelope, e.g. {"code":-2019,"msg":"..."}.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (g *BinanceGateway) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMillis))

	query := params.Encode()
	query += "&signature=" + g.sign(query)

	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", g.apiKey).
		SetQueryString(query).
		Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if isRetryableResp(resp, nil) {
			return nil, fmt.Errorf("%w: HTTP %d code=%d %s", ErrTransient, resp.StatusCode(), apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("HTTP %d code=%d %s", resp.StatusCode(), apiErr.Code, apiErr.Msg)
	}

	return raw, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func sideFor(dir model.Direction) string {
	if dir == model.DirectionLong {
		return "BUY"
	}
	return "SELL"
}

// PlaceEntry sets the symbol leverage, then submits a market order. The
// returned id is our client order id so a lost response can still be polled.
func (g *BinanceGateway) PlaceEntry(ctx context.Context, order EntryOrder) (string, error) {
	if err := g.setLeverage(ctx, order.Symbol, order.Leverage); err != nil {
		return "", err
	}

	clientID := "pe-" + uuid.NewString()
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", sideFor(order.Direction))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Quantity.String())
	params.Set("newClientOrderId", clientID)

	raw, err := g.doSigned(ctx, "POST", "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}

	var parsed orderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}

	g.log.WithFields(map[string]interface{}{
		"symbol":          order.Symbol,
		"side":            sideFor(order.Direction),
		"quantity":        order.Quantity,
		"client_order_id": clientID,
		"status":          parsed.Status,
	}).Info("entry order placed")

	return clientID, nil
}

// PlaceMarketClose flattens quantity with a reduce-only market order.
func (g *BinanceGateway) PlaceMarketClose(ctx context.Context, order CloseOrder) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", sideFor(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Quantity.String())
	params.Set("reduceOnly", "true")
	params.Set("newClientOrderId", "pc-"+uuid.NewString())

	if _, err := g.doSigned(ctx, "POST", "/fapi/v1/order", params); err != nil {
		return err
	}

	g.log.WithFields(map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     sideFor(order.Side),
		"quantity": order.Quantity,
	}).Info("close order placed")

	return nil
}

func (g *BinanceGateway) PollFill(ctx context.Context, symbol, orderID string) (FillReport, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("origClientOrderId", orderID)

	raw, err := g.doSigned(ctx, "GET", "/fapi/v1/order", params)
	if err != nil {
		return FillReport{}, err
	}

	var parsed orderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return FillReport{}, err
	}

	report := FillReport{OrderID: orderID, State: fillState(parsed.Status)}
	if report.State == FillStateFilled {
		qty, err := decimal.NewFromString(parsed.ExecutedQty)
		if err != nil {
			return FillReport{}, fmt.Errorf("bad executedQty %q: %w", parsed.ExecutedQty, err)
		}
		price, err := decimal.NewFromString(parsed.AvgPrice)
		if err != nil {
			return FillReport{}, fmt.Errorf("bad avgPrice %q: %w", parsed.AvgPrice, err)
		}
		report.Quantity = qty
		report.Price = price
	}

	return report, nil
}

func fillState(status string) FillState {
	switch status {
	case "FILLED":
		return FillStateFilled
	case "CANCELED", "REJECTED", "EXPIRED":
		return FillStateRejected
	default:
		// NEW, PARTIALLY_FILLED
		return FillStatePending
	}
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("origClientOrderId", orderID)

	_, err := g.doSigned(ctx, "DELETE", "/fapi/v1/order", params)
	return err
}

type accountResponse struct {
	TotalMarginBalance string `json:"totalMarginBalance"`
}

// AccountEquity returns the account's total margin balance in quote currency.
func (g *BinanceGateway) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	raw, err := g.doSigned(ctx, "GET", "/fapi/v2/account", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var parsed accountResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return decimal.Zero, err
	}

	equity, err := decimal.NewFromString(parsed.TotalMarginBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad totalMarginBalance %q: %w", parsed.TotalMarginBalance, err)
	}
	return equity, nil
}

func (g *BinanceGateway) setLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	lev := leverage.IntPart()
	if lev < 1 {
		lev = 1
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("leverage", strconv.FormatInt(lev, 10))

	_, err := g.doSigned(ctx, "POST", "/fapi/v1/leverage", params)
	return err
}
