package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/campuslance/platform/internal/errors"
)

const defaultTimeout = 10 * time.Second

// HTTPAdapter talks to a hosted payment gateway over its REST API.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)
var _ StatusChecker = (*HTTPAdapter)(nil)

// NewHTTP creates an adapter for the gateway at baseURL. A zero timeout
// falls back to ten seconds.
func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type orderRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type orderResponse struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (a *HTTPAdapter) CreateOrder(ctx context.Context, amount float64, currency string) (Order, error) {
	body, err := json.Marshal(orderRequest{Amount: amount, Currency: currency})
	if err != nil {
		return Order{}, apperrors.Internal("encode order request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, apperrors.Internal("build order request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Order{}, apperrors.GatewayUnavailable("gateway order call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Order{}, apperrors.GatewayUnavailable(
			fmt.Sprintf("gateway order call returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	var decoded orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Order{}, apperrors.GatewayUnavailable("decode gateway order response", err)
	}
	if decoded.ID == "" {
		return Order{}, apperrors.GatewayUnavailable("gateway order response missing id", nil)
	}

	return Order{Ref: decoded.ID, Amount: amount, Currency: currency}, nil
}

type statusResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
}

func (a *HTTPAdapter) OrderStatus(ctx context.Context, orderRef string) (EventKind, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/orders/"+orderRef, nil)
	if err != nil {
		return "", "", apperrors.Internal("build status request", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", apperrors.GatewayUnavailable("gateway status call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", apperrors.GatewayUnavailable(
			fmt.Sprintf("gateway status call returned %d", resp.StatusCode), nil)
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", apperrors.GatewayUnavailable("decode gateway status response", err)
	}

	switch decoded.Status {
	case "captured", "paid":
		return EventCaptured, decoded.PaymentID, nil
	case "failed":
		return EventFailed, decoded.PaymentID, nil
	}
	return "", "", nil
}
