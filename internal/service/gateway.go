package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayClient creates payment intents at the remote gateway. Amounts are in
// the gateway's minor units (paise for INR).
type GatewayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

type GatewayIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewGatewayClient(baseURL, keyID, keySecret string) *GatewayClient {
	return &GatewayClient{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *GatewayClient) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*GatewayIntent, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, ErrNoSecret
	}

	payload, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent: %w", err)
	}

	url := fmt.Sprintf("%s/v1/orders", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var intent GatewayIntent
		if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
			return nil, fmt.Errorf("decode intent: %w", err)
		}
		return &intent, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: unexpected status %d, body: %s", ErrGatewayUnavailable, resp.StatusCode, string(body))
	}
}
