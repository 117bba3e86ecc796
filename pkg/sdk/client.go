// Package sdk is the Go client library for the platform gateway.
//
// It wraps the GraphQL surface for the common money operations and ships
// the webhook signature verifier that event consumers embed.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    GatewayURL:  "https://platform.example.com",
//	    AccessToken: os.Getenv("PLATFORM_TOKEN"),
//	})
//
//	result, err := client.Deposit(ctx, sdk.DepositInput{
//	    Amount:   4000,
//	    Currency: "EUR",
//	    SagaID:   "order-1234",
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds the SDK configuration.
type Config struct {
	// GatewayURL is the platform gateway endpoint (required).
	GatewayURL string

	// AccessToken is the bearer JWT used on every request (required).
	AccessToken string

	// Timeout for gateway calls (default 30s).
	Timeout time.Duration
}

// Client talks to the platform gateway.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// DepositInput describes a deposit mutation.
type DepositInput struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	SagaID   string `json:"sagaId,omitempty"`
}

// SagaResult is the gateway's mutation envelope.
type SagaResult struct {
	Success         bool     `json:"success"`
	SagaID          string   `json:"sagaId"`
	Errors          []string `json:"errors"`
	ExecutionTimeMs int      `json:"executionTimeMs"`
}

// Wallet mirrors the gateway wallet projection.
type Wallet struct {
	ID               string `json:"id"`
	Currency         string `json:"currency"`
	Balance          int64  `json:"balance"`
	BonusBalance     int64  `json:"bonusBalance"`
	LockedBalance    int64  `json:"lockedBalance"`
	AvailableBalance int64  `json:"availableBalance"`
}

// Deposit runs the deposit mutation.
func (c *Client) Deposit(ctx context.Context, input DepositInput) (*SagaResult, error) {
	const query = `mutation($input: DepositInput!) {
	  deposit(input: $input) { success sagaId errors executionTimeMs }
	}`

	var out struct {
		Deposit SagaResult `json:"deposit"`
	}
	if err := c.do(ctx, query, map[string]interface{}{"input": input}, &out); err != nil {
		return nil, err
	}
	return &out.Deposit, nil
}

// GetWallet fetches the wallet projection for a currency.
func (c *Client) GetWallet(ctx context.Context, currency string) (*Wallet, error) {
	const query = `query($currency: String!) {
	  wallet(currency: $currency) {
	    id currency balance bonusBalance lockedBalance availableBalance
	  }
	}`

	var out struct {
		Wallet *Wallet `json:"wallet"`
	}
	if err := c.do(ctx, query, map[string]interface{}{"currency": currency}, &out); err != nil {
		return nil, err
	}
	return out.Wallet, nil
}

// do posts one GraphQL request and decodes the data payload.
func (c *Client) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("gateway decode: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("gateway error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}
