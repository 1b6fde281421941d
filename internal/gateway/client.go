package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/eventshare/ledger/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// Client talks to the payment provider's REST API.
type Client struct {
	baseURL    string
	merchantID string
	gatewayID  string
	httpClient *http.Client
}

func NewClient(baseURL, merchantID, gatewayID string) *Client {
	return &Client{
		baseURL:    baseURL,
		merchantID: merchantID,
		gatewayID:  gatewayID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) ID() string {
	return c.gatewayID
}

type initiateRequest struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description,omitempty"`
}

type initiateResponse struct {
	Token      string `json:"token"`
	PaymentURL string `json:"payment_url"`
	Message    string `json:"message,omitempty"`
}

func (c *Client) Initiate(ctx context.Context, amount int64, callbackURL, description string) (*InitiateResult, error) {
	var resp initiateResponse
	err := c.post(ctx, "/payment/request", initiateRequest{
		MerchantID:  c.merchantID,
		Amount:      amount,
		CallbackURL: callbackURL,
		Description: description,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		slog.Error("gateway returned no session token", "gateway", c.gatewayID, "message", resp.Message)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrGatewayUnavailable, resp.Message)
	}

	slog.Info("gateway session opened", "gateway", c.gatewayID, "amount", amount)
	return &InitiateResult{SessionToken: resp.Token, RedirectURL: resp.PaymentURL}, nil
}

type verifyRequest struct {
	MerchantID string `json:"merchant_id"`
	Token      string `json:"token"`
}

type verifyResponse struct {
	Verified  bool   `json:"verified"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	CardMask  string `json:"card_mask,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (c *Client) Verify(ctx context.Context, sessionToken string, expectedAmount int64) (*VerificationResult, error) {
	var resp verifyResponse
	err := c.post(ctx, "/payment/verify", verifyRequest{
		MerchantID: c.merchantID,
		Token:      sessionToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Verified {
		slog.Info("gateway declined verification", "gateway", c.gatewayID, "message", resp.Message)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrGatewayRejected, resp.Message)
	}
	if resp.Amount != expectedAmount {
		slog.Error("gateway verified a different amount",
			"gateway", c.gatewayID, "expected", expectedAmount, "verified", resp.Amount)
		return nil, fmt.Errorf("%w: amount mismatch (expected %d, verified %d)",
			pkgerrors.ErrGatewayRejected, expectedAmount, resp.Amount)
	}

	slog.Info("gateway verification succeeded", "gateway", c.gatewayID, "reference", resp.Reference)
	return &VerificationResult{Reference: resp.Reference, PayerMaskedID: resp.CardMask}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("gateway request failed", "gateway", c.gatewayID, "path", path, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		slog.Error("gateway returned server error", "gateway", c.gatewayID, "path", path, "status", httpResp.StatusCode)
		return fmt.Errorf("%w: status %d", pkgerrors.ErrGatewayUnavailable, httpResp.StatusCode)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	return nil
}
