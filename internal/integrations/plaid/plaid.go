// Package plaid is a minimal client for the Plaid endpoints the
// dashboard needs: link token creation, public token exchange, and
// liabilities retrieval.
package plaid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/utilpilot/utilization-service/internal/config"
)

// Client handles integration with the Plaid API
type Client struct {
	url      string
	clientID string
	secret   string
	client   *http.Client
	log      *logrus.Logger
}

// CreditAccount is a credit card account as reported by /liabilities/get.
type CreditAccount struct {
	AccountID string
	Name      string
	Mask      string
	Balance   float64
	Limit     float64
}

// NewClient initializes a new Plaid client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:      cfg.PlaidURL,
		clientID: cfg.PlaidClientID,
		secret:   cfg.PlaidSecret,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// post sends a JSON request to a Plaid endpoint and decodes the response
func (c *Client) post(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.url+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("Plaid %s response: %s", path, string(raw))

	if resp.StatusCode != http.StatusOK {
		var perr struct {
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_message"`
		}
		if json.Unmarshal(raw, &perr) == nil && perr.ErrorCode != "" {
			return fmt.Errorf("plaid error %s: %s", perr.ErrorCode, perr.ErrorMessage)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateLinkToken creates a Link token for the given user
func (c *Client) CreateLinkToken(userID string) (string, error) {
	payload := map[string]interface{}{
		"client_id":   c.clientID,
		"secret":      c.secret,
		"client_name": "Utilization Pilot",
		"user": map[string]string{
			"client_user_id": userID,
		},
		"products":      []string{"liabilities"},
		"country_codes": []string{"US"},
		"language":      "en",
	}

	var out struct {
		LinkToken string `json:"link_token"`
	}
	if err := c.post("/link/token/create", payload, &out); err != nil {
		return "", err
	}
	if out.LinkToken == "" {
		return "", fmt.Errorf("no link token in response")
	}

	c.log.Infof("Created link token for user %s", userID)
	return out.LinkToken, nil
}

// ExchangePublicToken exchanges a Link public token for an access token
func (c *Client) ExchangePublicToken(publicToken string) (accessToken, itemID string, err error) {
	payload := map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"public_token": publicToken,
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	if err := c.post("/item/public_token/exchange", payload, &out); err != nil {
		return "", "", err
	}
	if out.AccessToken == "" || out.ItemID == "" {
		return "", "", fmt.Errorf("incomplete exchange response")
	}
	return out.AccessToken, out.ItemID, nil
}

// GetCreditAccounts retrieves the credit card accounts for an item.
// Non-credit accounts (depository, loans) are filtered out.
func (c *Client) GetCreditAccounts(accessToken string) ([]CreditAccount, error) {
	payload := map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": accessToken,
	}

	var out struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Mask      string `json:"mask"`
			Type      string `json:"type"`
			Balances  struct {
				Current float64  `json:"current"`
				Limit   *float64 `json:"limit"`
			} `json:"balances"`
		} `json:"accounts"`
	}
	if err := c.post("/liabilities/get", payload, &out); err != nil {
		return nil, err
	}

	var accounts []CreditAccount
	for _, a := range out.Accounts {
		if a.Type != "credit" {
			continue
		}
		acct := CreditAccount{
			AccountID: a.AccountID,
			Name:      a.Name,
			Mask:      a.Mask,
			Balance:   a.Balances.Current,
		}
		if a.Balances.Limit != nil {
			acct.Limit = *a.Balances.Limit
		}
		accounts = append(accounts, acct)
	}

	c.log.Infof("Retrieved %d credit accounts from Plaid", len(accounts))
	return accounts, nil
}
