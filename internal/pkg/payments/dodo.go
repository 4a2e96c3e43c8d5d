package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
)

const (
	defaultDodoAPIBaseURL  = "https://test.dodopayments.com"
	defaultDodoLiveBaseURL = "https://live.dodopayments.com"
)

type DodoClient struct {
	APIKey           string
	APIBaseURL       string
	ProductIDMonthly string
	ProductIDYearly  string
	ReturnURL        string

	HTTPClient *http.Client
}

// CheckoutSession is the provider's answer to a subscription checkout
// request: the hosted payment page and the ids to correlate the
// eventual webhooks back to this attempt.
type CheckoutSession struct {
	SubscriptionID string `json:"subscription_id"`
	PaymentID      string `json:"payment_id"`
	PaymentLink    string `json:"payment_link"`
	ClientSecret   string `json:"client_secret"`
}

func NewDodoClientFromEnv() *DodoClient {
	baseURL := strings.TrimSpace(env.GetEnv("DODO_API_BASE_URL", ""))
	if baseURL == "" {
		if env.IsDev() {
			baseURL = defaultDodoAPIBaseURL
		} else {
			baseURL = defaultDodoLiveBaseURL
		}
	}

	returnURL := strings.TrimSpace(env.GetEnv("DODO_RETURN_URL", ""))
	if returnURL == "" {
		if base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"); base != "" {
			returnURL = base + "/payment/success"
		}
	}

	return &DodoClient{
		APIKey:           strings.TrimSpace(env.GetEnv("DODO_API_KEY", "")),
		APIBaseURL:       strings.TrimRight(baseURL, "/"),
		ProductIDMonthly: strings.TrimSpace(env.GetEnv("DODO_PRODUCT_ID_MONTHLY", "")),
		ProductIDYearly:  strings.TrimSpace(env.GetEnv("DODO_PRODUCT_ID_YEARLY", "")),
		ReturnURL:        returnURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ProductID maps a normalized billing cycle onto the configured
// provider product.
func (c *DodoClient) ProductID(cycle string) (string, error) {
	switch cycle {
	case models.BillingCycleYearly:
		if c.ProductIDYearly == "" {
			return "", errors.New("DODO_PRODUCT_ID_YEARLY is not configured")
		}
		return c.ProductIDYearly, nil
	case models.BillingCycleMonthly:
		if c.ProductIDMonthly == "" {
			return "", errors.New("DODO_PRODUCT_ID_MONTHLY is not configured")
		}
		return c.ProductIDMonthly, nil
	default:
		return "", fmt.Errorf("unsupported billing cycle: %s", cycle)
	}
}

// CreateSubscriptionCheckout opens a hosted checkout session for the
// given customer and cycle. The returned payment link is where the
// user completes payment; everything after that arrives via webhook.
func (c *DodoClient) CreateSubscriptionCheckout(ctx context.Context, email, name, cycle string) (*CheckoutSession, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("DODO_API_KEY is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("customer email is required")
	}

	productID, err := c.ProductID(cycle)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"product_id":   productID,
		"quantity":     1,
		"payment_link": true,
		"return_url":   c.ReturnURL,
		"customer": map[string]string{
			"email": strings.TrimSpace(email),
			"name":  strings.TrimSpace(name),
		},
		"metadata": map[string]string{
			"billing_cycle": cycle,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/subscriptions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dodo checkout request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out CheckoutSession
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.PaymentLink) == "" {
		return nil, errors.New("dodo checkout response missing payment_link")
	}
	return &out, nil
}
