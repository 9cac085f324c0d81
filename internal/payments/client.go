// SPDX-License-Identifier: MIT

// Package payments is the narrow boundary to the external card processor.
// The core never touches card data; it creates payment intents, moves
// earnings to reader accounts and verifies webhook signatures.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Processor is what the rest of the core needs from the payment provider.
type Processor interface {
	// CreateIntent opens a payment for the given amount and returns the
	// client secret the frontend completes the charge with.
	CreateIntent(ctx context.Context, userID string, amount decimal.Decimal) (*Intent, error)
	// Transfer moves amount to the reader's connected account and returns
	// the processor's transfer reference.
	Transfer(ctx context.Context, account string, amount decimal.Decimal, idempotencyKey string) (string, error)
}

// Intent is a pending charge on the processor side.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       decimal.Decimal
}

// Client talks to the processor's REST API.
type Client struct {
	base   string
	secret string
	http   *http.Client
}

func New(base, secret string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		secret: secret,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateIntent opens a payment intent. Amounts cross the wire in cents.
func (c *Client) CreateIntent(ctx context.Context, userID string, amount decimal.Decimal) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", cents(amount))
	form.Set("currency", "usd")
	form.Set("metadata[user_id]", userID)

	var p struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Amount       int64  `json:"amount"`
	}
	if err := c.post(ctx, "/v1/payment_intents", "", form, &p); err != nil {
		return nil, err
	}
	return &Intent{
		ID:           p.ID,
		ClientSecret: p.ClientSecret,
		Amount:       decimal.NewFromInt(p.Amount).Div(decimal.NewFromInt(100)),
	}, nil
}

// Transfer moves earnings to a connected account. The idempotency key makes
// a retried call after a network failure safe.
func (c *Client) Transfer(ctx context.Context, account string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("amount", cents(amount))
	form.Set("currency", "usd")
	form.Set("destination", account)

	var p struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/transfers", idempotencyKey, form, &p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path,
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("payments: %s returned %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func cents(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).String()
}

// VerifySignature checks a webhook payload against the signing secret.
// The signature header is "t=<unix>,v1=<hex hmac of 't.payload'>".
func VerifySignature(payload []byte, header, signingSecret string, now time.Time, tolerance time.Duration) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("payments: malformed signature header")
	}

	var unix int64
	if _, err := fmt.Sscanf(ts, "%d", &unix); err != nil {
		return fmt.Errorf("payments: malformed signature timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("payments: signature timestamp outside tolerance")
		}
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("payments: signature mismatch")
	}
	return nil
}

// Sign produces a signature header for a payload, used by tests and the
// local development webhook relay.
func Sign(payload []byte, signingSecret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
