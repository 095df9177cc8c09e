// Package upstream is the opaque HTTP client for the exchange's fills
// endpoint. Everything about the wire format beyond FetchFills's input and
// output is this package's private concern.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/utils"
	"github.com/shopspring/decimal"
)

// Fill is one trade as returned by the upstream, decimals parsed.
type Fill struct {
	TimeMillis int64
	Coin       string
	Side       string // "A" or "B"
	Px         decimal.Decimal
	Sz         decimal.Decimal
	Hash       string
	TID        string
}

// wireFill mirrors the upstream's JSON shape; px/sz arrive as strings.
type wireFill struct {
	Time int64  `json:"time"`
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Hash string `json:"hash"`
	TID  string `json:"tid"`
}

// Client calls the exchange's userFillsByTime endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client against baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

type fetchRequest struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	StartTime int64  `json:"startTime"`
}

// FetchFills fetches fills for address at or after startMillis. Negative
// startMillis is clamped to 0, since the upstream rejects negative values.
func (c *Client) FetchFills(ctx context.Context, address string, startMillis int64) ([]Fill, error) {
	if startMillis < 0 {
		startMillis = 0
	}

	body, err := json.Marshal(fetchRequest{
		Type:      "userFillsByTime",
		User:      address,
		StartTime: startMillis,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ingesterr.UpstreamTransient{Cause: err}
	}
	defer utils.DrainAndClose(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ingesterr.UpstreamTransient{Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		if looksRateLimited(string(respBody)) {
			return nil, &ingesterr.RateLimited{Message: string(respBody)}
		}
		if resp.StatusCode >= 500 {
			return nil, &ingesterr.UpstreamTransient{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
		}
		return nil, &ingesterr.UpstreamMalformed{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	if looksRateLimited(string(respBody)) {
		return nil, &ingesterr.RateLimited{Message: string(respBody)}
	}

	var wire []wireFill
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, &ingesterr.UpstreamMalformed{Cause: err}
	}

	fills := make([]Fill, 0, len(wire))
	for _, w := range wire {
		px, err := decimal.NewFromString(w.Px)
		if err != nil {
			return nil, &ingesterr.UpstreamMalformed{Cause: fmt.Errorf("parse px %q: %w", w.Px, err)}
		}
		sz, err := decimal.NewFromString(w.Sz)
		if err != nil {
			return nil, &ingesterr.UpstreamMalformed{Cause: fmt.Errorf("parse sz %q: %w", w.Sz, err)}
		}
		fills = append(fills, Fill{
			TimeMillis: w.Time,
			Coin:       w.Coin,
			Side:       w.Side,
			Px:         px,
			Sz:         sz,
			Hash:       w.Hash,
			TID:        w.TID,
		})
	}
	return fills, nil
}

func looksRateLimited(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many")
}

// DeriveFillID builds the stable fill identifier from the upstream's trade
// id and transaction hash, per the requirement that fill_id be derived
// deterministically from both.
func DeriveFillID(f Fill) string {
	return f.TID + ":" + f.Hash
}
