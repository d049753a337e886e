package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"xparking/pkg/platform/circuit"
)

// Transaction is one settled transfer from the bank feed.
type Transaction struct {
	ID        string
	Amount    int64
	Memo      string
	Date      string
	Reference string
	Bank      string
	Account   string
}

// TransactionFeed lists recent transactions on the receiving account.
// Implementations must treat transient upstream trouble as an error
// return; the reconciliation loop absorbs it as "no match this cycle".
type TransactionFeed interface {
	ListRecent(ctx context.Context) ([]Transaction, error)
}

// HTTPFeed polls a SePay-shaped transaction history endpoint.
type HTTPFeed struct {
	url    string
	client *http.Client
}

func NewHTTPFeed(url string) *HTTPFeed {
	return &HTTPFeed{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// feedResponse mirrors the upstream JSON. amount_in is kept raw so a
// malformed value rejects that record alone instead of aborting the
// whole response decode.
type feedResponse struct {
	Metadata []struct {
		ID        json.Number     `json:"id"`
		AmountIn  json.RawMessage `json:"amount_in"`
		Content   string          `json:"transaction_content"`
		Date      string          `json:"transaction_date"`
		Reference string          `json:"reference_number"`
		Bank      string          `json:"bank_brand_name"`
		Account   string          `json:"account_number"`
	} `json:"metadata"`
}

func (f *HTTPFeed) ListRecent(ctx context.Context) ([]Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query transaction feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transaction feed returned status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode transaction feed: %w", err)
	}
	if body.Metadata == nil {
		return nil, fmt.Errorf("transaction feed response missing metadata")
	}

	out := make([]Transaction, 0, len(body.Metadata))
	for _, tx := range body.Metadata {
		amount, err := parseAmount(tx.AmountIn)
		if err != nil {
			// One malformed record must not discard the rest.
			continue
		}
		out = append(out, Transaction{
			ID:        tx.ID.String(),
			Amount:    amount,
			Memo:      tx.Content,
			Date:      tx.Date,
			Reference: tx.Reference,
			Bank:      tx.Bank,
			Account:   tx.Account,
		})
	}
	return out, nil
}

// parseAmount converts the upstream amount to integer currency units.
// It usually arrives as a quoted decimal ("30000.00") but bare numbers
// are accepted too.
func parseAmount(raw json.RawMessage) (int64, error) {
	s := string(raw)
	if len(s) > 0 && s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// CircuitFeed wraps a feed with a breaker so repeated upstream failure
// is visible in one place instead of a log line per poll. Every poll
// still probes the upstream; the breaker tracks and reports state.
type CircuitFeed struct {
	feed    TransactionFeed
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewCircuitFeed(feed TransactionFeed, breaker *circuit.Breaker, logger *slog.Logger) *CircuitFeed {
	return &CircuitFeed{feed: feed, breaker: breaker, logger: logger}
}

func (c *CircuitFeed) ListRecent(ctx context.Context) ([]Transaction, error) {
	txs, err := c.feed.ListRecent(ctx)
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.Warn("transaction feed circuit opened", "breaker", c.breaker.Name())
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("transaction feed circuit closed", "breaker", c.breaker.Name())
	}
	return txs, nil
}

// Healthy reports whether the breaker considers the feed reachable.
func (c *CircuitFeed) Healthy() bool {
	return !c.breaker.IsOpen()
}
