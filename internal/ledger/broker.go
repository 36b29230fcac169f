// Package ledger talks to the compute network broker that holds the
// operator's prepaid ledger.
//
// The broker is reached over a small signed JSON API:
//
//	GET  /v1/ledger           current ledger, or a LedgerNotExists error
//	POST /v1/ledger           {amount} create a ledger with an initial balance
//	POST /v1/ledger/deposit   {amount} add funds to an existing ledger
//
// Every request carries X-Ledger-Address, X-Ledger-Timestamp and
// X-Ledger-Signature headers; the signature covers
// "<METHOD>\n<path>\n<timestamp>\n<body>".
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Request headers.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

const (
	pathLedger  = "/v1/ledger"
	pathDeposit = "/v1/ledger/deposit"
)

// Info is the broker's view of a ledger.
type Info struct {
	Address          string          `json:"address"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// Broker is the remote ledger service.
type Broker interface {
	Address() string
	GetLedger(ctx context.Context) (*Info, error)
	AddLedger(ctx context.Context, amount decimal.Decimal) error
	DepositFund(ctx context.Context, amount decimal.Decimal) error
}

// Config holds HTTPBroker settings.
type Config struct {
	// BaseURL of the broker, e.g. https://broker.example.
	BaseURL string

	// MaxRetries for 429 and 5xx replies. Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the first backoff step. Defaults to 500ms if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps each backoff step. Defaults to 5s if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom client. Defaults to 30s timeout.
	HTTPClient *http.Client

	// Now is the clock used for request timestamps.
	Now func() time.Time
}

// HTTPBroker is a Broker over HTTP.
type HTTPBroker struct {
	cfg    Config
	http   *http.Client
	signer *Signer
}

// NewHTTPBroker creates a broker client signing with signer.
func NewHTTPBroker(cfg Config, signer *Signer) *HTTPBroker {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBroker{cfg: cfg, http: hc, signer: signer}
}

// Address implements Broker.
func (b *HTTPBroker) Address() string { return b.signer.Address() }

// GetLedger implements Broker.
func (b *HTTPBroker) GetLedger(ctx context.Context) (*Info, error) {
	var info Info
	if err := b.call(ctx, http.MethodGet, pathLedger, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AddLedger implements Broker.
func (b *HTTPBroker) AddLedger(ctx context.Context, amount decimal.Decimal) error {
	return b.call(ctx, http.MethodPost, pathLedger, amountBody{Amount: amount}, nil)
}

// DepositFund implements Broker.
func (b *HTTPBroker) DepositFund(ctx context.Context, amount decimal.Decimal) error {
	return b.call(ctx, http.MethodPost, pathDeposit, amountBody{Amount: amount}, nil)
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

func (b *HTTPBroker) call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("ledger: marshal request: %w", err)
		}
	}

	backoff := retry.NewExponential(b.cfg.BaseRetryDelay)
	backoff = retry.WithCappedDuration(b.cfg.MaxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(b.cfg.MaxRetries), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.doRequest(ctx, method, path, body, out)
		var be *BrokerError
		if errors.As(err, &be) && be.IsRetryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (b *HTTPBroker) doRequest(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("ledger: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ts := strconv.FormatInt(b.cfg.Now().Unix(), 10)
	sig, err := b.signer.Sign(SigningPayload(method, path, ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAddress, b.signer.Address())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		be := &BrokerError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(data, be); jerr != nil || (be.Message == "" && be.Reason == "" && be.Revert == nil) {
			be.Message = strings.TrimSpace(string(data))
		}
		return be
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
	}
	return nil
}

// SigningPayload is the byte string a request signature covers.
func SigningPayload(method, path, timestamp string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}
