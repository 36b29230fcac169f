package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MJE43/zkpoh/internal/prover"
)

// ValidatePath is the verification route relative to the server base URL.
const ValidatePath = "/api/v1/validate"

// Request is the body accepted by the verification route.
type Request struct {
	Proof         prover.Proof `json:"proof"`
	PublicSignals []string     `json:"publicSignals"`
}

// Response is the success body of the verification route.
type Response struct {
	Verified bool `json:"verified"`
}

// Outcome separates "could not ask" (OK false) from "asked and was told no"
// (OK true, Verified false).
type Outcome struct {
	OK       bool   `json:"ok"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// ClientConfig holds Client settings.
type ClientConfig struct {
	// BaseURL of the verification server, e.g. http://127.0.0.1:17890.
	BaseURL string

	// HTTPClient allows injecting a custom client. Defaults to 30s timeout.
	HTTPClient *http.Client
}

// Client submits proofs to a remote verifier. It never retries.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a verification client.
func NewClient(cfg ClientConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

// Verify posts the artifact exactly once and interprets the reply.
func (c *Client) Verify(ctx context.Context, proof prover.Proof, publicSignals []string) Outcome {
	body, err := json.Marshal(Request{Proof: proof, PublicSignals: publicSignals})
	if err != nil {
		return Outcome{Error: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+ValidatePath, bytes.NewReader(body))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Error: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Error: errorMessage(data)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Outcome{Error: fmt.Sprintf("decode response: %v", err)}
	}
	return Outcome{OK: true, Verified: out.Verified}
}

// errorMessage extracts a reason from an error payload, accepting both the
// {"message": ...} envelope and a bare {"error": ...}.
func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return "Validation request failed"
}
