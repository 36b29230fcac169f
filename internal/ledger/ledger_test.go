package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	return s
}

func TestSignerAddressAndRecover(t *testing.T) {
	s := testSigner(t)
	assert.Equal(t, testAddress, s.Address())

	msg := SigningPayload(http.MethodPost, "/v1/ledger", "1700000000", []byte(`{"amount":"3"}`))
	sig, err := s.Sign(msg)
	require.NoError(t, err)

	got, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, got)

	other, err := RecoverAddress([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, testAddress, other)
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	for _, k := range []string{"", "0x", "zz", "0x1234"} {
		_, err := NewSigner(k)
		assert.Error(t, err, "key %q", k)
	}
}

func TestIsLedgerNotExists(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"message", &BrokerError{StatusCode: 404, Message: "execution reverted: LedgerNotExists"}, true},
		{"reason", &BrokerError{StatusCode: 400, Reason: "LedgerNotExists(address)"}, true},
		{"revert name", &BrokerError{StatusCode: 400, Revert: &Revert{Name: "LedgerNotExists"}}, true},
		{"wrapped", errors.Join(errors.New("outer"), &BrokerError{Reason: "LedgerNotExists"}), true},
		{"other broker error", &BrokerError{StatusCode: 500, Message: "boom"}, false},
		{"other revert", &BrokerError{StatusCode: 400, Revert: &Revert{Name: "InsufficientBalance"}}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLedgerNotExists(tt.err))
		})
	}
}

type brokerServer struct {
	mu       sync.Mutex
	exists   bool
	balance  decimal.Decimal
	failures int // leading 503s before serving
	calls    map[string]int
}

func newBrokerServer(t *testing.T, bs *brokerServer) *HTTPBroker {
	t.Helper()
	bs.calls = map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bs.mu.Lock()
		defer bs.mu.Unlock()
		bs.calls[r.Method+" "+r.URL.Path]++

		body, _ := io.ReadAll(r.Body)
		payload := SigningPayload(r.Method, r.URL.Path, r.Header.Get(HeaderTimestamp), body)
		signer, err := RecoverAddress(payload, r.Header.Get(HeaderSignature))
		if err != nil || signer != r.Header.Get(HeaderAddress) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad signature"}`))
			return
		}

		if bs.failures > 0 {
			bs.failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}

		var in amountBody
		if len(body) > 0 {
			_ = json.Unmarshal(body, &in)
		}
		switch r.Method + " " + r.URL.Path {
		case "GET /v1/ledger":
			if !bs.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"execution reverted","revert":{"name":"LedgerNotExists"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(Info{Address: signer, TotalBalance: bs.balance, AvailableBalance: bs.balance})
		case "POST /v1/ledger":
			bs.exists = true
			bs.balance = in.Amount
			w.WriteHeader(http.StatusCreated)
		case "POST /v1/ledger/deposit":
			if !bs.exists {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"message":"LedgerNotExists"}`))
				return
			}
			bs.balance = bs.balance.Add(in.Amount)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return NewHTTPBroker(Config{
		BaseURL:        srv.URL + "/",
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
	}, testSigner(t))
}

type opCounter struct {
	mu  sync.Mutex
	ops map[string]int
}

func (o *opCounter) ObserveLedger(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op+"/"+outcome]++
}

func TestGatewayLifecycle(t *testing.T) {
	bs := &brokerServer{}
	obs := &opCounter{}
	g := NewGateway(newBrokerServer(t, bs), obs, zerolog.Nop())
	ctx := context.Background()

	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, st.Address)
	assert.False(t, st.LedgerExists)
	assert.Nil(t, st.LedgerInfo)

	created, err := g.CreateLedgerIfMissing(ctx)
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, MsgLedgerCreated, created.Message)

	again, err := g.CreateLedgerIfMissing(ctx)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, MsgLedgerExists, again.Message)
	assert.Equal(t, 1, bs.calls["POST /v1/ledger"])

	dep, err := g.DepositFund(ctx, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "Deposited 0.5 OG into ledger.", dep.Message)

	st, err = g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.LedgerExists)
	require.NotNil(t, st.LedgerInfo)
	assert.True(t, st.LedgerInfo.TotalBalance.Equal(decimal.RequireFromString("3.5")))

	assert.Equal(t, 2, obs.ops["status/ok"])
	assert.Equal(t, 2, obs.ops["create/ok"])
	assert.Equal(t, 1, obs.ops["deposit/ok"])
}

func TestGatewayDepositRejectsNonPositive(t *testing.T) {
	bs := &brokerServer{exists: true}
	g := NewGateway(newBrokerServer(t, bs), nil, zerolog.Nop())

	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		_, err := g.DepositFund(context.Background(), amt)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Zero(t, bs.calls["POST /v1/ledger/deposit"])
}

func TestGatewayDepositWithoutLedgerFails(t *testing.T) {
	bs := &brokerServer{}
	g := NewGateway(newBrokerServer(t, bs), nil, zerolog.Nop())

	_, err := g.DepositFund(context.Background(), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, IsLedgerNotExists(err))
}

func TestHTTPBrokerRetriesServerErrors(t *testing.T) {
	bs := &brokerServer{exists: true, balance: decimal.NewFromInt(3), failures: 2}
	b := newBrokerServer(t, bs)

	info, err := b.GetLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, info.TotalBalance.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 3, bs.calls["GET /v1/ledger"])
}

func TestHTTPBrokerGivesUpAfterMaxRetries(t *testing.T) {
	bs := &brokerServer{exists: true, failures: 100}
	b := newBrokerServer(t, bs)

	_, err := b.GetLedger(context.Background())
	var be *BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusServiceUnavailable, be.StatusCode)
	assert.Equal(t, "busy", be.Message)
	assert.Equal(t, 4, bs.calls["GET /v1/ledger"])
}

func TestHTTPBrokerDoesNotRetryClientErrors(t *testing.T) {
	bs := &brokerServer{}
	b := newBrokerServer(t, bs)

	_, err := b.GetLedger(context.Background())
	require.Error(t, err)
	assert.True(t, IsLedgerNotExists(err))
	assert.Equal(t, 1, bs.calls["GET /v1/ledger"])
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("1.25")
	require.NoError(t, err)
	assert.Equal(t, "1.25", d.String())

	for _, s := range []string{"", "0", "-2", "abc"} {
		_, err := ParseAmount(s)
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %q", s)
	}
}
