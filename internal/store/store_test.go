package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "zkpoh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkpoh.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveAttestation(ctx, &Attestation{Verified: true, PublicSignals: []string{"1"}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	st, err := s.AttestationStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Total)
}

func TestSaveAndGetAttestation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Attestation{
		Verified:      true,
		PublicSignals: []string{"1"},
		Proof:         json.RawMessage(`{"protocol":"groth16","curve":"bn254","data":"AA=="}`),
		RequestID:     "req-1",
	}
	require.NoError(t, s.SaveAttestation(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := s.GetAttestation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, got.Verified)
	assert.Equal(t, []string{"1"}, got.PublicSignals)
	assert.JSONEq(t, string(a.Proof), string(got.Proof))
	assert.Equal(t, "req-1", got.RequestID)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Second)
}

func TestGetAttestationNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetAttestation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttestationWithoutProof(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Attestation{Verified: false, Reason: "Invalid proof format", PublicSignals: []string{}}
	require.NoError(t, s.SaveAttestation(ctx, a))

	got, err := s.GetAttestation(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, "Invalid proof format", got.Reason)
	assert.Nil(t, got.Proof)
	assert.Empty(t, got.PublicSignals)
}

func TestListAttestationsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveAttestation(ctx, &Attestation{
			Verified:      i%2 == 0,
			PublicSignals: []string{"1"},
			RequestID:     string(rune('a' + i)),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := s.ListAttestations(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e", page[0].RequestID)
	assert.Equal(t, "d", page[1].RequestID)

	page, err = s.ListAttestations(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].RequestID)

	st, err := s.AttestationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 5, Verified: 3}, st)
}

func TestLedgerOps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordLedgerOp(ctx, &LedgerOp{Op: "create", Address: "0xabc", Amount: "3", OK: true, Message: "Ledger created with 3 OG minimum."}))
	bad := &LedgerOp{Op: "deposit", Address: "0xabc", Amount: "1", OK: false, Message: "boom"}
	require.NoError(t, s.RecordLedgerOp(ctx, bad))
	assert.NotZero(t, bad.ID)

	ops, err := s.ListLedgerOps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "deposit", ops[0].Op)
	assert.False(t, ops[0].OK)
	assert.Equal(t, "create", ops[1].Op)
	assert.True(t, ops[1].OK)
}
