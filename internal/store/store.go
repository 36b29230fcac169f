// Package store keeps an audit trail of verification attempts and ledger
// operations in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// --------- Data models ---------

// Attestation is one verification attempt.
type Attestation struct {
	ID            uuid.UUID       `json:"id"`
	Verified      bool            `json:"verified"`
	Reason        string          `json:"reason,omitempty"`
	PublicSignals []string        `json:"publicSignals"`
	Proof         json.RawMessage `json:"proof"`
	RequestID     string          `json:"requestId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// LedgerOp is one ledger gateway action.
type LedgerOp struct {
	ID        int64     `json:"id"`
	Op        string    `json:"op"`
	Address   string    `json:"address"`
	Amount    string    `json:"amount,omitempty"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats summarises the attestation log.
type Stats struct {
	Total    int64 `json:"total"`
	Verified int64 `json:"verified"`
}

// --------- Store ---------

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates a SQLite database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

// --------- Attestations ---------

// SaveAttestation inserts a. A zero ID or CreatedAt is filled in.
func (s *Store) SaveAttestation(ctx context.Context, a *Attestation) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	signals, err := json.Marshal(a.PublicSignals)
	if err != nil {
		return fmt.Errorf("store: encode signals: %w", err)
	}
	proof := string(a.Proof)
	if proof == "" {
		proof = "null"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestations(id, verified, reason, public_signals, proof, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Verified, a.Reason, string(signals), proof, a.RequestID, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: save attestation: %w", err)
	}
	return nil
}

// GetAttestation returns the attestation with id, or ErrNotFound.
func (s *Store) GetAttestation(ctx context.Context, id uuid.UUID) (*Attestation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, verified, reason, public_signals, proof, request_id, created_at
		FROM attestations WHERE id=?`, id.String())
	a, err := scanAttestation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get attestation: %w", err)
	}
	return a, nil
}

// ListAttestations returns attestations newest first.
func (s *Store) ListAttestations(ctx context.Context, limit, offset int) ([]Attestation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, verified, reason, public_signals, proof, request_id, created_at
		FROM attestations
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list attestations: %w", err)
	}
	defer rows.Close()

	out := []Attestation{}
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list attestations: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AttestationStats counts attestations.
func (s *Store) AttestationStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(verified), 0) FROM attestations`).Scan(&st.Total, &st.Verified)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttestation(row scanner) (*Attestation, error) {
	var (
		a       Attestation
		signals string
		proof   string
	)
	if err := row.Scan(&a.ID, &a.Verified, &a.Reason, &signals, &proof, &a.RequestID, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signals), &a.PublicSignals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if strings.TrimSpace(proof) != "null" {
		a.Proof = json.RawMessage(proof)
	}
	return &a, nil
}

// --------- Ledger ops ---------

// RecordLedgerOp appends a ledger action.
func (s *Store) RecordLedgerOp(ctx context.Context, op *LedgerOp) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_ops(op, address, amount, ok, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.Op, op.Address, op.Amount, op.OK, op.Message, op.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: record ledger op: %w", err)
	}
	op.ID, _ = res.LastInsertId()
	return nil
}

// ListLedgerOps returns ledger actions newest first.
func (s *Store) ListLedgerOps(ctx context.Context, limit int) ([]LedgerOp, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op, address, amount, ok, message, created_at
		FROM ledger_ops ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list ledger ops: %w", err)
	}
	defer rows.Close()

	out := []LedgerOp{}
	for rows.Next() {
		var op LedgerOp
		if err := rows.Scan(&op.ID, &op.Op, &op.Address, &op.Amount, &op.OK, &op.Message, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list ledger ops: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
