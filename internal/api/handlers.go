package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MJE43/zkpoh/internal/ledger"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/puzzle"
	"github.com/MJE43/zkpoh/internal/session"
	"github.com/MJE43/zkpoh/internal/store"
	"github.com/MJE43/zkpoh/internal/verifier"
)

// MsgInvalidProof is the reply to an undecodable proof or signal list.
const MsgInvalidProof = "Invalid proof format"

const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON body into dst. An empty body leaves dst as is.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// POST /api/v1/puzzles
func (s *Server) handlePuzzle(w http.ResponseWriter, r *http.Request) {
	var req PuzzleRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "Invalid JSON in request body")
		return
	}
	seed := puzzle.SeedFromTime(s.opts.Now())
	if req.Seed != nil {
		seed = *req.Seed
	}
	p := puzzle.Generate(seed)
	s.metrics.PuzzleGenerated()
	s.log.Debug().Str("puzzle_id", p.ID).Msg("puzzle_generated")
	s.writeJSON(w, http.StatusOK, PuzzleResponse{Puzzle: p})
}

// POST /api/v1/puzzles/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "Invalid JSON in request body")
		return
	}
	for _, idx := range req.Selected {
		if idx < 0 || idx >= puzzle.TileCount {
			s.errorHandler.HandleValidationError(w, r, "selected",
				fmt.Sprintf("tile index %d out of range [0,%d)", idx, puzzle.TileCount))
			return
		}
	}
	mode, ok := session.ParseMode(req.Mode)
	if !ok {
		s.errorHandler.HandleValidationError(w, r, "mode", fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	p := puzzle.Generate(req.Seed)
	ev := puzzle.Evaluate(p, req.Selected)
	resp := EvaluateResponse{PuzzleID: p.ID, Evaluation: ev, Label: session.Label(mode)}
	if score, ok := session.Score(mode, ev); ok {
		resp.Score = &score
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/validate
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req ValidateRequest
	if err := decodeBody(r, &req); err != nil || req.Proof == nil || req.PublicSignals == nil {
		s.recordAttestation(r, false, MsgInvalidProof, nil, req.PublicSignals)
		s.metrics.ObserveVerification("malformed")
		s.errorHandler.HandleError(w, r, NewError(ErrTypeMalformed, MsgInvalidProof).
			WithRequestID(requestID).
			Build(), http.StatusBadRequest)
		return
	}

	verified, err := s.opts.Verifier.Verify(*req.Proof, req.PublicSignals)
	switch {
	case errors.Is(err, verifier.ErrMalformed):
		s.recordAttestation(r, false, MsgInvalidProof, req.Proof, req.PublicSignals)
		s.metrics.ObserveVerification("malformed")
		s.errorHandler.HandleError(w, r, NewError(ErrTypeMalformed, MsgInvalidProof).
			WithRequestID(requestID).
			WithCause(err).
			Build(), http.StatusBadRequest)
		return
	case err != nil:
		s.metrics.ObserveVerification("error")
		s.errorHandler.HandleError(w, r, NewError(ErrTypeInternal, "Verification failed").
			WithRequestID(requestID).
			WithCause(err).
			Build(), http.StatusInternalServerError)
		return
	}

	outcome, reason := "verified", ""
	if !verified {
		outcome, reason = "rejected", "proof did not verify"
	}
	s.metrics.ObserveVerification(outcome)
	id := s.recordAttestation(r, verified, reason, req.Proof, req.PublicSignals)
	s.log.Info().Str("request_id", requestID).Bool("verified", verified).Msg("verify_completed")

	resp := ValidateResponse{Verified: verified}
	if id != uuid.Nil {
		resp.AttestationID = id.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// recordAttestation stores the attempt. A store failure is logged, not
// surfaced: the verification result stands on its own.
func (s *Server) recordAttestation(r *http.Request, verified bool, reason string, proof *prover.Proof, signals []string) uuid.UUID {
	a := &store.Attestation{
		Verified:      verified,
		Reason:        reason,
		PublicSignals: signals,
		RequestID:     middleware.GetReqID(r.Context()),
	}
	if a.PublicSignals == nil {
		a.PublicSignals = []string{}
	}
	if proof != nil {
		if raw, err := json.Marshal(proof); err == nil {
			a.Proof = raw
		}
	}
	if err := s.opts.Store.SaveAttestation(r.Context(), a); err != nil {
		s.log.Warn().Err(err).Msg("attestation_save_failed")
		return uuid.Nil
	}
	return a.ID
}

// GET /api/v1/attestations
func (s *Server) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "limit", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.errorHandler.HandleValidationError(w, r, "offset", "offset must be a non-negative integer")
		return
	}

	list, err := s.opts.Store.ListAttestations(r.Context(), limit, offset)
	if err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}
	stats, err := s.opts.Store.AttestationStats(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"attestations": list,
		"total":        stats.Total,
		"verified":     stats.Verified,
	})
}

// GET /api/v1/attestations/{id}
func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "id", "id must be a UUID")
		return
	}
	a, err := s.opts.Store.GetAttestation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeNotFound, "Attestation not found").
			WithContext("id", id.String()).
			Build(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

// GET /zk/{name}
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.opts.Artifacts == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeServiceUnavailable, "Artifacts are not served").Build(),
			http.StatusServiceUnavailable)
		return
	}
	name := chi.URLParam(r, "name")
	data, err := s.opts.Artifacts.Fetch(r.Context(), name)
	if errors.Is(err, prover.ErrInvalidArtifactName) {
		s.errorHandler.HandleValidationError(w, r, "name", "invalid artifact name")
		return
	}
	if errors.Is(err, prover.ErrArtifactNotFound) {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeNotFound, "Artifact not found").
			WithContext("name", name).
			Build(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// POST /api/v1/ledger
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeServiceUnavailable, "Ledger gateway is not configured").Build(),
			http.StatusServiceUnavailable)
		return
	}
	var req LedgerRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "Invalid JSON in request body")
		return
	}
	if req.Action == "" {
		req.Action = "status"
	}

	ctx := r.Context()
	switch req.Action {
	case "status":
		st, err := s.opts.Ledger.Status(ctx)
		if err != nil {
			s.ledgerFailed(w, r, req.Action, "", err)
			return
		}
		s.writeJSON(w, http.StatusOK, LedgerStatusResponse{
			OK:           true,
			Address:      st.Address,
			LedgerExists: st.LedgerExists,
			LedgerInfo:   st.LedgerInfo,
		})

	case "createLedger":
		res, err := s.opts.Ledger.CreateLedgerIfMissing(ctx)
		if err != nil {
			s.ledgerFailed(w, r, req.Action, ledger.MinimumLedger.String(), err)
			return
		}
		amount := ""
		if res.Created {
			amount = ledger.MinimumLedger.String()
		}
		s.recordLedgerOp(r, req.Action, amount, true, res.Message)
		s.writeJSON(w, http.StatusOK, LedgerCreateResponse{OK: true, Created: res.Created, Message: res.Message})

	case "depositFund":
		amount, err := parseAmount(req.Amount)
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, "amount", ledger.ErrInvalidAmount.Error())
			return
		}
		res, err := s.opts.Ledger.DepositFund(ctx, amount)
		if err != nil {
			s.ledgerFailed(w, r, req.Action, amount.String(), err)
			return
		}
		s.recordLedgerOp(r, req.Action, amount.String(), true, res.Message)
		s.writeJSON(w, http.StatusOK, LedgerDepositResponse{OK: true, Deposited: res.Deposited.String(), Message: res.Message})

	default:
		s.errorHandler.HandleValidationError(w, r, "action", fmt.Sprintf("Unknown action: %s", req.Action))
	}
}

func (s *Server) ledgerFailed(w http.ResponseWriter, r *http.Request, action, amount string, err error) {
	if action != "status" {
		s.recordLedgerOp(r, action, amount, false, err.Error())
	}
	if errors.Is(err, ledger.ErrInvalidAmount) {
		s.errorHandler.HandleValidationError(w, r, "amount", err.Error())
		return
	}
	s.errorHandler.HandleError(w, r, NewError(ErrTypeLedger, err.Error()).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("action", action).
		Build(), http.StatusInternalServerError)
}

func (s *Server) recordLedgerOp(r *http.Request, action, amount string, ok bool, message string) {
	op := &store.LedgerOp{Op: action, Address: s.opts.Ledger.Address(), Amount: amount, OK: ok, Message: message}
	if err := s.opts.Store.RecordLedgerOp(r.Context(), op); err != nil {
		s.log.Warn().Err(err).Msg("ledger_op_save_failed")
	}
}

// parseAmount accepts a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero, ledger.ErrInvalidAmount
		}
		s = str
	}
	return ledger.ParseAmount(s)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
