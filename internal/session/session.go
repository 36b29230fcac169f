// Package session runs one interactive puzzle attempt at a time, for a human
// or for a scripted bot.
//
// Every puzzle starts a new epoch. Timers and cursor playback belong to the
// epoch's arena, which is cancelled synchronously when the next puzzle is
// requested; callbacks that still fire re-check the epoch under the session
// lock and do nothing if it has moved on.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MJE43/zkpoh/internal/puzzle"
)

var (
	ErrClosed       = errors.New("session is closed")
	ErrSolved       = errors.New("puzzle already solved")
	ErrVerifying    = errors.New("verification in progress")
	ErrBotActive    = errors.New("bot simulation controls the puzzle")
	ErrInvalidIndex = errors.New("tile index out of range")
)

// Status is the attempt's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusMismatch  Status = "mismatch"
	StatusSolved    Status = "solved"
	StatusError     Status = "error"
)

// Timings control the verification delay and the bot's pacing.
type Timings struct {
	VerifyDelay  time.Duration
	LeadIn       time.Duration
	StepOffset   time.Duration
	MoveMin      time.Duration
	MoveJitter   time.Duration
	PauseMin     time.Duration
	PauseJitter  time.Duration
	StepInterval time.Duration
	SubmitDelay  time.Duration
}

// DefaultTimings returns the pacing used in production.
func DefaultTimings() Timings {
	return Timings{
		VerifyDelay:  450 * time.Millisecond,
		LeadIn:       120 * time.Millisecond,
		StepOffset:   300 * time.Millisecond,
		MoveMin:      220 * time.Millisecond,
		MoveJitter:   60 * time.Millisecond,
		PauseMin:     30 * time.Millisecond,
		PauseJitter:  30 * time.Millisecond,
		StepInterval: 180 * time.Millisecond,
		SubmitDelay:  220 * time.Millisecond,
	}
}

// Snapshot is a copy of the session's visible state.
type Snapshot struct {
	SessionID     string        `json:"sessionId"`
	Epoch         uint64        `json:"epoch"`
	Mode          string        `json:"mode"`
	Puzzle        puzzle.Puzzle `json:"puzzle"`
	Selected      []int         `json:"selected"`
	Status        Status        `json:"status"`
	Incorrect     []int         `json:"incorrect,omitempty"`
	Missed        []int         `json:"missed,omitempty"`
	Score         *int          `json:"score,omitempty"`
	Label         string        `json:"label,omitempty"`
	Cursor        *Sample       `json:"cursor,omitempty"`
	CursorVisible bool          `json:"cursorVisible"`
	Error         string        `json:"error,omitempty"`
}

// ScoreEvent is emitted once per scored attempt.
type ScoreEvent struct {
	SessionID  string            `json:"sessionId"`
	Epoch      uint64            `json:"epoch"`
	PuzzleID   string            `json:"puzzleId"`
	Mode       Mode              `json:"-"`
	Score      int               `json:"score"`
	Evaluation puzzle.Evaluation `json:"evaluation"`
}

// Emitter receives state changes. Calls are made without the session lock
// held, so they may arrive out of order; use Snapshot.Epoch to discard
// stale ones.
type Emitter interface {
	EmitState(Snapshot)
	EmitScore(ScoreEvent)
}

// Config holds Session settings. Zero fields take defaults.
type Config struct {
	Timings Timings
	Seed    func() int32 // seed source for new puzzles
	Rand    *rand.Rand   // jitter source, used under the session lock
	Emitter Emitter
	Logger  zerolog.Logger
}

// arena owns everything scheduled for one epoch.
type arena struct {
	ctx    context.Context
	cancel context.CancelFunc
	timers []*time.Timer
}

func newArena() *arena {
	ctx, cancel := context.WithCancel(context.Background())
	return &arena{ctx: ctx, cancel: cancel}
}

func (a *arena) stop() {
	a.cancel()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

// Session is one user's puzzle attempt state machine.
type Session struct {
	id  string
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	closed    bool
	epoch     uint64
	arena     *arena
	mode      Mode
	puzzle    puzzle.Puzzle
	selected  map[int]bool
	status    Status
	incorrect []int
	missed    []int
	score     *int
	label     string
	cursor    *Sample
	cursorOn  bool
	lastErr   string

	wg sync.WaitGroup
}

// New creates a human-mode session holding a fresh puzzle.
func New(cfg Config) *Session {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Seed == nil {
		cfg.Seed = func() int32 { return puzzle.SeedFromTime(time.Now()) }
	}
	if cfg.Rand == nil {
		now := uint64(time.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(now, now>>1|1))
	}
	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		mode: Human{},
	}
	s.log = cfg.Logger.With().Str("component", "session").Str("session_id", s.id).Logger()

	s.mu.Lock()
	s.resetLocked(cfg.Seed())
	s.mu.Unlock()
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Epoch returns the current puzzle epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// NewPuzzle discards the current puzzle and cancels everything scheduled
// for it, including a bot run in flight. It never starts a bot run; use
// RunBot for that.
func (s *Session) NewPuzzle() (Snapshot, error) {
	return s.newPuzzle(s.cfg.Seed(), nil, false)
}

// NewPuzzleWithSeed is NewPuzzle with a caller-chosen seed.
func (s *Session) NewPuzzleWithSeed(seed int32) (Snapshot, error) {
	return s.newPuzzle(seed, nil, false)
}

// RunBot starts a fresh puzzle and a bot run on it. The session must be in
// bot mode.
func (s *Session) RunBot() (Snapshot, error) {
	return s.newPuzzle(s.cfg.Seed(), nil, true)
}

// newPuzzle resets onto seed, switching to mode first when it is non-nil.
func (s *Session) newPuzzle(seed int32, mode Mode, runBot bool) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if mode != nil {
		s.mode = mode
	}
	bot, isBot := s.mode.(SimulatedBot)
	if runBot && !isBot {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("run bot: session is in %s mode", s.mode)
	}
	s.resetLocked(seed)
	if runBot {
		s.startBotLocked(bot)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap, nil)
	return snap, nil
}

// SetMode switches between human and bot on a new puzzle, cancelling any
// bot run in flight. Entering bot mode starts a run.
func (s *Session) SetMode(m Mode) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, fmt.Errorf("nil mode")
	}
	_, isBot := m.(SimulatedBot)
	snap, err := s.newPuzzle(s.cfg.Seed(), m, isBot)
	if err != nil {
		return Snapshot{}, err
	}
	s.log.Info().Str("mode", m.String()).Msg("mode_changed")
	return snap, nil
}

// Toggle flips tile idx in the human's selection. Any mismatch highlight is
// cleared.
func (s *Session) Toggle(idx int) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if _, ok := s.mode.(SimulatedBot); ok {
		s.mu.Unlock()
		return Snapshot{}, ErrBotActive
	}
	if err := s.toggleLocked(idx); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap, nil)
	return snap, nil
}

// Submit evaluates the current selection after the verification delay.
func (s *Session) Submit() (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if _, ok := s.mode.(SimulatedBot); ok {
		s.mu.Unlock()
		return Snapshot{}, ErrBotActive
	}
	if err := s.submitLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap, nil)
	return snap, nil
}

// Close cancels everything scheduled and waits for cursor playback to stop.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.arena.stop()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) resetLocked(seed int32) {
	if s.arena != nil {
		s.arena.stop()
	}
	s.arena = newArena()
	s.epoch++
	s.puzzle = puzzle.Generate(seed)
	s.selected = make(map[int]bool)
	s.status = StatusIdle
	s.incorrect = nil
	s.missed = nil
	s.score = nil
	s.label = ""
	s.cursor = nil
	s.cursorOn = false
	s.lastErr = ""

	s.log.Debug().Uint64("epoch", s.epoch).Str("puzzle_id", s.puzzle.ID).Msg("puzzle_started")
}

func (s *Session) toggleLocked(idx int) error {
	if idx < 0 || idx >= puzzle.TileCount {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, idx)
	}
	switch s.status {
	case StatusSolved:
		return ErrSolved
	case StatusVerifying:
		return ErrVerifying
	case StatusMismatch:
		s.incorrect = nil
		s.missed = nil
		s.status = StatusIdle
	}
	if s.selected[idx] {
		delete(s.selected, idx)
	} else {
		s.selected[idx] = true
	}
	return nil
}

func (s *Session) submitLocked() error {
	switch s.status {
	case StatusSolved:
		return ErrSolved
	case StatusVerifying:
		return ErrVerifying
	}
	s.status = StatusVerifying
	selected := s.selectedLocked()
	mode := s.mode
	s.afterLocked(s.cfg.Timings.VerifyDelay, func() *ScoreEvent {
		return s.finishVerifyLocked(mode, selected)
	})
	return nil
}

func (s *Session) finishVerifyLocked(mode Mode, selected []int) *ScoreEvent {
	ev := puzzle.Evaluate(s.puzzle, selected)
	score, ok := Score(mode, ev)
	if !ok {
		s.status = StatusMismatch
		s.incorrect = ev.FalsePositives
		s.missed = ev.FalseNegatives
		s.log.Debug().Ints("incorrect", ev.FalsePositives).Ints("missed", ev.FalseNegatives).Msg("selection_mismatch")
		return nil
	}

	s.status = StatusSolved
	s.incorrect = nil
	s.missed = nil
	s.selected = make(map[int]bool)
	s.score = &score
	s.label = Label(mode)
	s.log.Info().Str("mode", mode.String()).Bool("correct", ev.Correct).Msg("attempt_scored")

	return &ScoreEvent{
		SessionID:  s.id,
		Epoch:      s.epoch,
		PuzzleID:   s.puzzle.ID,
		Mode:       mode,
		Score:      score,
		Evaluation: ev,
	}
}

// afterLocked arms fn on the current arena. fn runs under the lock and only
// if the epoch has not moved on.
func (s *Session) afterLocked(d time.Duration, fn func() *ScoreEvent) {
	epoch := s.epoch
	t := time.AfterFunc(d, func() { s.apply(epoch, fn) })
	s.arena.timers = append(s.arena.timers, t)
}

// apply runs fn if epoch is still current and emits the resulting state.
func (s *Session) apply(epoch uint64, fn func() *ScoreEvent) bool {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	ev := fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap, ev)
	return true
}

func (s *Session) emit(snap Snapshot, ev *ScoreEvent) {
	if s.cfg.Emitter == nil {
		return
	}
	s.cfg.Emitter.EmitState(snap)
	if ev != nil {
		s.cfg.Emitter.EmitScore(*ev)
	}
}

func (s *Session) selectedLocked() []int {
	out := make([]int, 0, len(s.selected))
	for i := 0; i < puzzle.TileCount; i++ {
		if s.selected[i] {
			out = append(out, i)
		}
	}
	return out
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:     s.id,
		Epoch:         s.epoch,
		Mode:          s.mode.String(),
		Puzzle:        s.puzzle,
		Selected:      s.selectedLocked(),
		Status:        s.status,
		Incorrect:     append([]int(nil), s.incorrect...),
		Missed:        append([]int(nil), s.missed...),
		Label:         s.label,
		CursorVisible: s.cursorOn,
		Error:         s.lastErr,
	}
	if s.score != nil {
		v := *s.score
		snap.Score = &v
	}
	if s.cursor != nil {
		c := *s.cursor
		snap.Cursor = &c
	}
	return snap
}
