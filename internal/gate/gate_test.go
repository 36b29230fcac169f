package gate

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/session"
	"github.com/MJE43/zkpoh/internal/verifier"
)

var seed42Targets = []int{0, 5, 7, 11, 15}

type fakeProver struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeProver) ProveHumanity(ctx context.Context, score float64) prover.Result {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return prover.Result{
		Proof:         &prover.Proof{Protocol: prover.ProtocolGroth16, Curve: prover.CurveBN254, Data: "AA=="},
		PublicSignals: []string{"1"},
	}
}

type countingVerifier struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newCountingVerifier(t *testing.T, status int, body string) *countingVerifier {
	t.Helper()
	cv := &countingVerifier{}
	cv.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cv.calls.Add(1)
		assert.Equal(t, verifier.ValidatePath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(cv.srv.Close)
	return cv
}

func (cv *countingVerifier) client() *verifier.Client {
	return verifier.NewClient(verifier.ClientConfig{BaseURL: cv.srv.URL})
}

type decisionCounter struct {
	outcomes map[string]int
}

func (d *decisionCounter) ObserveDecision(outcome string) {
	if d.outcomes == nil {
		d.outcomes = map[string]int{}
	}
	d.outcomes[outcome]++
}

func event(score int) session.ScoreEvent {
	return session.ScoreEvent{SessionID: "s1", Epoch: 3, PuzzleID: "pzl_0000002a", Mode: session.Human{}, Score: score}
}

func fixedEpoch(e uint64) func() uint64 { return func() uint64 { return e } }

func TestDecideOutOfRangeSkipsVerifier(t *testing.T) {
	cv := newCountingVerifier(t, http.StatusOK, `{"verified":true}`)
	engine := prover.NewEngine(prover.DirSource{Dir: t.TempDir()}, prover.Config{DisableWorker: true})
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })

	obs := &decisionCounter{}
	g := New(engine, cv.client(), obs, zerolog.Nop())

	d, ok := g.Decide(context.Background(), event(session.BotScore), fixedEpoch(3))
	require.True(t, ok)
	assert.False(t, d.Granted)
	assert.False(t, d.Proved)
	assert.False(t, d.Asked)
	assert.Equal(t, prover.MsgOutOfRange, d.Reason)
	assert.Equal(t, session.BotScore, d.Score)
	assert.Zero(t, cv.calls.Load())
	assert.Equal(t, 1, obs.outcomes["rejected"])
}

func TestDecideVerifierOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantGranted bool
		wantReason  string
		wantOutcome string
	}{
		{"granted", http.StatusOK, `{"verified":true}`, true, MsgGranted, "granted"},
		{"denied", http.StatusOK, `{"verified":false}`, false, MsgProofRejected, "denied"},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, false, MsgVerifierUnavailable, "unavailable"},
		{"bad request", http.StatusBadRequest, `{"message":"Invalid proof format"}`, false, MsgVerifierUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := newCountingVerifier(t, tt.status, tt.body)
			obs := &decisionCounter{}
			g := New(&fakeProver{}, cv.client(), obs, zerolog.Nop())

			d, ok := g.Decide(context.Background(), event(session.HumanScore), fixedEpoch(3))
			require.True(t, ok)
			assert.True(t, d.Proved)
			assert.True(t, d.Asked)
			assert.Equal(t, tt.wantGranted, d.Granted)
			assert.Equal(t, tt.wantGranted, d.Verified)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, "human", d.Mode)
			assert.EqualValues(t, 1, cv.calls.Load(), "verifier must be asked exactly once")
			assert.Equal(t, 1, obs.outcomes[tt.wantOutcome])
		})
	}
}

func TestDecideDiscardsStaleResult(t *testing.T) {
	cv := newCountingVerifier(t, http.StatusOK, `{"verified":true}`)
	fp := &fakeProver{started: make(chan struct{}, 1), release: make(chan struct{})}
	g := New(fp, cv.client(), nil, zerolog.Nop())

	var epoch atomic.Uint64
	epoch.Store(3)

	done := make(chan bool, 1)
	go func() {
		_, ok := g.Decide(context.Background(), event(session.HumanScore), epoch.Load)
		done <- ok
	}()

	<-fp.started
	epoch.Store(4)
	close(fp.release)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("decide did not return")
	}
	assert.Zero(t, cv.calls.Load())
}

func newGatedSession(t *testing.T, g *Gate) (*session.Session, *Runner) {
	t.Helper()
	em := NewEmitter(4, nil)
	s := session.New(session.Config{
		Timings: session.Timings{
			VerifyDelay:  5 * time.Millisecond,
			LeadIn:       5 * time.Millisecond,
			StepOffset:   5 * time.Millisecond,
			MoveMin:      5 * time.Millisecond,
			PauseMin:     2 * time.Millisecond,
			StepInterval: 5 * time.Millisecond,
			SubmitDelay:  5 * time.Millisecond,
		},
		Seed:    func() int32 { return 42 },
		Rand:    rand.New(rand.NewPCG(7, 7)),
		Emitter: em,
	})
	t.Cleanup(s.Close)

	r := NewRunner(g, em, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, s.Epoch)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, r
}

func waitDecisions(t *testing.T, r *Runner, n int) []Decision {
	t.Helper()
	var ds []Decision
	require.Eventually(t, func() bool {
		ds = r.Decisions()
		return len(ds) >= n
	}, 3*time.Second, 2*time.Millisecond)
	return ds
}

func TestRunnerHumanSolveIsGranted(t *testing.T) {
	cv := newCountingVerifier(t, http.StatusOK, `{"verified":true}`)
	g := New(&fakeProver{}, cv.client(), nil, zerolog.Nop())
	s, r := newGatedSession(t, g)

	_, err := s.NewPuzzle()
	require.NoError(t, err)
	for _, idx := range seed42Targets {
		_, err := s.Toggle(idx)
		require.NoError(t, err)
	}
	_, err = s.Submit()
	require.NoError(t, err)

	ds := waitDecisions(t, r, 1)
	assert.True(t, ds[0].Granted)
	assert.Equal(t, session.HumanScore, ds[0].Score)
	assert.Equal(t, s.ID(), ds[0].SessionID)
	assert.EqualValues(t, 1, cv.calls.Load())
}

func TestRunnerBotRunIsDeniedWithoutVerifying(t *testing.T) {
	cv := newCountingVerifier(t, http.StatusOK, `{"verified":true}`)
	engine := prover.NewEngine(prover.DirSource{Dir: t.TempDir()}, prover.Config{DisableWorker: true})
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	g := New(engine, cv.client(), nil, zerolog.Nop())
	s, r := newGatedSession(t, g)

	_, err := s.SetMode(session.SimulatedBot{})
	require.NoError(t, err)

	ds := waitDecisions(t, r, 1)
	assert.False(t, ds[0].Granted)
	assert.Equal(t, session.BotScore, ds[0].Score)
	assert.Equal(t, "bot", ds[0].Mode)
	assert.Equal(t, prover.MsgOutOfRange, ds[0].Reason)
	assert.Zero(t, cv.calls.Load())
}

func TestEmitterDropsOldestWhenFull(t *testing.T) {
	em := NewEmitter(1, nil)
	em.EmitScore(session.ScoreEvent{Epoch: 1})
	em.EmitScore(session.ScoreEvent{Epoch: 2})

	ev := <-em.scores
	assert.EqualValues(t, 2, ev.Epoch)
}

func TestEmitterWithoutDepthKeepsLatest(t *testing.T) {
	for _, depth := range []int{0, -3} {
		em := NewEmitter(depth, nil)
		em.EmitScore(session.ScoreEvent{Epoch: 1})
		em.EmitScore(session.ScoreEvent{Epoch: 2})

		require.Len(t, em.scores, 1, "depth %d", depth)
		ev := <-em.scores
		assert.EqualValues(t, 2, ev.Epoch, "depth %d", depth)
	}
}
