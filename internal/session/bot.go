package session

import (
	"context"
	"time"

	"github.com/MJE43/zkpoh/internal/botscript"
	"github.com/MJE43/zkpoh/internal/puzzle"
)

// TileSize is the edge length, in pixels, of a tile in the bot's cursor
// coordinate space.
const TileSize = 80.0

const (
	cursorStartY = -20.0
	clickJitter  = 1.5
)

// BotRunBound is the longest a bot run clicking n tiles can take from start
// to scoring, excluding script execution time.
func (t Timings) BotRunBound(n int) time.Duration {
	step := t.MoveMin + t.MoveJitter + t.PauseMin + t.PauseJitter + t.StepInterval
	return t.LeadIn + t.StepOffset + time.Duration(n)*step + t.SubmitDelay + t.VerifyDelay
}

// startBotLocked schedules a bot run for the current puzzle. After the
// lead-in the script picks tiles; the cursor then moves to and clicks each
// one, and finally submits.
func (s *Session) startBotLocked(bot SimulatedBot) {
	epoch := s.epoch
	ctx := s.arena.ctx
	p := s.puzzle

	s.log.Info().Str("puzzle_id", p.ID).Msg("bot_run_started")
	s.afterLocked(s.cfg.Timings.LeadIn, func() *ScoreEvent {
		s.cursorOn = true
		s.cursor = &Sample{X: TileSize * puzzle.GridSize / 2, Y: cursorStartY}
		s.goLocked(func() { s.planBot(ctx, epoch, p, bot) })
		return nil
	})
}

func (s *Session) planBot(ctx context.Context, epoch uint64, p puzzle.Puzzle, bot SimulatedBot) {
	targets, err := botscript.Plan(ctx, bot.Script, p)
	if err != nil {
		s.apply(epoch, func() *ScoreEvent {
			s.status = StatusError
			s.lastErr = err.Error()
			s.cursorOn = false
			s.log.Warn().Err(err).Msg("bot_plan_failed")
			return nil
		})
		return
	}
	s.apply(epoch, func() *ScoreEvent {
		s.scheduleBotLocked(targets)
		return nil
	})
}

func (s *Session) scheduleBotLocked(targets []int) {
	t := s.cfg.Timings
	cx, cy := s.cursor.X, s.cursor.Y

	var total time.Duration
	for _, idx := range targets {
		move := t.MoveMin + s.jitterLocked(t.MoveJitter)
		pause := t.PauseMin + s.jitterLocked(t.PauseJitter)
		fromX, fromY := cx, cy
		tx, ty := puzzle.TileCenter(idx, TileSize)

		s.afterLocked(t.StepOffset+total, func() *ScoreEvent {
			s.playLocked(GeneratePath(fromX, fromY, tx, ty, move, s.cfg.Rand))
			s.afterLocked(move+pause, func() *ScoreEvent {
				s.cursor = &Sample{
					X: tx + (s.cfg.Rand.Float64()-0.5)*clickJitter,
					Y: ty + (s.cfg.Rand.Float64()-0.5)*clickJitter,
				}
				if err := s.toggleLocked(idx); err != nil {
					s.log.Debug().Err(err).Int("tile", idx).Msg("bot_click_ignored")
				}
				return nil
			})
			return nil
		})

		cx, cy = tx, ty
		total += move + pause + t.StepInterval
	}

	s.afterLocked(t.StepOffset+total+t.SubmitDelay, func() *ScoreEvent {
		s.cursorOn = false
		if err := s.submitLocked(); err != nil {
			s.log.Debug().Err(err).Msg("bot_submit_ignored")
		}
		return nil
	})
}

// playLocked animates the cursor along path on the current arena.
func (s *Session) playLocked(path []Sample) {
	epoch, ctx := s.epoch, s.arena.ctx
	s.goLocked(func() {
		start := time.Now()
		timer := time.NewTimer(0)
		defer timer.Stop()
		<-timer.C

		for _, smp := range path {
			timer.Reset(time.Until(start.Add(smp.T)))
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if !s.apply(epoch, func() *ScoreEvent {
				s.cursor = &smp
				return nil
			}) {
				return
			}
		}
	})
}

func (s *Session) goLocked(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) jitterLocked(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(s.cfg.Rand.Float64() * float64(max))
}
