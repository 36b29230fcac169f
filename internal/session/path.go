package session

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// SampleInterval is the spacing between synthetic pointer samples.
	SampleInterval = 8 * time.Millisecond
	minPathSteps   = 12
	pathJitter     = 0.15
)

// Sample is one synthetic pointer position, T after the move started.
type Sample struct {
	X float64       `json:"x"`
	Y float64       `json:"y"`
	T time.Duration `json:"t"`
}

// GeneratePath interpolates from (sx, sy) to (ex, ey) over dur, one sample
// per SampleInterval with small independent jitter. The path always has at
// least minPathSteps+1 samples.
func GeneratePath(sx, sy, ex, ey float64, dur time.Duration, rnd *rand.Rand) []Sample {
	steps := int(math.Round(float64(dur) / float64(SampleInterval)))
	if steps < minPathSteps {
		steps = minPathSteps
	}
	path := make([]Sample, 0, steps+1)
	for i := 0; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		path = append(path, Sample{
			X: sx + (ex-sx)*frac + (rnd.Float64()-0.5)*pathJitter,
			Y: sy + (ey-sy)*frac + (rnd.Float64()-0.5)*pathJitter,
			T: time.Duration(i) * SampleInterval,
		})
	}
	return path
}
