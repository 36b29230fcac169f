// Package puzzle generates seeded tile-selection challenges and checks
// submitted selections against them.
//
// Generation is a pure function of the seed: the same seed always yields the
// same target, tiles and target indices on every platform.
package puzzle

import (
	"fmt"
	"sort"
	"time"
)

// Pattern is one of the fixed tile pattern kinds.
type Pattern string

const (
	Circle   Pattern = "circle"
	Triangle Pattern = "triangle"
	Plus     Pattern = "plus"
	Waves    Pattern = "waves"
	Stripes  Pattern = "stripes"
	Star     Pattern = "star"
)

// Patterns lists every pattern kind in draw order. The order is part of the
// generation contract; reordering it changes every puzzle.
var Patterns = []Pattern{Circle, Triangle, Plus, Waves, Stripes, Star}

const (
	TileCount  = 16
	MinTargets = 4
	MaxTargets = 7
	GridSize   = 4
)

// Puzzle is an immutable selection challenge.
type Puzzle struct {
	Seed          int32     `json:"seed"`
	ID            string    `json:"id"`
	Target        Pattern   `json:"target"`
	Tiles         []Pattern `json:"tiles"`
	TargetIndices []int     `json:"target_indices"` // ascending
}

// Generate builds the puzzle for seed.
//
// Draw order: target kind, target count, Fisher-Yates shuffle of the tile
// positions (first count positions become targets), then one distractor draw
// per non-target position from the kinds excluding the target.
func Generate(seed int32) Puzzle {
	rng := newMulberry32(seed)

	target := Patterns[rng.Intn(len(Patterns))]
	targetCount := MinTargets + rng.Intn(MaxTargets-MinTargets+1)

	positions := make([]int, TileCount)
	for i := range positions {
		positions[i] = i
	}
	for i := len(positions) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		positions[i], positions[j] = positions[j], positions[i]
	}

	isTarget := make([]bool, TileCount)
	indices := make([]int, targetCount)
	copy(indices, positions[:targetCount])
	for _, idx := range indices {
		isTarget[idx] = true
	}
	sort.Ints(indices)

	distractors := make([]Pattern, 0, len(Patterns)-1)
	for _, p := range Patterns {
		if p != target {
			distractors = append(distractors, p)
		}
	}

	tiles := make([]Pattern, TileCount)
	for i := range tiles {
		if isTarget[i] {
			tiles[i] = target
			continue
		}
		tiles[i] = distractors[rng.Intn(len(distractors))]
	}

	return Puzzle{
		Seed:          seed,
		ID:            FormatID(seed),
		Target:        target,
		Tiles:         tiles,
		TargetIndices: indices,
	}
}

// FormatID encodes a seed as a stable correlation id.
func FormatID(seed int32) string {
	return fmt.Sprintf("pzl_%08x", uint32(seed))
}

// SeedFromTime derives a seed from wall-clock milliseconds, keeping the low
// 32 bits.
func SeedFromTime(t time.Time) int32 {
	return int32(t.UnixMilli())
}

// IsTarget reports whether idx is one of the puzzle's target positions.
func (p Puzzle) IsTarget(idx int) bool {
	i := sort.SearchInts(p.TargetIndices, idx)
	return i < len(p.TargetIndices) && p.TargetIndices[i] == idx
}

// TileCenter returns the centre of tile idx on a grid whose tiles are size
// units wide.
func TileCenter(idx int, size float64) (x, y float64) {
	col := idx % GridSize
	row := idx / GridSize
	return float64(col)*size + size/2, float64(row)*size + size/2
}
