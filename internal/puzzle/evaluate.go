package puzzle

import "sort"

// Evaluation is the outcome of comparing a selection with a puzzle.
type Evaluation struct {
	Correct        bool  `json:"correct"`
	FalsePositives []int `json:"false_positives"`
	FalseNegatives []int `json:"false_negatives"`
}

// Evaluate compares selected against the puzzle's target indices. A selection
// is correct only when it equals the target set exactly. Out-of-range and
// duplicate indices in selected are treated as set members like any other.
func Evaluate(p Puzzle, selected []int) Evaluation {
	chosen := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		chosen[idx] = struct{}{}
	}

	fp := []int{}
	for idx := range chosen {
		if !p.IsTarget(idx) {
			fp = append(fp, idx)
		}
	}
	sort.Ints(fp)

	fn := []int{}
	for _, idx := range p.TargetIndices {
		if _, ok := chosen[idx]; !ok {
			fn = append(fn, idx)
		}
	}

	return Evaluation{
		Correct:        len(fp) == 0 && len(fn) == 0,
		FalsePositives: fp,
		FalseNegatives: fn,
	}
}
