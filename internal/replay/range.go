package replay

import "fmt"

// StepRange is an inclusive range of 1-based scenario steps.
type StepRange struct {
	From uint64
	To   uint64
}

// Len is the number of steps in the range.
func (r StepRange) Len() uint64 { return r.To - r.From + 1 }

func (r StepRange) String() string { return fmt.Sprintf("steps %d..%d", r.From, r.To) }

// SplitRange cuts steps from..to into batches of at most batchSize steps; the
// runner journals and checkpoints once per batch. Step numbers start at 1.
func SplitRange(from, to, batchSize uint64) ([]StepRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size for steps %d..%d must be greater than zero", from, to)
	}
	if from == 0 {
		return nil, fmt.Errorf("steps are numbered from 1, got from=0")
	}
	if to < from {
		return nil, fmt.Errorf("empty step range %d..%d", from, to)
	}

	ranges := make([]StepRange, 0, (to-from)/batchSize+1)
	for start := from; ; start += batchSize {
		if to-start < batchSize {
			return append(ranges, StepRange{From: start, To: to}), nil
		}
		ranges = append(ranges, StepRange{From: start, To: start + batchSize - 1})
	}
}
