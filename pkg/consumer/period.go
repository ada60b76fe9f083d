package consumer

// Period is a half-open wall-clock window [Start, End) in epoch milliseconds.
type Period struct {
	Start int64
	End   int64
}

// Boundaries returns the fixed-width period enclosing tsMs. Floor division,
// so Start <= tsMs < End holds for any timestamp including negative ones.
func Boundaries(tsMs, periodMs int64) Period {
	start := tsMs / periodMs * periodMs
	if tsMs < 0 && tsMs%periodMs != 0 {
		start -= periodMs
	}
	return Period{Start: start, End: start + periodMs}
}

// Next returns the period immediately following one that ended at
// latestEndMs. Periods are contiguous: no gaps, no skips, even when the
// chain produced nothing in between.
func Next(latestEndMs, periodMs int64) Period {
	return Period{Start: latestEndMs, End: latestEndMs + periodMs}
}
