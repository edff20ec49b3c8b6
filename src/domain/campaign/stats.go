package campaign

import (
	"math"
	"time"
)

// Stats is the campaign progress snapshot derived from message counts
type Stats struct {
	Total        int      `json:"total"`
	Pending      int      `json:"pending"`
	Sent         int      `json:"sent"`
	Delivered    int      `json:"delivered"`
	Read         int      `json:"read"`
	Failed       int      `json:"failed"`
	DeliveryRate float64  `json:"deliveryRate"`
	ReadRate     float64  `json:"readRate"`
	FailureRate  float64  `json:"failureRate"`
	ProgressPct  float64  `json:"progressPct"`
	EtaSeconds   *float64 `json:"etaSeconds"`
}

// ComputeStats derives rates, progress and ETA from counts.
// Pending includes failed rows still eligible for retry. Rates use the
// attempted denominator (everything that is no longer pending).
func ComputeStats(counts StatusCounts, startedAt *time.Time, now time.Time) Stats {
	s := Stats{
		Total:     counts.Total(),
		Pending:   counts.Outstanding(),
		Sent:      counts.Sent,
		Delivered: counts.Delivered,
		Read:      counts.Read,
		Failed:    counts.Failed,
	}

	attempted := s.Sent + s.Delivered + s.Read + s.Failed
	if attempted > 0 {
		s.DeliveryRate = percent(s.Delivered+s.Read, attempted)
		s.ReadRate = percent(s.Read, attempted)
		s.FailureRate = percent(s.Failed, attempted)
	}

	switch {
	case s.Total == 0:
		s.ProgressPct = 0
	case s.Pending == 0:
		s.ProgressPct = 100
	default:
		// rounding must not report 100 while anything is outstanding
		s.ProgressPct = math.Min(percent(s.Total-s.Pending, s.Total), 99.99)
	}

	if attempted > 0 && startedAt != nil {
		elapsed := now.Sub(*startedAt).Seconds()
		if elapsed > 0 {
			throughput := float64(attempted) / elapsed
			eta := round2(float64(s.Pending) / throughput)
			s.EtaSeconds = &eta
		}
	}

	return s
}

// TerminalStatus resolves the closeout status from final counts:
// sent when nothing failed, failed when nothing got through, partial otherwise.
func TerminalStatus(counts StatusCounts) Status {
	delivered := counts.Sent + counts.Delivered + counts.Read
	switch {
	case counts.Failed == 0:
		return StatusSent
	case delivered == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
