package metrics

// Trend classifies the direction of a metric over a window.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

// TrendSummary aggregates a PSI series over a trailing window.
type TrendSummary struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Trend   Trend   `json:"trend"`
}

// AnalyzeTrend summarizes a chronologically ordered series. Direction is
// judged by comparing the mean of the newer half against the older half;
// a move of more than 10% either way counts as a trend. Returns nil with
// fewer than 2 points.
func AnalyzeTrend(values []float64) *TrendSummary {
	if len(values) < 2 {
		return nil
	}

	s := &TrendSummary{
		Current: values[len(values)-1],
		Max:     values[0],
		Min:     values[0],
	}

	var sum float64
	for _, v := range values {
		sum += v
		if v > s.Max {
			s.Max = v
		}
		if v < s.Min {
			s.Min = v
		}
	}
	s.Average = sum / float64(len(values))

	mid := len(values) / 2
	olderAvg := mean(values[:mid])
	recentAvg := mean(values[mid:])

	s.Trend = TrendStable
	if olderAvg != 0 {
		change := (recentAvg - olderAvg) / olderAvg * 100
		if change > 10 {
			s.Trend = TrendIncreasing
		} else if change < -10 {
			s.Trend = TrendDecreasing
		}
	}
	return s
}

// ConsecutiveDecline reports whether the last `days` points of a
// chronologically ordered series each fell below their predecessor, the
// regime-change signal for warehouse drawdowns.
func ConsecutiveDecline(values []float64, days int) bool {
	if days < 2 || len(values) < days {
		return false
	}
	window := values[len(values)-days:]
	for i := 1; i < len(window); i++ {
		if window[i] >= window[i-1] {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
