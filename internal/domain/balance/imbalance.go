package balance

import "math"

// ImbalanceScore blends the utilization range with twice the standard
// deviation: min(100, 0.6*(max-min) + 0.4*2*stddev). Zero agents score
// zero.
func ImbalanceScore(utilizations []float64) (score, maxUtil, minUtil, stddev float64) {
	if len(utilizations) == 0 {
		return 0, 0, 0, 0
	}

	maxUtil = utilizations[0]
	minUtil = utilizations[0]
	sum := 0.0
	for _, u := range utilizations {
		if u > maxUtil {
			maxUtil = u
		}
		if u < minUtil {
			minUtil = u
		}
		sum += u
	}

	mean := sum / float64(len(utilizations))
	variance := 0.0
	for _, u := range utilizations {
		d := u - mean
		variance += d * d
	}
	variance /= float64(len(utilizations))
	stddev = math.Sqrt(variance)

	score = 0.6*(maxUtil-minUtil) + 0.4*2*stddev
	if score > 100 {
		score = 100
	}
	return score, maxUtil, minUtil, stddev
}

// SeverityFor grades a score against the detection threshold:
// >60 severe, >40 moderate, >threshold minor, else none.
func SeverityFor(score, threshold float64) ImbalanceSeverity {
	switch {
	case score > 60:
		return SeveritySevere
	case score > 40:
		return SeverityModerate
	case score > threshold:
		return SeverityMinor
	default:
		return SeverityNone
	}
}

// ExpectedImprovement is a placeholder heuristic: monotonically
// non-decreasing in useful action count, capped at 50.
func ExpectedImprovement(usefulActions int) float64 {
	return math.Min(float64(usefulActions)*5, 50)
}
