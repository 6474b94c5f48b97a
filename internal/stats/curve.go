package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CurvePoint aggregates one generation's best score across the runs that
// reached it.
type CurvePoint struct {
	Generation int     `json:"generation"`
	Runs       int     `json:"runs"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
}

// BuildCurve walks the histories generation by generation. Stopped runs are
// shorter; a generation only counts the runs that got there.
func BuildCurve(histories [][]float64) []CurvePoint {
	longest := 0
	for _, h := range histories {
		longest = max(longest, len(h))
	}
	points := make([]CurvePoint, 0, longest)
	for gen := 0; gen < longest; gen++ {
		values := make([]float64, 0, len(histories))
		for _, h := range histories {
			if gen < len(h) {
				values = append(values, h[gen])
			}
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		points = append(points, CurvePoint{
			Generation: gen,
			Runs:       len(values),
			Mean:       mean,
			Std:        std,
			Max:        floats.Max(values),
			Min:        floats.Min(values),
		})
	}
	return points
}
