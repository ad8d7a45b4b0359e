package processor

import (
	"math"

	"github.com/sarchlab/rtloop/model"
)

// window keeps the latest readings of one sensor kind.
type window struct {
	values []float64
	next   int
	full   bool
}

func (w *window) add(v float64) {
	w.values[w.next] = v
	w.next++

	if w.next == len(w.values) {
		w.next = 0
		w.full = true
	}
}

func (w *window) contents() []float64 {
	if w.full {
		return w.values
	}

	return w.values[:w.next]
}

func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	for _, x := range values {
		mean += x
	}
	mean /= float64(len(values))

	var variance float64
	for _, x := range values {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}

// Reading is the outcome of filtering one value.
type Reading struct {
	// Filtered is the moving average including the new value.
	Filtered float64

	// RecentMean and RecentStdDev describe the window before the new value
	// was added. History is the number of values they cover.
	RecentMean   float64
	RecentStdDev float64
	History      int
}

// IsAnomaly tells if value deviates from the recent mean by more than
// threshold standard deviations. At least two earlier values are needed.
func (r Reading) IsAnomaly(value, threshold float64) bool {
	if r.History < 2 {
		return false
	}

	return math.Abs(value-r.RecentMean) > threshold*r.RecentStdDev
}

// A Filter is a per-kind moving-average filter. It is not safe for
// concurrent use; each processor owns its own.
type Filter struct {
	size    int
	windows map[model.SensorKind]*window
}

// NewFilter creates a filter that averages the latest size readings.
func NewFilter(size int) *Filter {
	if size < 1 {
		panic("filter window must hold at least one value")
	}

	return &Filter{
		size:    size,
		windows: make(map[model.SensorKind]*window),
	}
}

// Add records a value of the given kind.
func (f *Filter) Add(kind model.SensorKind, value float64) Reading {
	w, ok := f.windows[kind]
	if !ok {
		w = &window{values: make([]float64, f.size)}
		f.windows[kind] = w
	}

	var r Reading
	history := w.contents()
	r.History = len(history)
	r.RecentMean, r.RecentStdDev = meanStdDev(history)

	w.add(value)
	r.Filtered, _ = meanStdDev(w.contents())

	return r
}
