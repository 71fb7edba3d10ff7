package aggregator

import (
	"math"
	"time"
)

// DefaultMaxSamples bounds a device's sample window when no size is configured.
const DefaultMaxSamples = 20

// SampleWindow is a bounded window of the most recent accepted readings for
// one device. Once full, adding a reading evicts the oldest entry, so memory
// per device never grows past the configured maximum.
//
// Not safe for concurrent use; the Aggregator serializes access per device.
type SampleWindow struct {
	maxSamples int
	readings   []*Reading
}

// NewSampleWindow creates a window holding at most maxSamples readings.
func NewSampleWindow(maxSamples int) *SampleWindow {
	if maxSamples < 1 {
		maxSamples = DefaultMaxSamples
	}
	return &SampleWindow{
		maxSamples: maxSamples,
		readings:   make([]*Reading, 0, maxSamples),
	}
}

// Add appends a reading, evicting the oldest entry when the window is full.
func (w *SampleWindow) Add(r *Reading) {
	if len(w.readings) == w.maxSamples {
		copy(w.readings, w.readings[1:])
		w.readings = w.readings[:len(w.readings)-1]
	}
	w.readings = append(w.readings, r)
}

// Len returns the number of buffered readings.
func (w *SampleWindow) Len() int {
	return len(w.readings)
}

// Clear discards all buffered readings.
func (w *SampleWindow) Clear() {
	for i := range w.readings {
		w.readings[i] = nil
	}
	w.readings = w.readings[:0]
}

// Averaged computes one summary reading over the window. Each numeric field
// is the arithmetic mean of the entries that provided it; fields with no
// contributing entries stay absent. Identity fields come from the most recent
// entry. SampleCount is the window length and SamplePeriod the wall-clock
// span between the oldest and newest entry, rounded to 0.1 s. Returns false
// on an empty window.
func (w *SampleWindow) Averaged() (*Reading, bool) {
	if len(w.readings) == 0 {
		return nil, false
	}

	latest := w.readings[len(w.readings)-1]

	avg := &Reading{
		Format:                latest.Format,
		Address:               latest.Address,
		DeviceMAC:             latest.DeviceMAC,
		Timestamp:             time.Now().UTC(),
		MovementCounter:       latest.MovementCounter,
		Sequence:              latest.Sequence,
		CalibrationInProgress: latest.CalibrationInProgress,
		SampleCount:           len(w.readings),
	}

	for _, field := range numericFields {
		sum := 0.0
		n := 0
		for _, r := range w.readings {
			if v := field.get(r); v != nil {
				sum += *v
				n++
			}
		}
		if n > 0 {
			field.set(avg, round2(sum/float64(n)))
		}
	}

	period := w.readings[len(w.readings)-1].Timestamp.Sub(w.readings[0].Timestamp).Seconds()
	avg.SamplePeriod = round1(period)

	return avg, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
