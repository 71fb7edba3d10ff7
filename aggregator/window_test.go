package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 {
	return &v
}

func windowReading(ts time.Time, temperature *float64, seq uint32) *Reading {
	return &Reading{
		Format:      FormatRAWv2,
		Address:     "AA:BB:CC:DD:EE:FF",
		Timestamp:   ts,
		Temperature: temperature,
		Sequence:    seqPtr(seq),
		SampleCount: 1,
	}
}

func TestSampleWindowEvictsOldestWhenFull(t *testing.T) {
	w := NewSampleWindow(3)
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		w.Add(windowReading(base.Add(time.Duration(i)*time.Second), fp(float64(i)), uint32(i)))
	}

	require.Equal(t, 3, w.Len())

	averaged, ok := w.Averaged()
	require.True(t, ok)
	assert.Equal(t, 3, averaged.SampleCount)
	// Oldest reading (temperature 0) was evicted.
	require.NotNil(t, averaged.Temperature)
	assert.InDelta(t, 2.0, *averaged.Temperature, 1e-9)
}

func TestSampleWindowAveragesOnlyPresentValues(t *testing.T) {
	w := NewSampleWindow(10)
	base := time.Now().UTC()

	w.Add(windowReading(base, fp(20.0), 1))
	w.Add(windowReading(base.Add(time.Second), fp(21.0), 2))
	w.Add(windowReading(base.Add(2*time.Second), fp(22.0), 3))
	w.Add(windowReading(base.Add(3*time.Second), nil, 4))

	averaged, ok := w.Averaged()
	require.True(t, ok)

	// Mean over the three contributing samples, count over the whole window.
	require.NotNil(t, averaged.Temperature)
	assert.InDelta(t, 21.0, *averaged.Temperature, 1e-9)
	assert.Equal(t, 4, averaged.SampleCount)

	// No reading carried humidity, so the average omits it.
	assert.Nil(t, averaged.Humidity)
}

func TestSampleWindowIdentityFromLatestEntry(t *testing.T) {
	w := NewSampleWindow(10)
	base := time.Now().UTC()

	first := windowReading(base, fp(20.0), 1)
	movement := 3
	first.MovementCounter = &movement

	last := windowReading(base.Add(time.Second), fp(22.0), 9)
	lastMovement := 7
	last.MovementCounter = &lastMovement
	last.DeviceMAC = "CB:B8:33:4C:88:4F"

	w.Add(first)
	w.Add(last)

	averaged, ok := w.Averaged()
	require.True(t, ok)
	require.NotNil(t, averaged.Sequence)
	assert.Equal(t, uint32(9), *averaged.Sequence)
	require.NotNil(t, averaged.MovementCounter)
	assert.Equal(t, 7, *averaged.MovementCounter)
	assert.Equal(t, "CB:B8:33:4C:88:4F", averaged.DeviceMAC)
}

func TestSampleWindowSamplePeriod(t *testing.T) {
	w := NewSampleWindow(10)
	base := time.Now().UTC()

	w.Add(windowReading(base, fp(20.0), 1))
	w.Add(windowReading(base.Add(1200*time.Millisecond), fp(21.0), 2))
	w.Add(windowReading(base.Add(2460*time.Millisecond), fp(22.0), 3))

	averaged, ok := w.Averaged()
	require.True(t, ok)
	// Span between oldest and newest entry, rounded to 0.1 s.
	assert.InDelta(t, 2.5, averaged.SamplePeriod, 1e-9)
}

func TestSampleWindowEmpty(t *testing.T) {
	w := NewSampleWindow(10)

	averaged, ok := w.Averaged()
	assert.False(t, ok)
	assert.Nil(t, averaged)
}

func TestSampleWindowClear(t *testing.T) {
	w := NewSampleWindow(10)
	w.Add(windowReading(time.Now().UTC(), fp(20.0), 1))

	w.Clear()

	assert.Equal(t, 0, w.Len())
	_, ok := w.Averaged()
	assert.False(t, ok)
}
