package accumulator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Accumulator counts events and folds the count into a sample every
// interval, keeping a bounded history.
// 600 samples with an interval of 1 second will provide a 10 minute history.
type Accumulator struct {
	acc *atomic.Int64

	mu      sync.RWMutex
	samples []Sample

	// Samples to store before being discarded
	storedSamples int
	interval      time.Duration
}

// Sample contains the time the sample was made and its value
type Sample struct {
	StoredAt time.Time `json:"stored_at"`
	Value    int64     `json:"value"`
}

// NewAccumulator creates an accumulator. This does not automatically call Run
func NewAccumulator(storedSamples int, interval time.Duration) *Accumulator {
	if storedSamples <= 0 {
		storedSamples = 1
	}

	return &Accumulator{
		acc:           atomic.NewInt64(0),
		samples:       make([]Sample, 0, storedSamples),
		storedSamples: storedSamples,
		interval:      interval,
	}
}

// Increment increments the accumulator by 1
func (ac *Accumulator) Increment() {
	ac.acc.Inc()
}

// IncrementBy increments the accumulator by a specified number
func (ac *Accumulator) IncrementBy(delta int64) {
	ac.acc.Add(delta)
}

// Interval returns the time between samples.
func (ac *Accumulator) Interval() time.Duration {
	return ac.interval
}

// Samples returns a copy of every stored sample, oldest first.
func (ac *Accumulator) Samples() []Sample {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	return append([]Sample(nil), ac.samples...)
}

// LastSamples returns up to the n most recent samples, oldest first.
func (ac *Accumulator) LastSamples(n int) []Sample {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	index := max(len(ac.samples)-n, 0)

	return append([]Sample(nil), ac.samples[index:]...)
}

// Since returns the samples stored after t.
func (ac *Accumulator) Since(t time.Time) []Sample {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	for index, sample := range ac.samples {
		if sample.StoredAt.After(t) {
			return append([]Sample(nil), ac.samples[index:]...)
		}
	}

	return []Sample{}
}

// RunOnce stores the current count as a sample taken at t and resets it.
func (ac *Accumulator) RunOnce(t time.Time) {
	value := ac.acc.Swap(0)

	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.samples = append(ac.samples, Sample{StoredAt: t, Value: value})

	if len(ac.samples) > ac.storedSamples {
		ac.samples = append(ac.samples[:0], ac.samples[len(ac.samples)-ac.storedSamples:]...)
	}
}

// Run samples the accumulator every interval until ctx is done.
func (ac *Accumulator) Run(ctx context.Context) {
	t := time.NewTicker(ac.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		ac.RunOnce(time.Now().UTC())
	}
}

// Sum returns the sum of all samples.
func Sum(samples []Sample) int64 {
	acc := int64(0)
	for _, sample := range samples {
		acc += sample.Value
	}

	return acc
}

// Avg returns the average of all samples.
func Avg(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}

	return float64(Sum(samples)) / float64(len(samples))
}
