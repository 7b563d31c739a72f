// Package hostload periodically samples real host CPU utilisation, for
// correlating scheduler starvation with contention on the machine the
// control loop happens to be hosted on. It never feeds back into scheduling
// decisions — the scheduler's own aggregate load figure (pkg/stats) is
// synthetic and self-contained, per the spec.
//
// The sampling/publish loop is grounded on senomorf-oci-cpu-shaper's
// pkg/est/sampler.go, trimmed down now that github.com/mackerelio/go-osstat
// does the counter parsing that file's FileSource/parseCPUStat handled by
// hand: one goroutine and one channel carry this package's single
// diagnostics line, so the original's separate startSampling/sampleLoop/
// publishError/publishObservation stages collapse into loop/emit.
package hostload

import (
	"context"
	"fmt"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
)

// Observation represents a host CPU utilisation snapshot derived from
// cumulative jiffy-counter deltas. Utilisation is a ratio in [0,1].
type Observation struct {
	Timestamp    time.Time
	Utilisation  float64
	BusyJiffies  uint64
	TotalJiffies uint64
	Err          error
}

// Source describes an entity capable of returning cumulative CPU jiffy
// counters. The production Source is backed by github.com/mackerelio/go-osstat;
// tests substitute a fake.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot captures cumulative idle and total jiffy counters at a point in
// time.
type Snapshot struct {
	Idle  uint64
	Total uint64
}

// OSStatSource reads host CPU statistics via github.com/mackerelio/go-osstat,
// which itself parses /proc/stat on Linux (and the platform equivalent
// elsewhere).
type OSStatSource struct{}

// Snapshot implements Source.
func (OSStatSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("osstat source context: %w", err)
	}

	stats, err := cpu.Get()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read host cpu stats: %w", err)
	}

	return Snapshot{Idle: stats.Idle + stats.IOWait, Total: stats.Total}, nil
}

// DefaultInterval is used when a zero or negative interval is supplied.
const DefaultInterval = time.Second

// Sampler periodically samples host CPU statistics and publishes utilisation
// observations. Call Run at most once per Sampler.
type Sampler struct {
	source   Source
	interval time.Duration
	now      func() time.Time
}

// NewSampler constructs a Sampler using the provided Source and interval. A
// nil Source defaults to OSStatSource.
func NewSampler(src Source, interval time.Duration) *Sampler {
	if src == nil {
		src = OSStatSource{}
	}

	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sampler{source: src, interval: interval, now: time.Now}
}

// Run begins sampling until ctx is cancelled. Observations are delivered on
// the returned channel, which is closed on exit.
func (s *Sampler) Run(ctx context.Context) <-chan Observation {
	observations := make(chan Observation, 1)

	go s.loop(ctx, observations)

	return observations
}

func (s *Sampler) loop(ctx context.Context, observations chan<- Observation) {
	defer close(observations)

	last, err := s.source.Snapshot(ctx)
	if err != nil {
		s.emit(ctx, observations, Observation{Timestamp: s.now(), Err: fmt.Errorf("initial snapshot: %w", err)})

		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.source.Snapshot(ctx)
			if err != nil {
				if !s.emit(ctx, observations, Observation{Timestamp: s.now(), Err: fmt.Errorf("sample snapshot: %w", err)}) {
					return
				}

				continue
			}

			obs := buildObservation(s.now(), last, snap)
			last = snap

			if !s.emit(ctx, observations, obs) {
				return
			}
		}
	}
}

func (s *Sampler) emit(ctx context.Context, observations chan<- Observation, obs Observation) bool {
	select {
	case observations <- obs:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildObservation derives a utilisation ratio from two cumulative jiffy
// snapshots. idleDelta <= totalDelta is guaranteed whenever both counters
// advance without wrapping, so the resulting ratio is always within [0,1]
// without needing a separate clamp.
func buildObservation(timestamp time.Time, previous, current Snapshot) Observation {
	totalDelta := diffCounter(previous.Total, current.Total)
	idleDelta := diffCounter(previous.Idle, current.Idle)

	if totalDelta == 0 || idleDelta > totalDelta {
		return Observation{Timestamp: timestamp}
	}

	busyDelta := totalDelta - idleDelta

	return Observation{
		Timestamp:    timestamp,
		Utilisation:  float64(busyDelta) / float64(totalDelta),
		BusyJiffies:  busyDelta,
		TotalJiffies: totalDelta,
	}
}

// diffCounter computes a wrap-safe delta between two monotonically
// increasing jiffy counters; a counter that appears to have gone backwards
// is treated as having wrapped, and reported as a zero delta rather than an
// underflowed huge one.
func diffCounter(previous, current uint64) uint64 {
	if current >= previous {
		return current - previous
	}

	return 0
}
