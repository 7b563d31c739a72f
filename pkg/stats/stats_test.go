package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestMovingSumConvergesTowardSteadyInput(t *testing.T) {
	t.Parallel()

	var acc Accumulator

	for i := 0; i < 500; i++ {
		acc.RecordExecution(100, 0)
	}

	if !almostEqual(acc.AverageExecutionTimeUs(), 100, 0.5) {
		t.Fatalf("expected moving average to converge near 100, got %f", acc.AverageExecutionTimeUs())
	}
}

func TestMaxExecutionTimeTracksPeak(t *testing.T) {
	t.Parallel()

	var acc Accumulator

	acc.RecordExecution(10, 0)
	acc.RecordExecution(50, 0)
	acc.RecordExecution(20, 0)

	if acc.MaxExecutionTimeUs() != 50 {
		t.Fatalf("expected max of 50, got %d", acc.MaxExecutionTimeUs())
	}

	acc.ResetMax()

	if acc.MaxExecutionTimeUs() != 0 {
		t.Fatalf("expected max reset to 0, got %d", acc.MaxExecutionTimeUs())
	}
}

func TestTotalExecutionTimeAccumulates(t *testing.T) {
	t.Parallel()

	var acc Accumulator

	acc.RecordExecution(10, 0)
	acc.RecordExecution(20, 0)

	if acc.TotalExecutionTimeUs() != 30 {
		t.Fatalf("expected total of 30, got %d", acc.TotalExecutionTimeUs())
	}
}

func TestCycleTimeIIRSeedsThenBlends(t *testing.T) {
	t.Parallel()

	var acc Accumulator

	acc.RecordCycleTime(1000)

	if acc.MovingAverageCycleTimeUs() != 1000 {
		t.Fatalf("expected first sample to seed the average, got %f", acc.MovingAverageCycleTimeUs())
	}

	acc.RecordCycleTime(2000)

	want := CycleTimeAlpha*2000 + (1-CycleTimeAlpha)*1000
	if !almostEqual(acc.MovingAverageCycleTimeUs(), want, 1e-9) {
		t.Fatalf("expected blended average %f, got %f", want, acc.MovingAverageCycleTimeUs())
	}
}

func TestSystemLoadComputesPercentAndResets(t *testing.T) {
	t.Parallel()

	var load SystemLoad

	load.Observe(2)
	load.Observe(0)
	load.Observe(4)

	// waiting=6 over 3 samples -> 200%
	if got := load.AverageSystemLoadPercent(); got != 200 {
		t.Fatalf("expected 200%%, got %f", got)
	}

	if got := load.AverageSystemLoadPercent(); got != 0 {
		t.Fatalf("expected reset to report 0, got %f", got)
	}
}

func TestSystemLoadZeroSamplesReturnsZero(t *testing.T) {
	t.Parallel()

	var load SystemLoad

	if got := load.AverageSystemLoadPercent(); got != 0 {
		t.Fatalf("expected 0 with no samples, got %f", got)
	}
}
