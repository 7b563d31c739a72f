// Package stats implements the scheduler's per-task and per-check-function
// execution statistics, plus the aggregate system-load sampler, per the
// spec's Statistics Engine (§4.2).
package stats

// MovingSumWindow is the fixed window W used by the exponential-style
// moving sum: on each sample, sum += x - sum/W.
const MovingSumWindow = 32

// CycleTimeAlpha is the IIR low-pass coefficient applied to the measured
// period between executions.
const CycleTimeAlpha = 0.05

// Accumulator holds the moving-sum/max/total/IIR statistics for one task or
// one check function.
type Accumulator struct {
	movingSumExecutionTimeUs float64
	movingSumDeltaTimeUs     float64
	maxExecutionTimeUs       int64
	totalExecutionTimeUs     int64
	movingAverageCycleTimeUs float64
	haveCycleTime            bool
}

// RecordExecution folds one execution sample into the accumulator.
// execUs is the measured task-body duration; deltaUs is the signed gap
// since the previous execution of the same task (only meaningful once a
// previous execution exists — callers pass 0 for the first sample).
func (a *Accumulator) RecordExecution(execUs int64, deltaUs int64) {
	a.movingSumExecutionTimeUs += float64(execUs) - a.movingSumExecutionTimeUs/MovingSumWindow
	a.movingSumDeltaTimeUs += float64(deltaUs) - a.movingSumDeltaTimeUs/MovingSumWindow

	if execUs > a.maxExecutionTimeUs {
		a.maxExecutionTimeUs = execUs
	}

	a.totalExecutionTimeUs += execUs
}

// RecordCycleTime folds a measured inter-execution period into the
// first-order IIR low-pass average. The first sample seeds the average
// directly rather than blending against zero.
func (a *Accumulator) RecordCycleTime(periodUs float64) {
	if !a.haveCycleTime {
		a.movingAverageCycleTimeUs = periodUs
		a.haveCycleTime = true

		return
	}

	a.movingAverageCycleTimeUs = CycleTimeAlpha*periodUs + (1-CycleTimeAlpha)*a.movingAverageCycleTimeUs
}

// AverageExecutionTimeUs returns the moving average execution time
// (movingSum / W).
func (a *Accumulator) AverageExecutionTimeUs() float64 {
	return a.movingSumExecutionTimeUs / MovingSumWindow
}

// AverageDeltaTimeUs returns the moving average inter-execution delta
// (movingSum / W).
func (a *Accumulator) AverageDeltaTimeUs() float64 {
	return a.movingSumDeltaTimeUs / MovingSumWindow
}

// MaxExecutionTimeUs returns the running maximum execution time.
func (a *Accumulator) MaxExecutionTimeUs() int64 {
	return a.maxExecutionTimeUs
}

// TotalExecutionTimeUs returns the lifetime accumulated execution time.
func (a *Accumulator) TotalExecutionTimeUs() int64 {
	return a.totalExecutionTimeUs
}

// MovingAverageCycleTimeUs returns the IIR-smoothed inter-execution period.
func (a *Accumulator) MovingAverageCycleTimeUs() float64 {
	return a.movingAverageCycleTimeUs
}

// ResetMax zeroes the running maximum execution time; printTasks does this
// as a side effect of reporting (spec §4.4).
func (a *Accumulator) ResetMax() {
	a.maxExecutionTimeUs = 0
}

// SystemLoad is the aggregate system-load sampler: it counts, across ticks
// that ran the aging pass, how many tasks were observed waiting
// (non-zero dynamic priority).
type SystemLoad struct {
	waiting int64
	samples int64
}

// Observe records one aging-pass tick's waiting-task count.
func (s *SystemLoad) Observe(waitingCount int) {
	s.waiting += int64(waitingCount)
	s.samples++
}

// AverageSystemLoadPercent computes 100 * Σwaiting / samples and resets the
// accumulators, matching taskSystemLoad's reset-on-read semantics (spec
// §4.2).
func (s *SystemLoad) AverageSystemLoadPercent() float64 {
	if s.samples == 0 {
		return 0
	}

	percent := 100 * float64(s.waiting) / float64(s.samples)

	s.waiting = 0
	s.samples = 0

	return percent
}
