package sched

import "taskscheduler/pkg/stats"

// Priority is the compile-time static weight used both for ready-queue
// ordering and as the aging multiplier (spec §3, §6).
type Priority int

// Priority constants from the spec's external interface (§6). REALTIME is a
// sentinel meaning "scheduled by deadline, never by aging"; IDLE zeroes
// the aging multiplier, so a due IDLE task gets a constant dynamic priority
// of 1 however many periods it has missed (observed behaviour, kept as is).
const (
	REALTIME   Priority = -1
	IDLE       Priority = 0
	LOW        Priority = 1
	MEDIUM     Priority = 3
	MediumHigh Priority = 4
	HIGH       Priority = 5
	MAX        Priority = 255
)

// Tunables from the spec's external interface (§6).
const (
	// SchedulerDelayLimitUs is the minimum period any task may be assigned;
	// reschedule clamps below this.
	SchedulerDelayLimitUs uint64 = 100
	// GuardIntervalUs is the minimum slack below which Phase B is skipped
	// entirely when the real-time task did not run this tick.
	GuardIntervalUs int64 = 5
	// TaskAverageExecuteFallbackUs is the admission budget assumed for a
	// candidate task when statistics are disabled.
	TaskAverageExecuteFallbackUs int64 = 30
	// TaskAverageExecutePaddingUs is added atop a candidate's measured
	// average execution time when statistics are enabled.
	TaskAverageExecutePaddingUs int64 = 5
)

// CheckFunc is the optional event-driven predicate: given the current time
// and the time elapsed since the task last executed, report whether the
// task should run.
type CheckFunc func(nowUs uint64, sinceLastExecUs int64) bool

// TaskFunc is a task body: the actual work, given the current time.
type TaskFunc func(nowUs uint64)

// TaskID indexes into the scheduler's task table.
type TaskID int

// TaskDescriptor is the external, caller-supplied configuration for one
// task slot (spec §3, §6). The scheduler never mutates these fields after
// construction except DesiredPeriodUs, via Reschedule.
type TaskDescriptor struct {
	// Name is an immutable human-readable label.
	Name string
	// CheckFunc is nil for a pure time-driven task.
	CheckFunc CheckFunc
	// CheckName groups check-function statistics across tasks that share
	// the same underlying predicate; defaults to Name when empty.
	CheckName string
	// TaskFunc is the task body. A nil TaskFunc means the slot has no body
	// and can never be enabled (SetEnabled is a no-op for it).
	TaskFunc TaskFunc
	// DesiredPeriodUs is the target period in microseconds, and the aging
	// step unit. Clamped to SchedulerDelayLimitUs by Reschedule/New.
	DesiredPeriodUs uint64
	// StaticPriority is the compile-time priority class.
	StaticPriority Priority
}

// taskState is the scheduler's mutable runtime state for one task slot,
// kept separate from the caller-supplied TaskDescriptor so the task table
// can be described as a plain, borrowed slice per Design Note §9 — the
// scheduler stores indices into it, never pointers.
type taskState struct {
	desc TaskDescriptor

	dynamicPriority       int64
	taskAgeCycles         int64
	lastExecutedAtUs      uint64
	lastSignaledAtUs      uint64
	lastDesiredAt         uint64
	taskLatestDeltaTimeUs int64
	hasExecuted           bool

	stats stats.Accumulator
}

// TaskInfo is the read-only snapshot returned by GetTaskInfo (spec §4.4).
type TaskInfo struct {
	Name                     string
	Enabled                  bool
	DesiredPeriodUs          uint64
	StaticPriority           Priority
	AverageExecutionTimeUs   float64
	MaxExecutionTimeUs       int64
	TotalExecutionTimeUs     int64
	AverageDeltaTimeUs       float64
	MovingAverageCycleTimeUs float64
}
