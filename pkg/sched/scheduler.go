// Package sched implements the scheduling engine: the ready queue
// consumer, the dynamic-priority aging algorithm, the real-time deadline
// check, the slack-aware admission decision, and the per-task execution
// statistics (spec §1, §4).
package sched

import (
	"fmt"

	"go.uber.org/zap"

	"taskscheduler/pkg/clock"
	"taskscheduler/pkg/queue"
	"taskscheduler/pkg/stats"
)

// TaskNone and TaskSelf are the sentinel identifiers recognized by the
// control surface (spec §6). They are negative, so they never collide with
// an index into the task table.
const (
	TaskNone = TaskID(-1)
	TaskSelf = TaskID(-2)
)

// Sink is the diagnostics surface PrintTasks writes to: a byte-oriented
// print/println collaborator (spec §6). Concrete sinks (e.g. a circuit
// breaker guarded writer) live in pkg/diagsink; this interface is defined
// locally to keep the scheduling core decoupled from any particular sink
// implementation.
type Sink interface {
	Print(line string)
	Println(line string)
}

// Scheduler owns the ready queue, task table, and statistics for one
// control loop. It is not safe for concurrent use without external
// synchronization — per the spec's concurrency model (§5), an ISR-exposed
// caller must serialize mutating calls (Tick, SetEnabled, Reschedule)
// itself, e.g. with a mutex (see cmd/schedd).
type Scheduler struct {
	tasks      []taskState
	queue      *queue.Ready
	realtimeID TaskID
	current    TaskID

	statsEnabled bool
	checkStats   map[string]*stats.Accumulator

	systemLoad stats.SystemLoad

	clock  clock.Source
	logger *zap.Logger
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithStatistics toggles the statistics engine. Disabled by default mirrors
// an embedded build that compiles out statistics to save RAM (spec §6
// configuration surface); the cost when enabled is "a handful of branches
// per tick" (Design Note §9).
func WithStatistics(enabled bool) Option {
	return func(s *Scheduler) { s.statsEnabled = enabled }
}

// WithLogger attaches a zap logger for tick-level diagnostics: Phase C logs
// each rejected admission at Debug level. Budget overruns and starvation
// are not logged. A nil logger (the default) disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Scheduler over the given task table. realtimeID selects
// the single real-time task (conventionally TASK_MAIN), or TaskNone if the
// deployment has none. The task table's length is the ready queue's fixed
// capacity N (spec §3 invariant 2).
func New(clk clock.Source, tasks []TaskDescriptor, realtimeID TaskID, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:      make([]taskState, len(tasks)),
		realtimeID: realtimeID,
		current:    TaskNone,
		checkStats: make(map[string]*stats.Accumulator),
		clock:      clk,
	}

	for i, desc := range tasks {
		if desc.DesiredPeriodUs < SchedulerDelayLimitUs {
			desc.DesiredPeriodUs = SchedulerDelayLimitUs
		}

		s.tasks[i] = taskState{desc: desc}
	}

	s.queue = queue.New(len(tasks), func(id int) int {
		return int(s.tasks[id].desc.StaticPriority)
	})

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// resolveID maps the control-surface TaskSelf sentinel to the currently
// executing task and validates bounds; it reports ok=false for anything
// the spec says must be silently ignored (§7): TaskNone, an out-of-range
// id, or TaskSelf with no task currently executing.
func (s *Scheduler) resolveID(id TaskID) (TaskID, bool) {
	switch {
	case id == TaskSelf:
		if s.current == TaskNone {
			return TaskNone, false
		}

		return s.current, true
	case id < 0 || int(id) >= len(s.tasks):
		return TaskNone, false
	default:
		return id, true
	}
}

// SetEnabled adds or removes a task from the ready queue (spec §4.4).
// Enabling a task with no body, or any call with an invalid id, is silently ignored
// (spec §7).
func (s *Scheduler) SetEnabled(id TaskID, on bool) {
	resolved, ok := s.resolveID(id)
	if !ok {
		return
	}

	if on {
		if s.tasks[resolved].desc.TaskFunc == nil {
			return
		}

		s.queue.Add(int(resolved))

		return
	}

	s.queue.Remove(int(resolved))
}

// Reschedule sets a task's desired period, clamped to SchedulerDelayLimitUs
// (spec invariant 4). TaskSelf targets the currently executing task.
func (s *Scheduler) Reschedule(id TaskID, newPeriodUs uint64) {
	resolved, ok := s.resolveID(id)
	if !ok {
		return
	}

	if newPeriodUs < SchedulerDelayLimitUs {
		newPeriodUs = SchedulerDelayLimitUs
	}

	s.tasks[resolved].desc.DesiredPeriodUs = newPeriodUs
}

// GetTaskInfo snapshots a task's enablement, period, priority, name, and
// statistics (spec §4.4). The zero value is returned for an invalid id.
func (s *Scheduler) GetTaskInfo(id TaskID) TaskInfo {
	resolved, ok := s.resolveID(id)
	if !ok {
		return TaskInfo{}
	}

	t := &s.tasks[resolved]

	return TaskInfo{
		Name:                     t.desc.Name,
		Enabled:                  s.queue.Contains(int(resolved)),
		DesiredPeriodUs:          t.desc.DesiredPeriodUs,
		StaticPriority:           t.desc.StaticPriority,
		AverageExecutionTimeUs:   t.stats.AverageExecutionTimeUs(),
		MaxExecutionTimeUs:       t.stats.MaxExecutionTimeUs(),
		TotalExecutionTimeUs:     t.stats.TotalExecutionTimeUs(),
		AverageDeltaTimeUs:       t.stats.AverageDeltaTimeUs(),
		MovingAverageCycleTimeUs: t.stats.MovingAverageCycleTimeUs(),
	}
}

// ResetTaskMaxExecutionTime zeroes a task's running maximum execution time.
// An invalid id is silently ignored (spec §7).
func (s *Scheduler) ResetTaskMaxExecutionTime(id TaskID) {
	resolved, ok := s.resolveID(id)
	if !ok {
		return
	}

	s.tasks[resolved].stats.ResetMax()
}

// CurrentTask returns the task currently executing, or TaskNone outside a
// task body (spec §5: "currentTask is valid only during a task body").
func (s *Scheduler) CurrentTask() TaskID {
	return s.current
}

// Snapshot returns a TaskInfo for every task slot, in table order, so a
// control surface can enumerate tasks without reaching into scheduler
// internals.
func (s *Scheduler) Snapshot() []TaskInfo {
	infos := make([]TaskInfo, len(s.tasks))

	for i := range s.tasks {
		infos[i] = s.GetTaskInfo(TaskID(i))
	}

	return infos
}

// SystemLoadPercent returns and resets the aggregate system-load
// percentage (spec §4.2).
func (s *Scheduler) SystemLoadPercent() float64 {
	return s.systemLoad.AverageSystemLoadPercent()
}

// getPeriodCalculationBasis returns the reference point a task's next
// deadline is computed from: lastDesiredAt for the real-time task (so its
// phase never drifts under jitter), lastExecutedAtUs for everything else
// (spec §4.3).
func (t *taskState) getPeriodCalculationBasis(isRealtime bool) uint64 {
	if isRealtime {
		return t.lastDesiredAt
	}

	return t.lastExecutedAtUs
}

// Tick runs one scheduling pass: Phase A (real-time deadline), Phase B
// (aging), Phase C (slack-aware admission) — in that order, per spec §4.3.
func (s *Scheduler) Tick() {
	now := s.clock.NowUs()

	realtimeRan, delay := s.runPhaseA(now)

	if !s.shouldRunPhaseB(realtimeRan, delay) {
		return
	}

	candidateID, waiting := s.runPhaseB(now)
	s.systemLoad.Observe(waiting)

	if candidateID == TaskNone {
		return
	}

	s.runPhaseC(now, delay, realtimeRan, candidateID)
}

// shouldRunPhaseB implements the spec's guard: proceed only if the
// real-time task ran this tick, or the remaining slack exceeds
// GuardIntervalUs.
func (s *Scheduler) shouldRunPhaseB(realtimeRan bool, delay int64) bool {
	return realtimeRan || delay > GuardIntervalUs
}

// runPhaseA is the real-time deadline check (spec §4.3 Phase A). It
// returns whether the real-time task ran, and the slack remaining until
// its next deadline (undefined but harmlessly large if there is no
// real-time task configured).
func (s *Scheduler) runPhaseA(now uint64) (bool, int64) {
	if s.realtimeID == TaskNone {
		return false, maxSlack
	}

	rt := &s.tasks[s.realtimeID]
	basis := rt.getPeriodCalculationBasis(true)
	deadline := basis + rt.desc.DesiredPeriodUs
	delay := clock.Diff(deadline, now)

	if delay <= 0 {
		s.executeTask(s.realtimeID, now)

		return true, delay
	}

	return false, delay
}

// maxSlack stands in for "no real-time deadline to protect" when the
// deployment has no real-time task.
const maxSlack = int64(1) << 62

// runPhaseB is the aging pass (spec §4.3 Phase B). It returns the selected
// candidate (TaskNone if none is ready) and the number of tasks observed
// waiting, for the system-load sampler.
func (s *Scheduler) runPhaseB(now uint64) (TaskID, int) {
	candidateID := TaskNone
	var candidatePriority int64

	waiting := 0

	s.queue.Iterate(func(rawID int) bool {
		id := TaskID(rawID)
		t := &s.tasks[id]

		if t.desc.StaticPriority == REALTIME {
			return true
		}

		if s.ageTask(t, now) {
			waiting++

			if candidateID == TaskNone || t.dynamicPriority > candidatePriority {
				candidateID = id
				candidatePriority = t.dynamicPriority
			}
		}

		return true
	})

	return candidateID, waiting
}

// ageTask applies the aging algorithm to a single non-real-time task and
// reports whether it is now waiting (dynamicPriority > 0).
func (s *Scheduler) ageTask(t *taskState, now uint64) bool {
	if t.desc.CheckFunc != nil {
		return s.ageEventDriven(t, now)
	}

	return s.ageTimeDriven(t, now)
}

// ageEventDriven implements the spec's event-driven aging branch. The
// checkFunc-returns-false case is implemented literally per the spec's
// Open Question (§9): dynamicPriority is left exactly as it was (which, on
// this path, is always already 0 — checkFunc is only invoked while
// dynamicPriority is 0).
func (s *Scheduler) ageEventDriven(t *taskState, now uint64) bool {
	if t.dynamicPriority > 0 {
		t.taskAgeCycles = 1 + clock.Diff(now, t.lastSignaledAtUs)/int64(t.desc.DesiredPeriodUs)
		t.dynamicPriority = 1 + int64(t.desc.StaticPriority)*t.taskAgeCycles

		return true
	}

	signaled := s.invokeCheck(t, now)
	if signaled {
		t.lastSignaledAtUs = now
		t.taskAgeCycles = 1
		t.dynamicPriority = 1 + int64(t.desc.StaticPriority)

		return true
	}

	t.taskAgeCycles = 0

	return false
}

// invokeCheck calls the task's checkFunc, timing it into the per-check-name
// aggregate accumulator when statistics are enabled.
func (s *Scheduler) invokeCheck(t *taskState, now uint64) bool {
	sinceLastExec := clock.Diff(now, t.lastExecutedAtUs)

	if !s.statsEnabled {
		return t.desc.CheckFunc(now, sinceLastExec)
	}

	start := s.clock.NowUs()
	result := t.desc.CheckFunc(now, sinceLastExec)
	execUs := clock.Diff(s.clock.NowUs(), start)

	name := t.desc.CheckName
	if name == "" {
		name = t.desc.Name
	}

	acc, ok := s.checkStats[name]
	if !ok {
		acc = new(stats.Accumulator)
		s.checkStats[name] = acc
	}

	acc.RecordExecution(execUs, 0)

	return result
}

// ageTimeDriven implements the spec's time-driven aging branch.
func (s *Scheduler) ageTimeDriven(t *taskState, now uint64) bool {
	basis := t.getPeriodCalculationBasis(false)
	age := clock.Diff(now, basis) / int64(t.desc.DesiredPeriodUs)

	if age <= 0 {
		return t.dynamicPriority > 0
	}

	t.taskAgeCycles = age
	t.dynamicPriority = 1 + int64(t.desc.StaticPriority)*age

	return true
}

// runPhaseC is the slack-aware admission decision (spec §4.3 Phase C).
func (s *Scheduler) runPhaseC(now uint64, delay int64, realtimeRan bool, candidateID TaskID) {
	nowAfterAB := s.clock.NowUs()
	elapsed := clock.Diff(nowAfterAB, now)

	cand := &s.tasks[candidateID]

	var required int64
	if s.statsEnabled {
		required = int64(cand.stats.AverageExecutionTimeUs()) + TaskAverageExecutePaddingUs
	} else {
		required = TaskAverageExecuteFallbackUs
	}

	required += elapsed

	if realtimeRan || required < delay {
		s.executeTask(candidateID, nowAfterAB)

		return
	}

	if s.logger != nil {
		s.logger.Debug("admission rejected: candidate does not fit remaining slack",
			zap.String("task", cand.desc.Name),
			zap.Int64("requiredUs", required),
			zap.Int64("delayUs", delay),
		)
	}
}

// executeTask performs the task-body invocation (spec §4.3 "Task execution
// (executeTask)"): bookkeeping, then the call, then statistics.
func (s *Scheduler) executeTask(id TaskID, now uint64) {
	t := &s.tasks[id]

	s.current = id

	if t.hasExecuted {
		t.taskLatestDeltaTimeUs = clock.Diff(now, t.lastExecutedAtUs)
	} else {
		t.taskLatestDeltaTimeUs = 0
	}

	previousExecutedAt := t.lastExecutedAtUs
	t.lastExecutedAtUs = now
	t.advanceDesiredPhase(now)
	t.dynamicPriority = 0

	if !s.statsEnabled {
		t.desc.TaskFunc(now)
		t.hasExecuted = true
		s.current = TaskNone

		return
	}

	start := s.clock.NowUs()
	t.desc.TaskFunc(now)
	execUs := clock.Diff(s.clock.NowUs(), start)

	t.stats.RecordExecution(execUs, t.taskLatestDeltaTimeUs)

	if t.hasExecuted {
		t.stats.RecordCycleTime(float64(clock.Diff(now, previousExecutedAt)))
	}

	t.hasExecuted = true
	s.current = TaskNone
}

// advanceDesiredPhase advances lastDesiredAt by the largest whole-period
// multiple not exceeding now - lastDesiredAt, so jitter is absorbed into
// the next deadline rather than re-accumulated (spec invariant 5, Design
// Note "Phase lock").
func (t *taskState) advanceDesiredPhase(now uint64) {
	elapsed := clock.Diff(now, t.lastDesiredAt)
	if elapsed <= 0 {
		return
	}

	period := int64(t.desc.DesiredPeriodUs)
	steps := elapsed / period

	t.lastDesiredAt += uint64(steps) * t.desc.DesiredPeriodUs
}

// PrintTasks emits the formatted diagnostics report (spec §4.4): per
// enabled task, its rate, execution time, load, and lifetime total,
// followed by check-function totals and the aggregate system load line.
// Each line is truncated by the sink at its own buffer size (spec §7); this
// method only formats and resets per-task max counters as a side effect.
func (s *Scheduler) PrintTasks(sink Sink) {
	s.queue.Iterate(func(rawID int) bool {
		id := TaskID(rawID)
		t := &s.tasks[id]

		rateHz := 0.0
		if avgDelta := t.stats.AverageDeltaTimeUs(); avgDelta > 0 {
			rateHz = 1e6 / avgDelta
		}

		avgExec := t.stats.AverageExecutionTimeUs()
		maxExec := t.stats.MaxExecutionTimeUs()
		avgLoadPermille := rateHz * avgExec / 1000
		maxLoadPermille := rateHz * float64(maxExec) / 1000

		sink.Println(fmt.Sprintf(
			"%-16s rate=%7.2fHz exec(avg/max)=%6.1f/%-6dus load(avg/max)=%5.1f%%/%5.1f%% total=%dus",
			t.desc.Name, rateHz, avgExec, maxExec, avgLoadPermille/10, maxLoadPermille/10,
			t.stats.TotalExecutionTimeUs(),
		))

		t.stats.ResetMax()

		return true
	})

	for name, acc := range s.checkStats {
		sink.Println(fmt.Sprintf("check:%-16s total=%dus", name, acc.TotalExecutionTimeUs()))
	}

	sink.Println(fmt.Sprintf("system load: %.1f%%", s.systemLoad.AverageSystemLoadPercent()))
}

// String renders a Priority using the spec's named constants where
// applicable.
func (p Priority) String() string {
	switch p {
	case REALTIME:
		return "REALTIME"
	case IDLE:
		return "IDLE"
	case LOW:
		return "LOW"
	case MEDIUM:
		return "MEDIUM"
	case MediumHigh:
		return "MEDIUM_HIGH"
	case HIGH:
		return "HIGH"
	case MAX:
		return "MAX"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}
