// Package metrics exposes the scheduler's per-task and aggregate
// statistics as Prometheus gauges (spec §4.2, §4.4).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TaskInfo is the subset of a task's snapshot the exporter needs. It
// mirrors sched.TaskInfo without importing pkg/sched, keeping the metrics
// package usable by anything that can produce this shape.
type TaskInfo struct {
	Name                     string
	Enabled                  bool
	AverageExecutionTimeUs   float64
	MaxExecutionTimeUs       float64
	TotalExecutionTimeUs     float64
	AverageDeltaTimeUs       float64
	MovingAverageCycleTimeUs float64
}

// Exporter registers the scheduler's Prometheus gauges. The gauges hold
// whatever the last ObserveTask/ObserveSystemLoad/ObserveHostCPU call set;
// a scrape reports those values and does not query the scheduler itself.
type Exporter struct {
	taskExecAvg  *prometheus.GaugeVec
	taskExecMax  *prometheus.GaugeVec
	taskExecTot  *prometheus.GaugeVec
	taskRateHz   *prometheus.GaugeVec
	taskCycleAvg *prometheus.GaugeVec
	taskEnabled  *prometheus.GaugeVec
	systemLoad   prometheus.Gauge
	hostCPU      prometheus.Gauge
}

// NewExporter constructs an Exporter and registers its collectors with
// registry. Passing prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func NewExporter(registry prometheus.Registerer) *Exporter {
	e := &Exporter{
		taskExecAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_exec_avg_microseconds",
			Help: "Moving average execution time per task.",
		}, []string{"task"}),
		taskExecMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_exec_max_microseconds",
			Help: "Maximum observed execution time per task since the last reset.",
		}, []string{"task"}),
		taskExecTot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_exec_total_microseconds",
			Help: "Lifetime accumulated execution time per task.",
		}, []string{"task"}),
		taskRateHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_rate_hz",
			Help: "Derived execution rate per task (1e6 / average delta time).",
		}, []string{"task"}),
		taskCycleAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_cycle_avg_microseconds",
			Help: "IIR-smoothed inter-execution period per task.",
		}, []string{"task"}),
		taskEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_task_enabled",
			Help: "Whether a task is currently present in the ready queue (1) or not (0).",
		}, []string{"task"}),
		systemLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_system_load_percent",
			Help: "Aggregate scheduler load: 100 times the average number of waiting tasks per aging-pass tick.",
		}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_host_cpu_percent",
			Help: "Host CPU utilisation sampled independently of scheduling decisions.",
		}),
	}

	registry.MustRegister(
		e.taskExecAvg, e.taskExecMax, e.taskExecTot,
		e.taskRateHz, e.taskCycleAvg, e.taskEnabled,
		e.systemLoad, e.hostCPU,
	)

	return e
}

// ObserveTask updates the per-task gauges from a task snapshot.
func (e *Exporter) ObserveTask(info TaskInfo) {
	e.taskExecAvg.WithLabelValues(info.Name).Set(info.AverageExecutionTimeUs)
	e.taskExecMax.WithLabelValues(info.Name).Set(info.MaxExecutionTimeUs)
	e.taskExecTot.WithLabelValues(info.Name).Set(info.TotalExecutionTimeUs)
	e.taskCycleAvg.WithLabelValues(info.Name).Set(info.MovingAverageCycleTimeUs)

	rateHz := 0.0
	if info.AverageDeltaTimeUs > 0 {
		rateHz = 1e6 / info.AverageDeltaTimeUs
	}

	e.taskRateHz.WithLabelValues(info.Name).Set(rateHz)

	enabled := 0.0
	if info.Enabled {
		enabled = 1
	}

	e.taskEnabled.WithLabelValues(info.Name).Set(enabled)
}

// ObserveSystemLoad records the aggregate scheduler load percentage.
func (e *Exporter) ObserveSystemLoad(percent float64) {
	e.systemLoad.Set(percent)
}

// ObserveHostCPU records the host CPU utilisation percentage from the
// independent host-load sampler (pkg/hostload).
func (e *Exporter) ObserveHostCPU(percent float64) {
	e.hostCPU.Set(percent)
}
