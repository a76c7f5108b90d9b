// Package metrics registers Prometheus counters for this module's run
// loop, modeled on the teacher's pkg/orchestrator/metrics.go
// (promauto.NewCounter with a namespace). Since this module has no
// HTTP/network surface, there is no /metrics endpoint: WriteTo dumps the
// default registry to a textfile in the node_exporter textfile-collector
// style instead, so the client library is genuinely exercised.
package metrics

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "swarm_hug"

var (
	SprintsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sprints_started_total",
		Help:      "Number of sprints started.",
	})
	TasksAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_assigned_total",
		Help:      "Number of tasks assigned to agents.",
	})
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Number of tasks completed successfully.",
	})
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Number of tasks that failed (engine error, timeout, or unmergeable).",
	})
	AgentMergesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_merges_succeeded_total",
		Help:      "Number of agent-to-sprint merges that succeeded.",
	})
	AgentMergesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_merges_failed_total",
		Help:      "Number of agent-to-sprint merges that failed.",
	})
	TargetMergesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "target_merges_succeeded_total",
		Help:      "Number of sprint-to-target merges that succeeded.",
	})
	TargetMergesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "target_merges_retried_total",
		Help:      "Number of sprint-to-target merges that required the single automatic retry.",
	})
	TargetMergesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "target_merges_failed_total",
		Help:      "Number of sprint-to-target merges that failed verification after retry.",
	})
	ShutdownKillsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shutdown_kills_issued_total",
		Help:      "Number of process-tree kills issued by shutdown handling.",
	})
	ZombieReaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "zombie_reaps_total",
		Help:      "Number of subprocess reaps performed by the engine supervisor.",
	})
)

// WriteTo encodes the default Prometheus gatherer to path in text exposition
// format, the textfile-collector pattern node_exporter popularized for
// exporting metrics without a scrape endpoint.
func WriteTo(path string) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", path, err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
