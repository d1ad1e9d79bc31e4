package conversation

import "github.com/prometheus/client_golang/prometheus"

// metrics is the Prometheus surface for one Manager: counters for resume
// attempts, outcomes reached and bad replays, and a gauge for instances currently active
// per conversation name. It re-expresses the registry-of-counters shape the
// teacher hand-rolls for webhook delivery as real Prometheus collectors.
type metrics struct {
	instancesActive  *prometheus.GaugeVec
	resumes          *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	badReplayErrors  prometheus.Counter
}

func newMetrics(namespace string) *metrics {
	m := &metrics{
		instancesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_active",
			Help:      "Number of stored conversation instances, by conversation name.",
		}, []string{"conversation"}),
		resumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumes_total",
			Help:      "Number of resume attempts against stored instances, by conversation name.",
		}, []string{"conversation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Number of resume outcomes, by conversation name and outcome tag.",
		}, []string{"conversation", "outcome"}),
		badReplayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_replay_errors_total",
			Help:      "Number of replays that aborted because a recorded collation key no longer matched.",
		}),
	}
	return m
}

// Register adds every collector to reg. Call once per Manager; a Manager
// constructed without a registry simply never has its metrics scraped.
func (m *metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.instancesActive, m.resumes, m.outcomes, m.badReplayErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
