// Package metrics exposes Prometheus instrumentation for the policy
// engine: rule inventory, decode health, and match decision counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all policy engine metrics.
type Registry struct {
	// Rule inventory
	RulesLoaded prometheus.Gauge

	// Decode health
	DecodeWarnings prometheus.Counter
	DecodeFailures prometheus.Counter

	// Match decisions, labeled by rule type and outcome ("match"/"miss")
	MatchDecisions *prometheus.CounterVec

	// Conflict resolutions between overlapping rules, labeled by ordering
	// result ("before", "after", "equal", "undefined")
	ConflictResolutions *prometheus.CounterVec

	// Rules removed by the expiry reaper
	RulesExpired prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.RulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policy_rules_loaded",
		Help: "Number of policy rules currently held by the engine",
	})

	r.DecodeWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policy_decode_warnings_total",
		Help: "Malformed fields dropped or defaulted during rule decoding",
	})

	r.DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policy_decode_failures_total",
		Help: "Records rejected during rule decoding (missing or forbidden type)",
	})

	r.MatchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_match_decisions_total",
		Help: "Rule-versus-alarm match evaluations",
	}, []string{"rule_type", "outcome"})

	r.ConflictResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_conflict_resolutions_total",
		Help: "Pairwise orderings computed while selecting a winning rule",
	}, []string{"result"})

	r.RulesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policy_rules_expired_total",
		Help: "Rules removed by the expiry reaper",
	})

	return r
}
