// Package engine owns the live policy rule set. It loads rules from the
// state store, accepts create/update/remove operations, answers
// which-rule-matches queries for incoming alarms, and reaps expired
// rules in the background.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"grimm.is/warden/internal/alarm"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
)

// BucketPolicies is the state-store bucket holding encoded rule records.
const BucketPolicies = "policy_rules"

// DefaultReapInterval is how often the expiry reaper scans the rule set.
const DefaultReapInterval = 30 * time.Second

var ErrNotFound = errors.New("rule not found")

// Options configures an Engine. Store is required; everything else has
// a usable default.
type Options struct {
	Store        state.Store
	Matcher      *policy.Matcher
	Hub          *events.Hub
	Metrics      *metrics.Registry
	Clock        clock.Clock
	Logger       *logging.Logger
	ReapInterval time.Duration
}

// Engine is the policy rule service. All exported methods are safe for
// concurrent use.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]*policy.Rule
	maxPID int64

	store   state.Store
	dec     *policy.Decoder
	matcher *policy.Matcher
	hub     *events.Hub
	met     *metrics.Registry
	clk     clock.Clock
	log     *logging.Logger

	reapEvery time.Duration
	started   bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates an engine and ensures its bucket exists. It does not load
// rules; call Load before serving.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("engine")
	}
	if opts.Matcher == nil {
		opts.Matcher = policy.NewMatcher(nil, nil, nil, opts.Clock, opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}

	if err := opts.Store.CreateBucket(BucketPolicies); err != nil && !errors.Is(err, state.ErrBucketExists) {
		return nil, fmt.Errorf("engine: create bucket: %w", err)
	}

	return &Engine{
		rules:     make(map[string]*policy.Rule),
		store:     opts.Store,
		dec:       policy.NewDecoder(opts.Logger, opts.Clock).CountWarnings(opts.Metrics.DecodeWarnings),
		matcher:   opts.Matcher,
		hub:       opts.Hub,
		met:       opts.Metrics,
		clk:       opts.Clock,
		log:       opts.Logger,
		reapEvery: opts.ReapInterval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Load reads every persisted record into memory. Records that fail to
// decode are skipped with a warning so one corrupt entry cannot take
// down the rule set.
func (e *Engine) Load() error {
	entries, err := e.store.List(BucketPolicies)
	if err != nil {
		return fmt.Errorf("engine: list rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string]*policy.Rule, len(entries))
	e.maxPID = 0
	for pid := range entries {
		var flat map[string]string
		if err := e.store.GetJSON(BucketPolicies, pid, &flat); err != nil {
			e.log.Warn("skipping unreadable rule record", "pid", pid, "error", err)
			e.met.DecodeFailures.Inc()
			continue
		}
		r, err := e.dec.Decode(policy.ToRaw(flat))
		if err != nil {
			e.log.Warn("skipping undecodable rule record", "pid", pid, "error", err)
			e.met.DecodeFailures.Inc()
			continue
		}
		if r.PID == "" {
			r.PID = pid
		}
		e.rules[r.PID] = r
		e.notePID(r.PID)
	}

	e.met.RulesLoaded.Set(float64(len(e.rules)))
	e.log.Info("rules loaded", "count", len(e.rules))
	return nil
}

// Put decodes a raw record and stores it. A record without a pid gets
// the next free one. When an enforcement-equivalent rule is already
// stored under the same pid, the stored rule is returned unchanged and
// no event fires.
func (e *Engine) Put(raw map[string]any) (*policy.Rule, bool, error) {
	r, err := e.dec.Decode(raw)
	if err != nil {
		e.met.DecodeFailures.Inc()
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	created := false
	if r.PID == "" {
		r.PID = e.nextPID()
		created = true
	} else if prev, ok := e.rules[r.PID]; ok {
		if policy.Equal(prev, r) {
			return prev, false, nil
		}
	} else {
		created = true
		e.notePID(r.PID)
	}

	if err := e.store.SetJSON(BucketPolicies, r.PID, policy.Encode(r)); err != nil {
		return nil, false, fmt.Errorf("engine: persist rule %s: %w", r.PID, err)
	}
	e.rules[r.PID] = r
	e.met.RulesLoaded.Set(float64(len(e.rules)))

	evt := events.EventPolicyUpdated
	if created {
		evt = events.EventPolicyCreated
	}
	e.emitChange(evt, r)
	e.log.Info("rule stored", "pid", r.PID, "type", string(r.Type), "target", r.Target, "created", created)
	return r, created, nil
}

// Remove deletes a rule from memory and the store.
func (e *Engine) Remove(pid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[pid]
	if !ok {
		return ErrNotFound
	}
	if err := e.store.Delete(BucketPolicies, pid); err != nil {
		return fmt.Errorf("engine: delete rule %s: %w", pid, err)
	}
	delete(e.rules, pid)
	e.met.RulesLoaded.Set(float64(len(e.rules)))
	e.emitChange(events.EventPolicyRemoved, r)
	e.log.Info("rule removed", "pid", pid)
	return nil
}

// Get returns the rule stored under pid.
func (e *Engine) Get(pid string) (*policy.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[pid]
	return r, ok
}

// List returns all rules in pid order.
func (e *Engine) List() []*policy.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*policy.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return pidLess(out[i].PID, out[j].PID) })
	return out
}

// Len returns the number of rules held.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// MatchAlarm evaluates the alarm against every rule and returns the
// winning rule plus all rules that matched. A nil winner means no rule
// applies.
func (e *Engine) MatchAlarm(a *alarm.Alarm) (*policy.Rule, []*policy.Rule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []*policy.Rule
	for _, r := range e.rules {
		if e.matcher.Matches(r, a) {
			matches = append(matches, r)
			e.met.MatchDecisions.WithLabelValues(string(r.Type), "match").Inc()
		} else {
			e.met.MatchDecisions.WithLabelValues(string(r.Type), "miss").Inc()
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	winner := e.selectWinner(matches)
	if e.hub != nil {
		e.hub.EmitPolicyMatched(winner.PID, string(a.Kind), a.DeviceMAC(), len(matches))
	}
	return winner, matches
}

// selectWinner folds the matches down to one rule. Candidates are
// visited in pid order so ties and undefined orderings resolve the same
// way on every run: the lower pid keeps the crown.
func (e *Engine) selectWinner(matches []*policy.Rule) *policy.Rule {
	sort.Slice(matches, func(i, j int) bool { return pidLess(matches[i].PID, matches[j].PID) })

	winner := matches[0]
	for _, cand := range matches[1:] {
		ord := policy.Compare(winner, cand)
		e.met.ConflictResolutions.WithLabelValues(ord.String()).Inc()
		if ord == policy.OrderAfter {
			winner = cand
		}
	}
	return winner
}

// Start launches the expiry reaper. Calling Start twice is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.reapLoop()
}

// Stop halts the reaper and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })
	if started {
		<-e.doneCh
	}
}

func (e *Engine) reapLoop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Reap()
		case <-e.stopCh:
			return
		}
	}
}

// Reap removes every expired rule. It returns the number removed.
func (e *Engine) Reap() int {
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var reaped int
	for pid, r := range e.rules {
		if !r.IsExpired(now) {
			continue
		}
		if err := e.store.Delete(BucketPolicies, pid); err != nil {
			e.log.Warn("failed to delete expired rule", "pid", pid, "error", err)
			continue
		}
		delete(e.rules, pid)
		reaped++
		e.met.RulesExpired.Inc()
		e.emitChange(events.EventPolicyExpired, r)
		e.log.Info("rule expired", "pid", pid, "type", string(r.Type), "target", r.Target)
	}
	if reaped > 0 {
		e.met.RulesLoaded.Set(float64(len(e.rules)))
	}
	return reaped
}

func (e *Engine) emitChange(t events.EventType, r *policy.Rule) {
	if e.hub == nil {
		return
	}
	e.hub.EmitPolicyChange(t, "engine", r.PID, string(r.Type), r.Target, string(r.Action))
}

func (e *Engine) nextPID() string {
	e.maxPID++
	return strconv.FormatInt(e.maxPID, 10)
}

func (e *Engine) notePID(pid string) {
	if n, err := strconv.ParseInt(pid, 10, 64); err == nil && n > e.maxPID {
		e.maxPID = n
	}
}

// pidLess orders pids numerically when both parse as integers, else
// lexically. Assigned pids are numeric; imported ones may not be.
func pidLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
