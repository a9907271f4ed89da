package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	yaml "gopkg.in/yaml.v2"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/engine"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
)

// ruleView is the display projection of a rule for show output.
type ruleView struct {
	PID       string   `yaml:"pid"`
	Type      string   `yaml:"type"`
	Target    string   `yaml:"target"`
	Action    string   `yaml:"action"`
	Direction string   `yaml:"direction"`
	Seq       int      `yaml:"seq"`
	Scope     []string `yaml:"scope,omitempty"`
	GUIDs     []string `yaml:"guids,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	Disabled  bool     `yaml:"disabled,omitempty"`
	Expires   string   `yaml:"expires,omitempty"`
	Schedule  string   `yaml:"schedule,omitempty"`
	NextOpen  string   `yaml:"next_open,omitempty"`
}

// RunShow prints the stored policy rules. format is "table" or "yaml".
func RunShow(configFile, format string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.State.Path); err != nil {
		fmt.Printf("No state database at %s\n", cfg.State.Path)
		return nil
	}

	store, err := state.Open(state.DefaultOptions(cfg.State.Path))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	rules, err := loadRules(store)
	if err != nil {
		return err
	}
	views := buildViews(rules, time.Now())

	switch format {
	case "yaml":
		out, err := yaml.Marshal(views)
		if err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		os.Stdout.Write(out)
	case "", "table":
		printTable(views)
	default:
		return fmt.Errorf("unknown format %q (want table or yaml)", format)
	}
	return nil
}

func loadRules(store state.Store) ([]*policy.Rule, error) {
	entries, err := store.List(engine.BucketPolicies)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var rules []*policy.Rule
	for pid := range entries {
		var flat map[string]string
		if err := store.GetJSON(engine.BucketPolicies, pid, &flat); err != nil {
			continue
		}
		r, err := policy.Decode(policy.ToRaw(flat))
		if err != nil {
			continue
		}
		if r.PID == "" {
			r.PID = pid
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return viewPIDLess(rules[i].PID, rules[j].PID) })
	return rules, nil
}

// buildViews projects rules into display form, resolving derived values
// like the effective seq and remaining lifetime.
func buildViews(rules []*policy.Rule, now time.Time) []ruleView {
	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		v := ruleView{
			PID:       r.PID,
			Type:      string(r.Type),
			Target:    r.Target,
			Action:    string(r.Action),
			Direction: string(r.Direction),
			Seq:       r.SeqValue(),
			Scope:     r.Scope,
			GUIDs:     r.GUIDs,
			Tags:      r.Tags,
			Disabled:  r.Disabled,
		}
		if et, ok := r.ExpireTime(); ok {
			if r.IsExpired(now) {
				v.Expires = "expired"
			} else {
				v.Expires = et.Sub(now).Round(time.Second).String()
			}
		}
		if r.IsScheduled() {
			v.Schedule = fmt.Sprintf("%s for %s", r.CronTime, time.Duration(r.Duration*float64(time.Second)).String())
			if next, ok := r.NextWindow(now, now.Location()); ok {
				v.NextOpen = next.Format(time.RFC3339)
			}
		}
		views = append(views, v)
	}
	return views
}

func printTable(views []ruleView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PID\tTYPE\tTARGET\tACTION\tDIR\tSEQ\tSCOPE\tEXPIRES\tSCHEDULE")
	for _, v := range views {
		scope := "-"
		n := len(v.Scope) + len(v.GUIDs) + len(v.Tags)
		if n > 0 {
			parts := make([]string, 0, 3)
			if len(v.Scope) > 0 {
				parts = append(parts, fmt.Sprintf("%d dev", len(v.Scope)))
			}
			if len(v.GUIDs) > 0 {
				parts = append(parts, fmt.Sprintf("%d id", len(v.GUIDs)))
			}
			if len(v.Tags) > 0 {
				parts = append(parts, fmt.Sprintf("%d tag", len(v.Tags)))
			}
			scope = strings.Join(parts, ",")
		}
		expires := v.Expires
		if expires == "" {
			expires = "-"
		}
		schedule := v.Schedule
		if schedule == "" {
			schedule = "-"
		}
		action := v.Action
		if v.Disabled {
			action += " (disabled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			v.PID, v.Type, v.Target, action, v.Direction, v.Seq, scope, expires, schedule)
	}
	w.Flush()
}

func viewPIDLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
