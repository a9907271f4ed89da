package cmd

import (
	"fmt"
	"os"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/engine"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
)

// RunCheck validates the configuration file and, when the state
// database exists, every stored policy record.
func RunCheck(configFile string, verbose bool) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid!")
	fmt.Printf("Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Printf("Timezone: %s\n", cfg.Environment.Location())
	fmt.Printf("Self addresses: %d\n", len(cfg.Environment.SelfAddresses))
	fmt.Printf("Tag types: %d\n", len(cfg.TagTypes))

	if _, err := os.Stat(cfg.State.Path); err != nil {
		fmt.Printf("State: no database at %s yet\n", cfg.State.Path)
		return nil
	}

	store, err := state.Open(state.DefaultOptions(cfg.State.Path))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	good, bad, err := checkRules(store, verbose)
	if err != nil {
		return err
	}
	fmt.Printf("Policy rules: %d valid, %d invalid\n", good, bad)
	if bad > 0 {
		return fmt.Errorf("%d stored rule(s) failed to decode", bad)
	}
	return nil
}

// checkRules decodes every stored rule record and reports counts.
func checkRules(store state.Store, verbose bool) (good, bad int, err error) {
	entries, err := store.List(engine.BucketPolicies)
	if err != nil {
		if err == state.ErrBucketMissing {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to list rules: %w", err)
	}

	for pid := range entries {
		var flat map[string]string
		if err := store.GetJSON(engine.BucketPolicies, pid, &flat); err != nil {
			bad++
			fmt.Printf("  rule %s: unreadable record: %v\n", pid, err)
			continue
		}
		r, err := policy.Decode(policy.ToRaw(flat))
		if err != nil {
			bad++
			fmt.Printf("  rule %s: %v\n", pid, err)
			continue
		}
		good++
		if verbose {
			fmt.Printf("  rule %s: %s %s %s ok\n", pid, r.Type, r.Target, r.Action)
		}
	}
	return good, bad, nil
}
