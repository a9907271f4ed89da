// Package config provides HCL configuration handling for the appliance
// control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/warden/internal/brand"
)

// Config is the root of the warden.hcl configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional"`

	Environment *Environment `hcl:"environment,block"`
	Logging     *Logging     `hcl:"logging,block"`
	State       *State       `hcl:"state,block"`
	Metrics     *Metrics     `hcl:"metrics,block"`
	TagTypes    []TagType    `hcl:"tag_type,block"`
}

// Environment describes the appliance's own identity and locale,
// consumed by the matcher's self-suppression check and by schedule
// window evaluation.
type Environment struct {
	// Timezone for recurring policy windows, e.g. "America/New_York".
	// Empty means the host's local zone.
	Timezone string `hcl:"timezone,optional"`

	// SelfAddresses are the appliance's own addresses (IPs and MACs).
	SelfAddresses []string `hcl:"self_addresses,optional"`

	location *time.Location
}

// Location returns the configured timezone, resolved by Validate.
func (e *Environment) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.Local
	}
	return e.location
}

// IsOwnAddress reports whether addr is one of the appliance's own
// addresses. MACs are compared case-insensitively, IPs verbatim.
func (e *Environment) IsOwnAddress(addr string) bool {
	if e == nil || addr == "" {
		return false
	}
	for _, a := range e.SelfAddresses {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

// Logging configures the control plane logger.
type Logging struct {
	Level string `hcl:"level,optional"` // debug, info, warn, error
	JSON  bool   `hcl:"json,optional"`
}

// State configures the persistent store.
type State struct {
	Path string `hcl:"path,optional"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `hcl:"enabled,optional"`
	Listen  string `hcl:"listen,optional"` // e.g. "127.0.0.1:9465"
}

// TagType declares a group-tag namespace the matcher understands:
// scope entries carrying Prefix+id match alarms whose AlarmIDField
// contains that id.
type TagType struct {
	Name         string `hcl:"name,label"`
	Prefix       string `hcl:"prefix"`          // e.g. "tag:"
	AlarmIDField string `hcl:"alarm_id_field"`  // e.g. "p.tag.ids"
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		SchemaVersion: "1.0",
		Environment:   &Environment{},
		Logging:       &Logging{Level: "info"},
		State:         &State{Path: brand.DefaultStateDir + "/" + brand.StateFileName},
		Metrics:       &Metrics{},
		TagTypes: []TagType{
			{Name: "group", Prefix: "tag:", AlarmIDField: "p.tag.ids"},
		},
	}
}

// Validate checks the configuration and resolves derived values.
// All problems are collected so the user sees everything at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Environment == nil {
		c.Environment = &Environment{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{Level: "info"}
	}
	if c.State == nil {
		c.State = &State{}
	}
	if c.State.Path == "" {
		c.State.Path = brand.DefaultStateDir + "/" + brand.StateFileName
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}

	if c.Environment.Timezone != "" {
		loc, err := time.LoadLocation(c.Environment.Timezone)
		if err != nil {
			problems = append(problems, fmt.Sprintf("environment: unknown timezone %q", c.Environment.Timezone))
		} else {
			c.Environment.location = loc
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging: unknown level %q", c.Logging.Level))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		problems = append(problems, "metrics: enabled but no listen address")
	}

	seen := make(map[string]bool)
	for _, tt := range c.TagTypes {
		if tt.Prefix == "" {
			problems = append(problems, fmt.Sprintf("tag_type %q: prefix is required", tt.Name))
		}
		if tt.AlarmIDField == "" {
			problems = append(problems, fmt.Sprintf("tag_type %q: alarm_id_field is required", tt.Name))
		}
		if seen[tt.Name] {
			problems = append(problems, fmt.Sprintf("tag_type %q: duplicate", tt.Name))
		}
		seen[tt.Name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
