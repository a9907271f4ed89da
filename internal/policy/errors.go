package policy

import "fmt"

// InvalidRuleError is the only fatal decode failure: the record has no
// usable type, or names the reserved "internet" type. Every other
// malformed field is recovered locally (dropped or defaulted, logged).
type InvalidRuleError struct {
	Type   string // offending type value, empty when absent
	Reason string
}

func (e *InvalidRuleError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid rule: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule type %q: %s", e.Type, e.Reason)
}
