package rollback

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Policy selects how a mismatch source triggers rollbacks.
type Policy uint8

const (
	// PolicyCheck compares predicted history against the incoming signal
	// and rolls back only on a real divergence.
	PolicyCheck Policy = iota
	// PolicyAlways rolls back unconditionally whenever the source delivers
	// an update, skipping the comparison. Cheapest, least precise.
	PolicyAlways
	// PolicyDisabled ignores the source entirely.
	PolicyDisabled
)

func (p Policy) String() string {
	switch p {
	case PolicyCheck:
		return "check"
	case PolicyAlways:
		return "always"
	case PolicyDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "check", "":
		return PolicyCheck, nil
	case "always":
		return PolicyAlways, nil
	case "disabled", "off":
		return PolicyDisabled, nil
	default:
		return PolicyCheck, fmt.Errorf("rollback: unknown policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler for config round-trips.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so Policy fields load
// directly from JSON config.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler; yaml.v3 does not consult
// encoding.TextUnmarshaler on its own.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
