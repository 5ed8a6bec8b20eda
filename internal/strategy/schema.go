package strategy

import (
	"fmt"
	"strings"
)

// ParamType is the expected type of a strategy parameter
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
)

// ParamSpec declares one strategy parameter. Min and Max apply to numeric
// types; OneOf applies to strings.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Min      *float64
	Max      *float64
	OneOf    []string
}

// ConfigSchema is the full parameter declaration of a strategy type
type ConfigSchema []ParamSpec

// ConfigError aggregates every schema violation found in a parameter map
type ConfigError struct {
	StrategyType string
	Problems     []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config for strategy type %q: %s",
		e.StrategyType, strings.Join(e.Problems, "; "))
}

// Validate checks params against the schema, collecting all violations
func (s ConfigSchema) Validate(strategyType string, params map[string]interface{}) error {
	var problems []string

	known := make(map[string]ParamSpec, len(s))
	for _, spec := range s {
		known[spec.Name] = spec
	}

	for name := range params {
		if _, ok := known[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	for _, spec := range s {
		raw, present := params[spec.Name]
		if !present {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", spec.Name))
			}
			continue
		}
		problems = append(problems, spec.check(raw)...)
	}

	if len(problems) > 0 {
		return &ConfigError{StrategyType: strategyType, Problems: problems}
	}
	return nil
}

func (spec ParamSpec) check(raw interface{}) []string {
	var problems []string

	switch spec.Type {
	case ParamInt, ParamFloat:
		value, ok := asFloat(raw)
		if !ok {
			return []string{fmt.Sprintf("parameter %q must be numeric, got %T", spec.Name, raw)}
		}
		if spec.Type == ParamInt && value != float64(int64(value)) {
			problems = append(problems, fmt.Sprintf("parameter %q must be an integer, got %v", spec.Name, raw))
		}
		if spec.Min != nil && value < *spec.Min {
			problems = append(problems, fmt.Sprintf("parameter %q below minimum %v", spec.Name, *spec.Min))
		}
		if spec.Max != nil && value > *spec.Max {
			problems = append(problems, fmt.Sprintf("parameter %q above maximum %v", spec.Name, *spec.Max))
		}

	case ParamString:
		value, ok := raw.(string)
		if !ok {
			return []string{fmt.Sprintf("parameter %q must be a string, got %T", spec.Name, raw)}
		}
		if len(spec.OneOf) > 0 {
			found := false
			for _, allowed := range spec.OneOf {
				if value == allowed {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf("parameter %q must be one of %v, got %q",
					spec.Name, spec.OneOf, value))
			}
		}

	case ParamBool:
		if _, ok := raw.(bool); !ok {
			problems = append(problems, fmt.Sprintf("parameter %q must be a bool, got %T", spec.Name, raw))
		}
	}

	return problems
}

// asFloat normalizes the numeric types a YAML decoder can produce
func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

// IntParam reads an int parameter with a default
func IntParam(params map[string]interface{}, name string, def int) int {
	if raw, ok := params[name]; ok {
		if v, ok := asFloat(raw); ok {
			return int(v)
		}
	}
	return def
}

// FloatParam reads a float parameter with a default
func FloatParam(params map[string]interface{}, name string, def float64) float64 {
	if raw, ok := params[name]; ok {
		if v, ok := asFloat(raw); ok {
			return v
		}
	}
	return def
}

// StringParam reads a string parameter with a default
func StringParam(params map[string]interface{}, name string, def string) string {
	if raw, ok := params[name]; ok {
		if v, ok := raw.(string); ok {
			return v
		}
	}
	return def
}

// BoolParam reads a bool parameter with a default
func BoolParam(params map[string]interface{}, name string, def bool) bool {
	if raw, ok := params[name]; ok {
		if v, ok := raw.(bool); ok {
			return v
		}
	}
	return def
}

// FloatPtr is a convenience for building ParamSpec bounds
func FloatPtr(v float64) *float64 { return &v }
