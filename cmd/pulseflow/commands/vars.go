package commands

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/pulseflow/errors"
)

// parseVars turns repeated key=value flags into process variables. Values
// are read as YAML scalars, so 42, 59.5 and true keep their types.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Newf("invalid variable %q, expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		vars[key] = value
	}
	return vars, nil
}
