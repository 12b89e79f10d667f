package merge

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/people-lookup/internal/model"
)

// Priority is the field-resolution table: for each field key, the ordered
// list of backends whose value wins first. Fields not listed fall back to
// Default. The exact per-field precedence between cloud-identity and
// directory data is still under review with the domain owners, which is
// why this is a table instead of hard-coded branches.
type Priority struct {
	Default []model.Backend            `yaml:"default"`
	Fields  map[string][]model.Backend `yaml:"fields"`
}

// DefaultPriority resolves every field as cloud-identity first, then
// directory, then contact-center, except fields only one backend can
// meaningfully own.
func DefaultPriority() Priority {
	return Priority{
		Default: []model.Backend{
			model.BackendCloudIdentity,
			model.BackendDirectory,
			model.BackendContactCenter,
		},
		Fields: map[string][]model.Backend{
			model.FieldAgentID: {model.BackendContactCenter},
			model.FieldQueues:  {model.BackendContactCenter},
			model.FieldSkills:  {model.BackendContactCenter},
		},
	}
}

// LoadPriority reads a priority table from a YAML file, filling omitted
// parts from DefaultPriority.
func LoadPriority(path string) (Priority, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Priority{}, eris.Wrap(err, "merge: read priority table")
	}

	var p Priority
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Priority{}, eris.Wrap(err, "merge: unmarshal priority table")
	}

	def := DefaultPriority()
	if len(p.Default) == 0 {
		p.Default = def.Default
	}
	if p.Fields == nil {
		p.Fields = def.Fields
	}
	return p, nil
}

// OrderFor returns the backend resolution order for a field key.
func (p Priority) OrderFor(field string) []model.Backend {
	if order, ok := p.Fields[field]; ok && len(order) > 0 {
		return order
	}
	return p.Default
}
