package eval

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/supportgate/pkg/schema"
)

//go:embed default_suite.yaml
var defaultSuiteYAML []byte

// Case is one labeled query.
type Case struct {
	Query  string       `yaml:"query" toml:"query" json:"query"`
	Intent schema.Label `yaml:"intent" toml:"intent" json:"intent"`
}

// Suite is an ordered set of labeled queries.
type Suite struct {
	Cases []Case `yaml:"cases" toml:"cases" json:"cases"`
}

// DefaultSuite returns the built-in suite.
func DefaultSuite() (*Suite, error) {
	return parseSuite(defaultSuiteYAML, ".yaml")
}

// LoadSuite reads a suite from a .yaml, .yml or .toml file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	suite, err := parseSuite(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

func parseSuite(data []byte, ext string) (*Suite, error) {
	var s Suite
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// normalize canonicalizes labels and rejects empty queries or unknown labels.
func (s *Suite) normalize() error {
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite has no cases")
	}
	for i := range s.Cases {
		c := &s.Cases[i]
		if strings.TrimSpace(c.Query) == "" {
			return fmt.Errorf("case %d: query is empty", i+1)
		}
		label, ok := schema.ParseLabel(string(c.Intent))
		if !ok {
			return fmt.Errorf("case %d: unknown intent %q", i+1, c.Intent)
		}
		c.Intent = label
	}
	return nil
}

// ForIntent returns the cases labeled with label.
func (s *Suite) ForIntent(label schema.Label) *Suite {
	out := &Suite{}
	for _, c := range s.Cases {
		if c.Intent == label {
			out.Cases = append(out.Cases, c)
		}
	}
	return out
}

// Balanced keeps at most n cases per intent, in suite order. n <= 0 keeps all.
func (s *Suite) Balanced(n int) *Suite {
	if n <= 0 {
		return &Suite{Cases: append([]Case(nil), s.Cases...)}
	}
	seen := make(map[schema.Label]int)
	out := &Suite{}
	for _, c := range s.Cases {
		if seen[c.Intent] < n {
			seen[c.Intent]++
			out.Cases = append(out.Cases, c)
		}
	}
	return out
}

// Distribution counts cases per intent.
func (s *Suite) Distribution() map[schema.Label]int {
	out := make(map[schema.Label]int, len(schema.Labels()))
	for _, c := range s.Cases {
		out[c.Intent]++
	}
	return out
}
