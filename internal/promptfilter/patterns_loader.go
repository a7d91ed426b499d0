package promptfilter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternsFile is the on-disk shape of an exclusion pattern list.
type PatternsFile struct {
	Patterns []string `yaml:"patterns"`
}

// LoadPatterns reads exclusion patterns from a YAML file.
func LoadPatterns(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exclusion patterns file %s: %w", path, err)
	}
	var file PatternsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse exclusion patterns file %s: %w", path, err)
	}
	return file.Patterns, nil
}
