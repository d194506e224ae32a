// Package pathmap translates filesystem paths between heterogeneous execution
// hosts using a rules file of source/destination prefixes.
package pathmap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps one path prefix to another.
type Rule struct {
	SourcePathFormat string `yaml:"source_path_format,omitempty"` // POSIX or WINDOWS
	SourcePath       string `yaml:"source_path"`
	DestinationPath  string `yaml:"destination_path"`
}

// Rules is an ordered set of path mapping rules. The longest matching source
// prefix wins.
type Rules struct {
	Version string `yaml:"version,omitempty"`
	Rules   []Rule `yaml:"path_mapping_rules"`
}

// Load reads a path mapping rules file. An empty path yields empty rules so
// callers can treat mapping as always available.
func Load(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read path mapping rules: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse path mapping rules %s: %w", path, err)
	}

	for i, r := range rules.Rules {
		if r.SourcePath == "" || r.DestinationPath == "" {
			return nil, fmt.Errorf("path mapping rule %d: source_path and destination_path are required", i)
		}
	}

	// Longest prefix first, so Apply can take the first match.
	sort.SliceStable(rules.Rules, func(i, j int) bool {
		return len(rules.Rules[i].SourcePath) > len(rules.Rules[j].SourcePath)
	})

	return &rules, nil
}

// Apply maps p through the rules. Paths that match no rule are returned
// unchanged.
func (r *Rules) Apply(p string) string {
	for _, rule := range r.Rules {
		if rest, ok := matchPrefix(p, rule.SourcePath); ok {
			if rest == "" {
				return rule.DestinationPath
			}
			return filepath.Join(rule.DestinationPath, rest)
		}
	}
	return p
}

// matchPrefix reports whether p falls under prefix on a path boundary and
// returns the remainder.
func matchPrefix(p, prefix string) (string, bool) {
	p = filepath.ToSlash(p)
	prefix = strings.TrimSuffix(filepath.ToSlash(prefix), "/")

	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return strings.TrimPrefix(p, prefix+"/"), true
	}
	return "", false
}
