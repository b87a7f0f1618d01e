package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
)

// AssignmentDef configures Count static slots of one type and pool.
type AssignmentDef struct {
	Type    string `yaml:"type"`
	Pool    string `yaml:"pool"`
	Count   int    `yaml:"count"`
	Payload string `yaml:"payload"`
}

// AssignmentFile is the on-disk layout of ASSIGNMENT_CONFIG.
type AssignmentFile struct {
	Assignments     []AssignmentDef      `yaml:"assignments"`
	ExcludeDefaults []string             `yaml:"exclude_defaults"`
	Policy          map[string]node.Rule `yaml:"policy"`
}

// LoadAssignments reads the assignment file. A missing count means one slot.
func LoadAssignments(path string) (*AssignmentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assignment file: %w", err)
	}

	var f AssignmentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse assignment file: %w", err)
	}

	for i := range f.Assignments {
		if f.Assignments[i].Type == "" {
			return nil, fmt.Errorf("assignments[%d].type is required", i)
		}
		if f.Assignments[i].Count == 0 {
			f.Assignments[i].Count = 1
		}
	}
	return &f, nil
}

// Excluded merges file and environment exclusions into a type set.
func Excluded(names ...[]string) (map[assignment.Type]bool, error) {
	out := make(map[assignment.Type]bool)
	for _, list := range names {
		for _, name := range list {
			t, err := assignment.ParseName(name)
			if err != nil {
				return nil, fmt.Errorf("excluded types: %w", err)
			}
			out[t] = true
		}
	}
	return out, nil
}

// PolicyOverrides converts the file's policy section to node types.
func (f *AssignmentFile) PolicyOverrides() (map[node.Type]node.Rule, error) {
	out := make(map[node.Type]node.Rule, len(f.Policy))
	for name, rule := range f.Policy {
		t, err := node.ParseName(name)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		if t == node.TypeDomainServer {
			return nil, fmt.Errorf("policy: %s cannot be admitted", t)
		}
		out[t] = rule
	}
	return out, nil
}
