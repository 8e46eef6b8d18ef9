package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleDefinition is one role's coarse permissions grouped by scope, e.g.
//
//	Admin:
//	  users: [view_user, change_user]
//	  document: [view, change]
type RoleDefinition struct {
	Name   string
	Scopes map[string][]string
}

// LoadRoleDefinitions parses the YAML role file at path. An empty path yields
// no definitions. Roles are returned sorted by name.
func LoadRoleDefinitions(path string) ([]RoleDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role definitions: %w", err)
	}
	return ParseRoleDefinitions(raw)
}

// ParseRoleDefinitions decodes role definitions from YAML bytes.
func ParseRoleDefinitions(raw []byte) ([]RoleDefinition, error) {
	var doc map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode role definitions: %w", err)
	}
	defs := make([]RoleDefinition, 0, len(doc))
	for name, scopes := range doc {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("decode role definitions: empty role name")
		}
		if scopes == nil {
			scopes = map[string][]string{}
		}
		defs = append(defs, RoleDefinition{Name: name, Scopes: scopes})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
