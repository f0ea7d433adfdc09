package recipient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// YAMLDirectory is a read-only Directory loaded from a file such as:
//
//	persons:
//	  - id: ops-lead
//	    name: Operations Lead
//	    preferred: EMAIL
//	    contacts:
//	      EMAIL: lead@example.org
//	      SMS: "+15550100"
//	groups:
//	  - id: ops
//	    members: [ops-lead, group:field-teams]
//
// A member prefixed with "group:" is a nested group.
type YAMLDirectory struct {
	persons map[string]yamlPerson
	groups  map[string][]Target
}

type yamlFile struct {
	Persons []yamlPerson `yaml:"persons"`
	Groups  []yamlGroup  `yaml:"groups"`
}

type yamlPerson struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Preferred string            `yaml:"preferred"`
	Contacts  map[string]string `yaml:"contacts"`
}

type yamlGroup struct {
	ID      string   `yaml:"id"`
	Members []string `yaml:"members"`
}

func LoadYAMLDirectory(path string) (*YAMLDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading directory file: %w", err)
	}
	return ParseYAMLDirectory(data)
}

func ParseYAMLDirectory(data []byte) (*YAMLDirectory, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing directory: %w", err)
	}

	d := &YAMLDirectory{
		persons: make(map[string]yamlPerson, len(f.Persons)),
		groups:  make(map[string][]Target, len(f.Groups)),
	}
	for _, p := range f.Persons {
		if p.ID == "" {
			return nil, fmt.Errorf("person %q has no id", p.Name)
		}
		if _, dup := d.persons[p.ID]; dup {
			return nil, fmt.Errorf("duplicate person id %q", p.ID)
		}
		contacts := make(map[string]string, len(p.Contacts))
		for ch, addr := range p.Contacts {
			c, err := models.ParseChannel(ch)
			if err != nil {
				return nil, fmt.Errorf("person %q: %w", p.ID, err)
			}
			contacts[string(c)] = addr
		}
		p.Contacts = contacts
		if p.Preferred != "" {
			c, err := models.ParseChannel(p.Preferred)
			if err != nil {
				return nil, fmt.Errorf("person %q: %w", p.ID, err)
			}
			p.Preferred = string(c)
		}
		d.persons[p.ID] = p
	}
	for _, g := range f.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("group with no id")
		}
		members := make([]Target, 0, len(g.Members))
		for _, m := range g.Members {
			if id, ok := strings.CutPrefix(m, "group:"); ok {
				members = append(members, Group(id))
			} else {
				members = append(members, Entity(m))
			}
		}
		d.groups[g.ID] = members
	}
	return d, nil
}

func (d *YAMLDirectory) LookupAddress(ctx context.Context, entityID string, channel models.Channel) (string, bool, error) {
	p, ok := d.persons[entityID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	addr, ok := p.Contacts[string(channel)]
	return addr, ok, nil
}

func (d *YAMLDirectory) PreferredChannel(ctx context.Context, entityID string) (models.Channel, error) {
	p, ok := d.persons[entityID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return models.Channel(p.Preferred), nil
}

func (d *YAMLDirectory) ExpandGroup(ctx context.Context, groupID string) ([]Target, error) {
	members, ok := d.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return append([]Target(nil), members...), nil
}
