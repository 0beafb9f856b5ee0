package approval

import (
	"fmt"
	"io"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

// WorkspaceObjectType is the object type of workspace permission lookups.
const WorkspaceObjectType = "workspace"

// RuleGenerator synthesizes a virtual rule for one changed entity.
type RuleGenerator func(entityID ids.EntityID, kind graph.EntityKind, workspace ids.WorkspacePk) Rule

type policyRule struct {
	pattern  string
	generate RuleGenerator
}

// Policy maps entity kinds to virtual-rule generators. Kind patterns use
// doublestar syntax, so "SchemaVariant" matches one kind and "*" every kind.
// Virtual rules only apply to entities without explicit definitions.
type Policy struct {
	rules []policyRule
}

// NewPolicy returns an empty policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// DefaultPolicy requires one holder of the workspace "approve" permission
// for every schema variant change.
func DefaultPolicy() *Policy {
	p := NewPolicy()
	p.rules = append(p.rules, policyRule{
		pattern:  string(graph.KindSchemaVariant),
		generate: WorkspacePermission(1, "approve"),
	})
	return p
}

// Add registers a generator for the kinds matching pattern.
func (p *Policy) Add(pattern string, generate RuleGenerator) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: bad kind pattern %q", ErrInvalidPolicy, pattern)
	}
	p.rules = append(p.rules, policyRule{pattern: pattern, generate: generate})
	return nil
}

// Len returns the number of registered rules.
func (p *Policy) Len() int { return len(p.rules) }

// VirtualRules returns the rules synthesized for an entity, in registration
// order.
func (p *Policy) VirtualRules(entityID ids.EntityID, kind graph.EntityKind, workspace ids.WorkspacePk) []Rule {
	var rules []Rule
	for _, r := range p.rules {
		ok, err := doublestar.Match(r.pattern, string(kind))
		if err != nil || !ok {
			continue
		}
		rules = append(rules, r.generate(entityID, kind, workspace))
	}
	return rules
}

// WorkspacePermission generates a rule requiring minimum holders of a
// permission on the workspace.
func WorkspacePermission(minimum int, permission string) RuleGenerator {
	return func(entityID ids.EntityID, kind graph.EntityKind, workspace ids.WorkspacePk) Rule {
		return Rule{
			EntityID:   entityID,
			EntityKind: kind,
			Minimum:    minimum,
			Approvers:  []Approver{PermissionLookupApprover(WorkspaceObjectType, workspace.String(), permission)},
		}
	}
}

type policyFile struct {
	Rules []policyFileRule `yaml:"rules"`
}

type policyFileRule struct {
	Kinds     []string             `yaml:"kinds"`
	Minimum   int                  `yaml:"minimum"`
	Approvers []policyFileApprover `yaml:"approvers"`
}

type policyFileApprover struct {
	User       string `yaml:"user"`
	ObjectType string `yaml:"objectType"`
	ObjectID   string `yaml:"objectId"`
	Permission string `yaml:"permission"`
}

// LoadPolicy reads a policy from YAML:
//
//	rules:
//	  - kinds: ["SchemaVariant", "Func"]
//	    minimum: 1
//	    approvers:
//	      - permission: approve        # objectType defaults to workspace
//	      - user: 0190f5c2-...         # a single user
//
// A workspace lookup without objectId targets the workspace of the change
// set being reviewed. The file replaces the default policy entirely.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	p := NewPolicy()
	for i, fr := range f.Rules {
		if fr.Minimum < 0 {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidPolicy, i, ErrInvalidMinimum)
		}
		if len(fr.Kinds) == 0 {
			return nil, fmt.Errorf("%w: rule %d has no kinds", ErrInvalidPolicy, i)
		}
		gen, err := fileRuleGenerator(fr)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidPolicy, i, err)
		}
		for _, kind := range fr.Kinds {
			if err := p.Add(kind, gen); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func fileRuleGenerator(fr policyFileRule) (RuleGenerator, error) {
	type template struct {
		approver       Approver
		workspaceBound bool
	}
	templates := make([]template, 0, len(fr.Approvers))

	for _, fa := range fr.Approvers {
		switch {
		case fa.User != "" && fa.Permission != "":
			return nil, fmt.Errorf("approver sets both user and permission")
		case fa.User != "":
			user, err := ids.Parse(fa.User)
			if err != nil {
				return nil, err
			}
			templates = append(templates, template{approver: UserApprover(user)})
		case fa.Permission != "":
			objectType := fa.ObjectType
			if objectType == "" {
				objectType = WorkspaceObjectType
			}
			templates = append(templates, template{
				approver:       PermissionLookupApprover(objectType, fa.ObjectID, fa.Permission),
				workspaceBound: objectType == WorkspaceObjectType && fa.ObjectID == "",
			})
		default:
			return nil, fmt.Errorf("approver needs user or permission")
		}
	}

	minimum := fr.Minimum
	return func(entityID ids.EntityID, kind graph.EntityKind, workspace ids.WorkspacePk) Rule {
		approvers := make([]Approver, 0, len(templates))
		for _, t := range templates {
			a := t.approver
			if a.Lookup != nil {
				lookup := *a.Lookup
				if t.workspaceBound {
					lookup.ObjectID = workspace.String()
				}
				a.Lookup = &lookup
			}
			approvers = append(approvers, a)
		}
		return Rule{EntityID: entityID, EntityKind: kind, Minimum: minimum, Approvers: approvers}
	}, nil
}
