package checker

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EFForg/availability-backend/models"
)

// RuleAction is what a matching rule does to the status.
type RuleAction string

// Possible values for RuleAction.
const (
	ActionUp      RuleAction = "UP"
	ActionDown    RuleAction = "DOWN"
	ActionInvalid RuleAction = "INVALID"
	ActionNoop    RuleAction = "NOOP"
)

// Rule rewrites the status of subjects matching Pattern. When Status is set
// the rule only matches records the lookup chain gave that status.
type Rule struct {
	Pattern string        `yaml:"pattern"`
	Status  models.Status `yaml:"status,omitempty"`
	Action  RuleAction    `yaml:"action"`

	re *regexp.Regexp
}

// ExtraRules is an ordered rule list. The first matching rule wins.
type ExtraRules struct {
	rules []Rule
}

// defaultRules cover names that cannot be live on the public internet even
// when a local resolver answers for them.
var defaultRules = []Rule{
	{Pattern: `(^|\.)(test|example|invalid|localhost)$`, Status: models.StatusUp, Action: ActionDown},
}

// NewExtraRules compiles rules, keeping their order.
func NewExtraRules(rules []Rule) (*ExtraRules, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule.re = re
		rule.Action = RuleAction(strings.ToUpper(string(rule.Action)))
		switch rule.Action {
		case ActionUp, ActionDown, ActionInvalid, ActionNoop:
		default:
			return nil, fmt.Errorf("rule %d: unknown action %q", i, rule.Action)
		}
		if rule.Status != "" {
			if _, err := models.ParseStatus(string(rule.Status)); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
		compiled = append(compiled, rule)
	}
	return &ExtraRules{rules: compiled}, nil
}

// DefaultExtraRules returns the built-in rules.
func DefaultExtraRules() *ExtraRules {
	rules, err := NewExtraRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return rules
}

// LoadRules reads a YAML rules file:
//
//	rules:
//	  - pattern: '\.blogspot\.'
//	    status: UP
//	    action: DOWN
func LoadRules(path string) (*ExtraRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewExtraRules(file.Rules)
}

// Len returns the number of rules.
func (e *ExtraRules) Len() int {
	return len(e.rules)
}

// Apply rewrites r with the first rule matching its IDNA subject. Rules are
// always evaluated against the verdict of the lookup chain, so applying
// them again gives the same record.
func (e *ExtraRules) Apply(r *Record) *Record {
	if r.chain == nil {
		r.chain = &verdictSnapshot{status: r.Status, source: r.StatusSource}
	}
	r.Status, r.StatusSource = r.chain.status, r.chain.source
	for _, rule := range e.rules {
		if rule.Status != "" && rule.Status != r.chain.status {
			continue
		}
		if !rule.re.MatchString(r.IDNASubject) {
			continue
		}
		if rule.Action != ActionNoop {
			r.Status = models.Status(rule.Action)
			r.StatusSource = models.SourceExtraRules
		}
		break
	}
	return r
}
