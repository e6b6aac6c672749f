// Package gate validates a batch of pending events against the canonical
// state and classifies the batch as PASS, AUTO_FIX, REWRITE, or ASK_USER.
//
// Every rule is a pure function over (current state, projected state, pending
// events). Rule evaluation is total: a rule that cannot complete its
// computation emits no violations rather than failing the request.
package gate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/storygate/internal/story/apply"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// Action is the gate's verdict on a batch.
type Action string

const (
	// ActionPass commits the batch as-is.
	ActionPass Action = "PASS"
	// ActionAutoFix commits the batch together with synthesised fixes.
	ActionAutoFix Action = "AUTO_FIX"
	// ActionRewrite rejects the batch with rewrite instructions.
	ActionRewrite Action = "REWRITE"
	// ActionAskUser rejects the batch pending user clarification.
	ActionAskUser Action = "ASK_USER"
)

// Severity grades a rule violation.
type Severity string

const (
	// SeverityError blocks the batch.
	SeverityError Severity = "error"
	// SeverityWarning may be auto-fixed.
	SeverityWarning Severity = "warning"
)

// RuleViolation is one rule's diagnostic for the batch.
type RuleViolation struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	EntityID string   `json:"entity_id,omitempty"`
	Fixable  bool     `json:"fixable"`
}

// ValidationResult is the gate's full output for a batch.
type ValidationResult struct {
	Action     Action            `json:"action"`
	Reasons    []string          `json:"reasons,omitempty"`
	Violations []RuleViolation   `json:"violations,omitempty"`
	Fixes      *state.StatePatch `json:"fixes,omitempty"`
	Questions  []string          `json:"questions,omitempty"`
}

// Clarification markers the action decision keys on.
const (
	markerMultiOwnership = "多重归属"
	markerDeadCharacter  = "死亡角色"
	// markerAlternateHistory flags alternate-history mode inside a
	// constraint description.
	markerAlternateHistory = "架空"
)

type ruleFunc func(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation

type namedRule struct {
	id   string
	name string
	fn   ruleFunc
}

// batchRules are the nine rules consulted on the event-batch path. R10 runs
// only through the separate draft-validation entrypoint.
var batchRules = []namedRule{
	{"R1", "unique_item_ownership", ruleUniqueItemOwnership},
	{"R2", "item_position_coherence", ruleItemPositionCoherence},
	{"R3", "dead_actor", ruleDeadActor},
	{"R4", "explicit_lifecycle", ruleExplicitLifecycle},
	{"R5", "travel_required", ruleTravelRequired},
	{"R6", "single_location", ruleSingleLocation},
	{"R7", "monotonic_timeline", ruleMonotonicTimeline},
	{"R8", "immutable_constraints", ruleImmutableConstraints},
	{"R9", "traceable_relationships", ruleTraceableRelationships},
}

// Validate projects the batch onto a hypothetical next state and runs every
// batch rule against (current, projected, pending), then decides the action.
func Validate(current *state.CanonicalState, pending []event.Event) ValidationResult {
	temp := apply.ApplyMany(current, pending, time.Unix(0, 0))

	var violations []RuleViolation
	for _, rule := range batchRules {
		violations = append(violations, runRule(rule, current, temp, pending)...)
	}
	return decide(temp, violations)
}

// runRule executes one rule, absorbing any internal failure. Rules must
// never become a source of rewrite loops.
func runRule(rule namedRule, current, temp *state.CanonicalState, pending []event.Event) (out []RuleViolation) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return rule.fn(current, temp, pending)
}

// decide turns the gathered violations into the gate's verdict.
func decide(temp *state.CanonicalState, violations []RuleViolation) ValidationResult {
	if len(violations) == 0 {
		return ValidationResult{Action: ActionPass}
	}

	var errs, warnings []RuleViolation
	for _, v := range violations {
		if v.Severity == SeverityError {
			errs = append(errs, v)
		} else {
			warnings = append(warnings, v)
		}
	}

	if len(errs) > 0 {
		needsUser := false
		for _, v := range errs {
			if strings.Contains(v.Message, markerMultiOwnership) || strings.Contains(v.Message, markerDeadCharacter) {
				needsUser = true
				break
			}
		}
		if needsUser {
			questions := make([]string, 0, len(errs))
			for _, v := range errs {
				questions = append(questions, "请澄清："+v.Message)
			}
			return ValidationResult{
				Action:     ActionAskUser,
				Violations: violations,
				Questions:  questions,
			}
		}
		reasons := make([]string, 0, len(errs))
		for _, v := range errs {
			reasons = append(reasons, fmt.Sprintf("%s: %s", v.RuleID, v.Message))
		}
		return ValidationResult{
			Action:     ActionRewrite,
			Reasons:    reasons,
			Violations: violations,
		}
	}

	allFixable := true
	for _, v := range warnings {
		if !v.Fixable {
			allFixable = false
			break
		}
	}
	if allFixable {
		fixes := synthesiseFixes(temp, warnings)
		return ValidationResult{
			Action:     ActionAutoFix,
			Violations: violations,
			Fixes:      fixes,
		}
	}

	reasons := make([]string, 0, len(warnings))
	for _, v := range warnings {
		reasons = append(reasons, fmt.Sprintf("%s: %s", v.RuleID, v.Message))
	}
	return ValidationResult{
		Action:     ActionRewrite,
		Reasons:    reasons,
		Violations: violations,
	}
}

// synthesiseFixes builds the corrective patch for fixable warnings. Today
// only R2 produces them: the item is moved to its owner's location.
func synthesiseFixes(temp *state.CanonicalState, warnings []RuleViolation) *state.StatePatch {
	updates := make(map[string]state.EntityUpdate)
	for _, v := range warnings {
		if v.RuleID != "R2" || v.EntityID == "" {
			continue
		}
		it := temp.Item(v.EntityID)
		if it == nil {
			continue
		}
		corrected := ownerLocation(temp, it.OwnerID)
		if corrected == "" {
			continue
		}
		loc := corrected
		updates[v.EntityID] = state.EntityUpdate{
			EntityType: state.EntityItem,
			EntityID:   v.EntityID,
			Updates:    state.FieldUpdates{LocationID: &loc},
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return &state.StatePatch{EntityUpdates: updates}
}

// ownerLocation resolves where an owner keeps its belongings: a character's
// current location, or the owning location itself.
func ownerLocation(s *state.CanonicalState, ownerID string) string {
	if ownerID == "" {
		return ""
	}
	if c := s.Character(ownerID); c != nil {
		return c.LocationID
	}
	if s.Location(ownerID) != nil {
		return ownerID
	}
	return ""
}

// AlternateHistory reports whether the state carries the alternate-history
// marker: an entity_state constraint whose description contains 架空. The
// gate still emits raw violations in that mode; callers may demote them.
func AlternateHistory(s *state.CanonicalState) bool {
	for _, c := range s.Constraints.Constraints {
		if c.Type == state.ConstraintEntityState && strings.Contains(c.Description, markerAlternateHistory) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
