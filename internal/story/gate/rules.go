package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// ruleUniqueItemOwnership (R1) rejects a batch that assigns one unique item
// to more than one distinct owner. Only the pending events are inspected; the
// projected state is not consulted.
func ruleUniqueItemOwnership(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, itemID := range current.Constraints.UniqueItemIDs {
		ownerSet := make(map[string]struct{})
		var owners []string
		for _, evt := range pending {
			update, ok := evt.StatePatch.EntityUpdates[itemID]
			if !ok || update.EntityType != state.EntityItem || update.Updates.OwnerID == nil {
				continue
			}
			owner := *update.Updates.OwnerID
			if _, seen := ownerSet[owner]; !seen {
				ownerSet[owner] = struct{}{}
				owners = append(owners, owner)
			}
		}
		if len(owners) > 1 {
			out = append(out, RuleViolation{
				RuleID:   "R1",
				RuleName: "unique_item_ownership",
				Severity: SeverityError,
				Message: fmt.Sprintf("唯一物品 %s 在同一批次中多重归属：%s",
					itemID, strings.Join(owners, "、")),
				EntityID: itemID,
				Fixable:  false,
			})
		}
	}
	return out
}

// ruleItemPositionCoherence (R2) checks that every owned item in the
// projected state sits where its owner is. Violations are fixable warnings;
// the corrective location lands in the auto-fix patch.
func ruleItemPositionCoherence(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, itemID := range sortedKeys(temp.Entities.Items) {
		it := temp.Entities.Items[itemID]
		if it.OwnerID == "" {
			continue
		}
		want := ownerLocation(temp, it.OwnerID)
		if want == "" || it.LocationID == want {
			continue
		}
		out = append(out, RuleViolation{
			RuleID:   "R2",
			RuleName: "item_position_coherence",
			Severity: SeverityWarning,
			Message: fmt.Sprintf("物品 %s 位于 %s，但持有者 %s 位于 %s",
				itemID, it.LocationID, it.OwnerID, want),
			EntityID: itemID,
			Fixable:  true,
		})
	}
	return out
}

// ruleDeadActor (R3) blocks events acted out by characters who are dead in
// the current state, except the dying/reviving subject of DEATH and REVIVAL
// events. It also blocks resurrections smuggled in without a REVIVAL type.
func ruleDeadActor(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, evt := range pending {
		if evt.Type != event.TypeDeath && evt.Type != event.TypeRevival {
			for _, actorID := range evt.Who.Actors {
				c := current.Character(actorID)
				if c == nil || c.Alive {
					continue
				}
				out = append(out, RuleViolation{
					RuleID:   "R3",
					RuleName: "dead_actor",
					Severity: SeverityError,
					Message: fmt.Sprintf("死亡角色 %s 不能作为事件 %s 的行动者",
						c.Name, evt.EventID),
					EntityID: actorID,
					Fixable:  false,
				})
			}
		}
		if evt.Type == event.TypeRevival {
			continue
		}
		for _, charID := range sortedKeys(evt.StatePatch.EntityUpdates) {
			update := evt.StatePatch.EntityUpdates[charID]
			if update.EntityType != state.EntityCharacter || update.Updates.Alive == nil || !*update.Updates.Alive {
				continue
			}
			c := current.Character(charID)
			if c == nil || c.Alive {
				continue
			}
			out = append(out, RuleViolation{
				RuleID:   "R3",
				RuleName: "dead_actor",
				Severity: SeverityError,
				Message: fmt.Sprintf("死亡角色 %s 在事件 %s 中被复活，但事件类型不是 REVIVAL",
					c.Name, evt.EventID),
				EntityID: charID,
				Fixable:  false,
			})
		}
	}
	return out
}

// ruleExplicitLifecycle (R4) requires life and faction changes to ride on
// their dedicated event types.
func ruleExplicitLifecycle(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, evt := range pending {
		for _, charID := range sortedKeys(evt.StatePatch.EntityUpdates) {
			update := evt.StatePatch.EntityUpdates[charID]
			if update.EntityType != state.EntityCharacter {
				continue
			}
			u := update.Updates
			if u.Alive != nil && !*u.Alive && evt.Type != event.TypeDeath {
				out = append(out, RuleViolation{
					RuleID:   "R4",
					RuleName: "explicit_lifecycle",
					Severity: SeverityError,
					Message: fmt.Sprintf("角色 %s 的死亡必须通过 DEATH 事件记录（事件 %s 类型为 %s）",
						charID, evt.EventID, evt.Type),
					EntityID: charID,
					Fixable:  false,
				})
			}
			if u.Alive != nil && *u.Alive && evt.Type != event.TypeRevival {
				out = append(out, RuleViolation{
					RuleID:   "R4",
					RuleName: "explicit_lifecycle",
					Severity: SeverityError,
					Message: fmt.Sprintf("角色 %s 的复活必须通过 REVIVAL 事件记录（事件 %s 类型为 %s）",
						charID, evt.EventID, evt.Type),
					EntityID: charID,
					Fixable:  false,
				})
			}
			if u.FactionID != nil && evt.Type != event.TypeFactionChange {
				c := current.Character(charID)
				if c != nil && c.FactionID != *u.FactionID {
					out = append(out, RuleViolation{
						RuleID:   "R4",
						RuleName: "explicit_lifecycle",
						Severity: SeverityError,
						Message: fmt.Sprintf("角色 %s 的阵营变更必须通过 FACTION_CHANGE 事件记录（事件 %s 类型为 %s）",
							charID, evt.EventID, evt.Type),
						EntityID: charID,
						Fixable:  false,
					})
				}
			}
		}
	}
	return out
}

// ruleTravelRequired (R5) requires location changes to ride on TRAVEL events
// and the TRAVEL payload to name the moving character.
func ruleTravelRequired(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, evt := range pending {
		for _, charID := range sortedKeys(evt.StatePatch.EntityUpdates) {
			update := evt.StatePatch.EntityUpdates[charID]
			if update.EntityType != state.EntityCharacter || update.Updates.LocationID == nil {
				continue
			}
			c := current.Character(charID)
			if c == nil || c.LocationID == *update.Updates.LocationID {
				continue
			}
			if evt.Type != event.TypeTravel {
				out = append(out, RuleViolation{
					RuleID:   "R5",
					RuleName: "travel_required",
					Severity: SeverityError,
					Message: fmt.Sprintf("角色 %s 的位置变更必须通过 TRAVEL 事件记录（事件 %s 类型为 %s）",
						charID, evt.EventID, evt.Type),
					EntityID: charID,
					Fixable:  false,
				})
				continue
			}
			payloadChar := event.PayloadString(evt.Payload, "character_id")
			if payloadChar != "" && payloadChar != charID {
				out = append(out, RuleViolation{
					RuleID:   "R5",
					RuleName: "travel_required",
					Severity: SeverityError,
					Message: fmt.Sprintf("TRAVEL 事件 %s 的 payload.character_id (%s) 与被移动角色 %s 不符",
						evt.EventID, payloadChar, charID),
					EntityID: charID,
					Fixable:  false,
				})
			}
		}
	}
	return out
}

// ruleSingleLocation (R6) forbids placing one character at two locations
// within the same narrative moment (same time.order).
func ruleSingleLocation(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	groups := make(map[int][]event.Event)
	var orders []int
	for _, evt := range pending {
		if _, ok := groups[evt.Time.Order]; !ok {
			orders = append(orders, evt.Time.Order)
		}
		groups[evt.Time.Order] = append(groups[evt.Time.Order], evt)
	}
	sort.Ints(orders)

	var out []RuleViolation
	for _, order := range orders {
		group := groups[order]

		explicit := make(map[string]map[string]struct{})
		addLocation := func(charID, locID string) {
			if explicit[charID] == nil {
				explicit[charID] = make(map[string]struct{})
			}
			explicit[charID][locID] = struct{}{}
		}

		hasExplicit := make(map[string]bool)
		for _, evt := range group {
			for charID, update := range evt.StatePatch.EntityUpdates {
				if update.EntityType == state.EntityCharacter && update.Updates.LocationID != nil {
					addLocation(charID, *update.Updates.LocationID)
					hasExplicit[charID] = true
				}
			}
		}
		for _, evt := range group {
			if evt.Type == event.TypeTravel || evt.Where.LocationID == "" {
				continue
			}
			for _, actorID := range evt.Who.Actors {
				if hasExplicit[actorID] {
					continue
				}
				if current.Character(actorID) == nil && temp.Character(actorID) == nil {
					continue
				}
				addLocation(actorID, evt.Where.LocationID)
			}
		}

		for _, charID := range sortedKeys(explicit) {
			locations := sortedKeys(explicit[charID])
			if len(locations) > 1 {
				out = append(out, RuleViolation{
					RuleID:   "R6",
					RuleName: "single_location",
					Severity: SeverityError,
					Message: fmt.Sprintf("角色 %s 在同一时间点（order %d）被置于多个位置：%s",
						charID, order, strings.Join(locations, "、")),
					EntityID: charID,
					Fixable:  false,
				})
			}
		}
	}
	return out
}

// ruleMonotonicTimeline (R7) enforces a forward-only timeline: no event
// before the current anchor, no same-turn inversions inside the batch, and
// no anchor regression in the projected state.
func ruleMonotonicTimeline(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	anchor := current.Time.Anchor.Order

	for _, evt := range pending {
		if evt.Time.Order < anchor {
			out = append(out, RuleViolation{
				RuleID:   "R7",
				RuleName: "monotonic_timeline",
				Severity: SeverityError,
				Message: fmt.Sprintf("事件 %s 的时间 order %d 早于当前时间锚点 order %d",
					evt.EventID, evt.Time.Order, anchor),
				Fixable: false,
			})
		}
	}

	for i := 0; i < len(pending); i++ {
		for j := i + 1; j < len(pending); j++ {
			if pending[i].Turn != pending[j].Turn {
				continue
			}
			if pending[i].Time.Order > pending[j].Time.Order {
				out = append(out, RuleViolation{
					RuleID:   "R7",
					RuleName: "monotonic_timeline",
					Severity: SeverityError,
					Message: fmt.Sprintf("同一轮次内事件乱序：%s（order %d）出现在 %s（order %d）之前",
						pending[i].EventID, pending[i].Time.Order,
						pending[j].EventID, pending[j].Time.Order),
					Fixable: false,
				})
			}
		}
	}

	if temp.Time.Anchor.Order < anchor {
		out = append(out, RuleViolation{
			RuleID:   "R7",
			RuleName: "monotonic_timeline",
			Severity: SeverityError,
			Message: fmt.Sprintf("时间锚点回退：order %d 退至 %d",
				anchor, temp.Time.Anchor.Order),
			Fixable: false,
		})
	}
	return out
}

// ruleImmutableConstraints (R8) re-checks every standing constraint against
// the projected state and refuses re-submission of immutable events.
func ruleImmutableConstraints(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation

	for _, c := range current.Constraints.Constraints {
		if c.EntityID == "" || c.Value == nil {
			continue
		}
		switch c.Type {
		case state.ConstraintEntityState:
			want, ok := c.Value["alive"].(bool)
			if !ok {
				continue
			}
			char := temp.Character(c.EntityID)
			if char != nil && char.Alive != want {
				out = append(out, RuleViolation{
					RuleID:   "R8",
					RuleName: "immutable_constraints",
					Severity: SeverityError,
					Message: fmt.Sprintf("约束 %s 被违反：角色 %s 的存活状态必须保持为 %v",
						c.ID, c.EntityID, want),
					EntityID: c.EntityID,
					Fixable:  false,
				})
			}
		case state.ConstraintRelationship:
			want, ok := c.Value["faction_id"].(string)
			if !ok {
				continue
			}
			char := temp.Character(c.EntityID)
			if char != nil && char.FactionID != want {
				out = append(out, RuleViolation{
					RuleID:   "R8",
					RuleName: "immutable_constraints",
					Severity: SeverityError,
					Message: fmt.Sprintf("约束 %s 被违反：角色 %s 的阵营必须保持为 %s",
						c.ID, c.EntityID, want),
					EntityID: c.EntityID,
					Fixable:  false,
				})
			}
		case state.ConstraintUniqueItem:
			want, ok := c.Value["owner_id"].(string)
			if !ok {
				continue
			}
			it := temp.Item(c.EntityID)
			if it != nil && it.OwnerID != want {
				out = append(out, RuleViolation{
					RuleID:   "R8",
					RuleName: "immutable_constraints",
					Severity: SeverityError,
					Message: fmt.Sprintf("约束 %s 被违反：物品 %s 的归属必须保持为 %s",
						c.ID, c.EntityID, want),
					EntityID: c.EntityID,
					Fixable:  false,
				})
			}
		}
	}

	immutable := make(map[string]struct{}, len(current.Constraints.ImmutableEvents))
	for _, id := range current.Constraints.ImmutableEvents {
		immutable[id] = struct{}{}
	}
	for _, evt := range pending {
		if _, locked := immutable[evt.EventID]; locked {
			out = append(out, RuleViolation{
				RuleID:   "R8",
				RuleName: "immutable_constraints",
				Severity: SeverityError,
				Message:  fmt.Sprintf("不可变事件 %s 不允许再次提交", evt.EventID),
				Fixable:  false,
			})
		}
	}
	return out
}

// ruleTraceableRelationships (R9) requires FACTION_CHANGE payloads to name
// the character and relationship metadata to come from RELATIONSHIP_CHANGE
// events.
func ruleTraceableRelationships(current, temp *state.CanonicalState, pending []event.Event) []RuleViolation {
	var out []RuleViolation
	for _, evt := range pending {
		if evt.Type == event.TypeFactionChange {
			if event.PayloadString(evt.Payload, "character_id") == "" {
				out = append(out, RuleViolation{
					RuleID:   "R9",
					RuleName: "traceable_relationships",
					Severity: SeverityError,
					Message:  fmt.Sprintf("FACTION_CHANGE 事件 %s 缺少 payload.character_id", evt.EventID),
					Fixable:  false,
				})
			}
		}
		if evt.Type == event.TypeRelationshipChange {
			continue
		}
		for _, charID := range sortedKeys(evt.StatePatch.EntityUpdates) {
			update := evt.StatePatch.EntityUpdates[charID]
			if update.EntityType != state.EntityCharacter || update.Updates.Metadata == nil {
				continue
			}
			if _, ok := update.Updates.Metadata["relationship_changes"]; ok {
				out = append(out, RuleViolation{
					RuleID:   "R9",
					RuleName: "traceable_relationships",
					Severity: SeverityError,
					Message: fmt.Sprintf("角色 %s 的 metadata.relationship_changes 只能由 RELATIONSHIP_CHANGE 事件写入（事件 %s 类型为 %s）",
						charID, evt.EventID, evt.Type),
					EntityID: charID,
					Fixable:  false,
				})
			}
		}
	}
	return out
}
