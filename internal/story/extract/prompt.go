package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/storygate/internal/story/state"
)

// summaryEntityLimit caps how many characters and items the state summary
// lists; the model sees the first ones in id order, not the whole world.
const summaryEntityLimit = 10

func buildSystemPrompt(s *state.CanonicalState, turn int) string {
	return fmt.Sprintf(`你是一个事件提取器，负责从对话草稿中提取结构化事件。

## 当前状态（Turn %d）

%s

## 核心规则

1. **任何状态变化必须写入 state_patch**
   - 角色位置改变 → state_patch.entity_updates 中更新 location_id
   - 物品所有权改变 → state_patch.entity_updates 中更新 owner_id
   - 角色生死状态改变 → state_patch.entity_updates 中更新 alive
   - 时间推进 → state_patch.time_update
   - 任务进展 → state_patch.quest_updates

2. **事件类型的判定线索与必填 payload**
   - OWNERSHIP_CHANGE（赠予、夺取、易手）：item_id, old_owner_id, new_owner_id
   - DEATH（死亡、阵亡、被杀）：character_id
   - REVIVAL（复活、还魂）：character_id
   - TRAVEL（前往、到达、离开）：character_id, from_location_id, to_location_id
   - FACTION_CHANGE（投靠、叛变、归顺）：character_id, old_faction_id, new_faction_id
   - QUEST_START / QUEST_COMPLETE / QUEST_FAIL（接受任务、完成任务、任务失败）：quest_id
   - ITEM_CREATE / ITEM_DESTROY（获得新物品、物品损毁）：item_id
   - TIME_ADVANCE（次日、数日后、时光流逝）：time_anchor
   - RELATIONSHIP_CHANGE（结盟、反目）：payload 自由
   - OTHER：其他事件

3. **禁止的推断**
   - 不可凭空出现物品：草稿中出现当前状态不存在的物品时，写入 open_questions
   - 死亡角色不能行动：草稿描述死亡角色行动时，写入 open_questions
   - 位置不会凭空改变：没有明确移动描述的位置变化，写入 open_questions
   - 无法确定的暗示一律进入 open_questions，不得编造状态

4. **必须输出至少 1 个事件**
   - 即使没有明显事件，也要输出一个描述当前对话的 OTHER 类型事件

## 输出格式

严格按照 JSON Schema 输出：events（事件列表）与 open_questions（待澄清问题列表）。`,
		turn, formatStateSummary(s))
}

func buildUserPrompt(userMessage, draft string) string {
	return fmt.Sprintf(`请从以下对话中提取事件：

## 用户消息
%s

## 助手草稿
%s

请提取所有状态变化相关的事件，并确保：
1. 每个事件都有对应的 state_patch
2. 如果检测到需要澄清的情况，在 open_questions 中列出
3. 至少输出 1 个事件`, userMessage, draft)
}

// formatStateSummary renders the compact world snapshot the model reasons
// over: time, player, up to ten characters and items, and the constraints
// that bound extraction.
func formatStateSummary(s *state.CanonicalState) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("时间: %s (order: %d)", s.Time.Calendar, s.Time.Anchor.Order))
	lines = append(lines, fmt.Sprintf("\n玩家: %s @ %s", s.Player.Name, s.Player.LocationID))
	if len(s.Player.Party) > 0 {
		lines = append(lines, fmt.Sprintf("  队伍: %s", strings.Join(s.Player.Party, ", ")))
	}
	if len(s.Player.Inventory) > 0 {
		lines = append(lines, fmt.Sprintf("  物品: %s", strings.Join(s.Player.Inventory, ", ")))
	}

	lines = append(lines, "\n关键角色:")
	for i, id := range sortedKeys(s.Entities.Characters) {
		if i >= summaryEntityLimit {
			break
		}
		c := s.Entities.Characters[id]
		status := "存活"
		if !c.Alive {
			status = "死亡"
		}
		locationName := c.LocationID
		if loc := s.Location(c.LocationID); loc != nil {
			locationName = loc.Name
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s): %s, 位置: %s", c.Name, id, status, locationName))
	}

	if len(s.Entities.Items) > 0 {
		lines = append(lines, "\n关键物品:")
		for i, id := range sortedKeys(s.Entities.Items) {
			if i >= summaryEntityLimit {
				break
			}
			it := s.Entities.Items[id]
			ownerInfo := fmt.Sprintf("位置: %s", it.LocationID)
			if it.OwnerID != "" {
				ownerInfo = fmt.Sprintf("拥有者: %s", it.OwnerID)
			}
			lines = append(lines, fmt.Sprintf("  - %s (%s): %s", it.Name, id, ownerInfo))
		}
	}

	if len(s.Constraints.UniqueItemIDs) > 0 {
		lines = append(lines, fmt.Sprintf("\n唯一物品: %s", strings.Join(s.Constraints.UniqueItemIDs, ", ")))
	}
	if len(s.Constraints.ImmutableEvents) > 0 {
		lines = append(lines, fmt.Sprintf("不可变事件: %d 个", len(s.Constraints.ImmutableEvents)))
	}

	return strings.Join(lines, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
