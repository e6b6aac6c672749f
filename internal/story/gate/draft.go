package gate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// Draft-fidelity cues (R10). The heuristic is deliberately coarse: cues are
// matched as plain substrings of the draft text.
var (
	deathCues    = []string{"死亡", "死了", "去世", "逝世", "被杀", "被斩"}
	positionCues = []string{"在", "位于", "到达", "来到", "到了"}
)

// deathCueRadius is the maximum rune distance between a character mention
// and a death cue for the pair to count as a contradiction.
const deathCueRadius = 50

var sentenceEnders = []rune{'。', '！', '？', '!', '?', '；', '\n'}

// cueAutomaton scans a draft for every death-cue occurrence in one pass.
var cueAutomaton = mustBuildCues(deathCues)

func mustBuildCues(cues []string) *ahocorasick.Automaton {
	ac, err := ahocorasick.NewBuilder().
		AddStrings(cues).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		panic(fmt.Sprintf("build draft cue automaton: %v", err))
	}
	return ac
}

// ValidateDraft is the draft-validation entrypoint: it runs only R10 against
// the raw draft text and classifies the outcome. The event-batch path never
// consults R10.
func ValidateDraft(current *state.CanonicalState, draft string) ValidationResult {
	violations := runRule(namedRule{"R10", "draft_fidelity", draftFidelityRule(draft)}, current, current, nil)
	return decide(current, violations)
}

// draftFidelityRule (R10) scans the draft for claims that contradict the
// canonical state: alive characters described with death cues, and
// characters positioned at a location other than their current one.
func draftFidelityRule(draft string) ruleFunc {
	return func(current, _ *state.CanonicalState, _ []event.Event) []RuleViolation {
		var out []RuleViolation
		if strings.TrimSpace(draft) == "" {
			return nil
		}

		runes := []rune(draft)
		cuePositions := deathCuePositions(draft)

		for _, charID := range sortedKeys(current.Entities.Characters) {
			c := current.Entities.Characters[charID]
			if !c.Alive || c.Name == "" {
				continue
			}
			for _, mention := range runeIndexes(runes, []rune(c.Name)) {
				cue, hit := cueNear(cuePositions, mention, mention+utf8.RuneCountInString(c.Name))
				if !hit {
					continue
				}
				out = append(out, RuleViolation{
					RuleID:   "R10",
					RuleName: "draft_fidelity",
					Severity: SeverityError,
					Message: fmt.Sprintf("存活角色 %s 在草稿中被描述为死亡（出现“%s”）",
						c.Name, cue),
					EntityID: charID,
					Fixable:  false,
				})
				break
			}
		}

		for _, sentence := range splitSentences(draft) {
			for _, charID := range sortedKeys(current.Entities.Characters) {
				c := current.Entities.Characters[charID]
				if c.Name == "" || !strings.Contains(sentence, c.Name) {
					continue
				}
				if !containsAny(sentence, positionCues) {
					continue
				}
				currentName := ""
				if loc := current.Location(c.LocationID); loc != nil {
					currentName = loc.Name
				}
				for _, locID := range sortedKeys(current.Entities.Locations) {
					loc := current.Entities.Locations[locID]
					if locID == c.LocationID || loc.Name == "" || loc.Name == currentName {
						continue
					}
					if !strings.Contains(sentence, loc.Name) {
						continue
					}
					out = append(out, RuleViolation{
						RuleID:   "R10",
						RuleName: "draft_fidelity",
						Severity: SeverityError,
						Message: fmt.Sprintf("角色 %s 被描述位于 %s，但当前位置是 %s",
							c.Name, loc.Name, currentName),
						EntityID: charID,
						Fixable:  false,
					})
					break
				}
			}
		}
		return out
	}
}

type cuePosition struct {
	cue   string
	start int // rune offset
	end   int // rune offset
}

// deathCuePositions runs the cue automaton over the draft and maps the byte
// offsets of every hit back to rune offsets.
func deathCuePositions(draft string) []cuePosition {
	matches := cueAutomaton.FindAllOverlapping([]byte(draft))
	if len(matches) == 0 {
		return nil
	}

	byteToRune := make(map[int]int, len(draft)+1)
	runeIdx := 0
	for byteIdx := range draft {
		byteToRune[byteIdx] = runeIdx
		runeIdx++
	}
	byteToRune[len(draft)] = runeIdx

	out := make([]cuePosition, 0, len(matches))
	for _, m := range matches {
		start, okStart := byteToRune[m.Start]
		end, okEnd := byteToRune[m.End]
		if !okStart || !okEnd {
			continue
		}
		out = append(out, cuePosition{
			cue:   draft[m.Start:m.End],
			start: start,
			end:   end,
		})
	}
	return out
}

// cueNear reports the first cue within deathCueRadius runes of the mention.
func cueNear(cues []cuePosition, mentionStart, mentionEnd int) (string, bool) {
	for _, cue := range cues {
		if cue.start >= mentionEnd && cue.start-mentionEnd <= deathCueRadius {
			return cue.cue, true
		}
		if cue.end <= mentionStart && mentionStart-cue.end <= deathCueRadius {
			return cue.cue, true
		}
		if cue.start < mentionEnd && cue.end > mentionStart {
			return cue.cue, true
		}
	}
	return "", false
}

// runeIndexes returns the rune offsets of every occurrence of needle.
func runeIndexes(haystack, needle []rune) []int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return nil
	}
	var out []int
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if isSentenceEnder(r) {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnder(r rune) bool {
	for _, e := range sentenceEnders {
		if r == e {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
