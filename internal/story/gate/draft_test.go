package gate

import (
	"strings"
	"testing"
)

func TestValidateDraftCleanDraftPasses(t *testing.T) {
	s := gateState()
	result := ValidateDraft(s, "曹操在营帐中沉思，帐外风声猎猎。")
	if result.Action != ActionPass {
		t.Fatalf("action = %s, want PASS (%+v)", result.Action, result.Violations)
	}
}

func TestValidateDraftDeathCueOnAliveCharacter(t *testing.T) {
	s := gateState()
	cases := []string{
		"刘备死了，众人悲痛不已。",
		"传来消息：刘备在乱军之中被杀。",
		"刘备……已经去世多日。",
	}
	for _, draft := range cases {
		t.Run(draft, func(t *testing.T) {
			result := ValidateDraft(s, draft)
			r10 := findViolations(result, "R10")
			if len(r10) == 0 {
				t.Fatalf("expected R10 death-cue violation: %+v", result.Violations)
			}
			if !strings.Contains(r10[0].Message, "刘备") {
				t.Fatalf("message should name the character: %q", r10[0].Message)
			}
			if r10[0].Fixable {
				t.Fatal("R10 violations are not fixable")
			}
			if result.Action != ActionRewrite {
				t.Fatalf("action = %s, want REWRITE", result.Action)
			}
		})
	}
}

func TestValidateDraftDeathCueOnDeadCharacterIsFine(t *testing.T) {
	s := gateState()
	result := ValidateDraft(s, "吕布死了，这早已是旧闻。")
	if len(findViolations(result, "R10")) != 0 {
		t.Fatalf("dead character may be described as dead: %+v", result.Violations)
	}
}

func TestValidateDraftDistantCueDoesNotTrip(t *testing.T) {
	s := gateState()
	padding := strings.Repeat("风", 60)
	result := ValidateDraft(s, "刘备举杯畅饮。"+padding+"远方传来死亡的传闻。")
	if len(findViolations(result, "R10")) != 0 {
		t.Fatalf("cue beyond 50 runes should not trip: %+v", result.Violations)
	}
}

func TestValidateDraftWrongLocation(t *testing.T) {
	s := gateState()
	// 曹操 is in 洛阳; the draft puts him in 许昌.
	result := ValidateDraft(s, "曹操到达许昌，召集众将议事。")
	r10 := findViolations(result, "R10")
	if len(r10) == 0 {
		t.Fatalf("expected R10 position violation: %+v", result.Violations)
	}
	if !strings.Contains(r10[0].Message, "许昌") {
		t.Fatalf("message should name the contradicting location: %q", r10[0].Message)
	}
}

func TestValidateDraftCurrentLocationIsFine(t *testing.T) {
	s := gateState()
	result := ValidateDraft(s, "曹操在洛阳的府邸中设宴。")
	if len(findViolations(result, "R10")) != 0 {
		t.Fatalf("current location should not trip: %+v", result.Violations)
	}
}

func TestValidateDraftWithoutPositionCueIsFine(t *testing.T) {
	s := gateState()
	result := ValidateDraft(s, "曹操遥想许昌旧事。")
	// The sentence names another location but carries no position cue.
	if len(findViolations(result, "R10")) != 0 {
		t.Fatalf("no position cue, no violation: %+v", result.Violations)
	}
}

func TestValidateDraftEmptyDraft(t *testing.T) {
	s := gateState()
	result := ValidateDraft(s, "   ")
	if result.Action != ActionPass {
		t.Fatalf("empty draft should pass, got %s", result.Action)
	}
}
