package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/extract"
	"github.com/louisbranch/storygate/internal/story/gate"
	"github.com/louisbranch/storygate/internal/story/state"
)

// memStore is an in-memory storage.Store for service tests.
type memStore struct {
	mu     sync.Mutex
	states map[string]string
	events map[string]storedEvt
}

type storedEvt struct {
	storyID string
	evt     event.Event
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]string), events: make(map[string]storedEvt)}
}

func (m *memStore) LoadState(_ context.Context, storyID string) (*state.CanonicalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.states[storyID]
	if !ok {
		return nil, nil
	}
	var s state.CanonicalState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	state.EnsureLocations(&s)
	return &s, nil
}

func (m *memStore) SaveState(_ context.Context, storyID string, s *state.CanonicalState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[storyID] = string(raw)
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, storyID string, evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[evt.EventID]; exists {
		return apperrors.New(apperrors.CodeEventIDCollision, "event id "+evt.EventID+" already exists")
	}
	m.events[evt.EventID] = storedEvt{storyID: storyID, evt: evt}
	return nil
}

func (m *memStore) ListRecentEvents(_ context.Context, storyID string, limit, offset int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, se := range m.events {
		if se.storyID == storyID {
			out = append(out, se.evt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Order != out[j].Time.Order {
			return out[i].Time.Order > out[j].Time.Order
		}
		return out[i].Turn > out[j].Turn
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetEvent(_ context.Context, eventID string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if se, ok := m.events[eventID]; ok {
		evt := se.evt
		return &evt, nil
	}
	return nil, nil
}

func (m *memStore) EventsByTurn(_ context.Context, storyID string, turn int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, se := range m.events {
		if se.storyID == storyID && se.evt.Turn == turn {
			out = append(out, se.evt)
		}
	}
	return out, nil
}

func (m *memStore) EventsByTimeRange(_ context.Context, storyID string, min, max *int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, se := range m.events {
		if se.storyID != storyID {
			continue
		}
		if min != nil && se.evt.Time.Order < *min {
			continue
		}
		if max != nil && se.evt.Time.Order > *max {
			continue
		}
		out = append(out, se.evt)
	}
	return out, nil
}

func (m *memStore) CommitTurn(ctx context.Context, storyID string, s *state.CanonicalState, events []event.Event) error {
	m.mu.Lock()
	for _, evt := range events {
		if _, exists := m.events[evt.EventID]; exists {
			m.mu.Unlock()
			return apperrors.New(apperrors.CodeEventIDCollision, "event id "+evt.EventID+" already exists")
		}
	}
	m.mu.Unlock()
	if err := m.SaveState(ctx, storyID, s); err != nil {
		return err
	}
	for _, evt := range events {
		if err := m.AppendEvent(ctx, storyID, evt); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }

// scriptedExtractor returns canned extraction results.
type scriptedExtractor struct {
	result extract.Result
	err    error
	calls  int
}

func (f *scriptedExtractor) Extract(_ context.Context, _ *state.CanonicalState, _, _ string, turn int) (extract.Result, error) {
	f.calls++
	return f.result, f.err
}

func strptr(s string) *string { return &s }

func travelEvent(id string, turn, order int) event.Event {
	return event.Event{
		EventID: id,
		Turn:    turn,
		Time:    event.Time{Label: "次日", Order: order},
		Where:   event.Where{LocationID: "xuchang"},
		Who:     event.Participants{Actors: []string{"caocao"}},
		Type:    event.TypeTravel,
		Summary: "曹操前往许昌",
		Payload: map[string]any{
			"character_id":     "caocao",
			"from_location_id": "luoyang",
			"to_location_id":   "xuchang",
		},
		StatePatch: state.StatePatch{
			EntityUpdates: map[string]state.EntityUpdate{
				"caocao": {EntityType: state.EntityCharacter, EntityID: "caocao",
					Updates: state.FieldUpdates{LocationID: strptr("xuchang")}},
			},
		},
		Evidence:  event.Evidence{Source: "draft_turn_" + string(rune('0'+turn))},
		CreatedAt: time.Unix(1700000000, 0),
	}
}

func seedStory(t *testing.T, store *memStore) {
	t.Helper()
	s := state.NewInitial("story_1", time.Unix(1700000000, 0))
	s.Entities.Locations["luoyang"] = &state.Location{ID: "luoyang", Name: "洛阳", Metadata: map[string]any{}}
	s.Entities.Locations["xuchang"] = &state.Location{ID: "xuchang", Name: "许昌", Metadata: map[string]any{}}
	s.Entities.Characters["caocao"] = &state.Character{
		ID: "caocao", Name: "曹操", LocationID: "luoyang", Alive: true, Metadata: map[string]any{},
	}
	if err := store.SaveState(context.Background(), "story_1", s); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGetStateAutoInitialises(t *testing.T) {
	store := newMemStore()
	svc := New(store, &scriptedExtractor{})

	got, err := svc.GetState(context.Background(), "fresh_story")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got.Player.ID != state.DefaultPlayerID || got.Meta.Turn != 0 {
		t.Fatalf("unexpected initial state: %+v", got)
	}
	// The initial state is persisted, not just returned.
	if _, ok := store.states["fresh_story"]; !ok {
		t.Fatal("initial state was not saved")
	}
}

func TestProcessDraftPassCommitsTurn(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)
	extractor := &scriptedExtractor{result: extract.Result{
		Events: []event.Event{travelEvent("evt_1_1700000001_aaaaaaaa", 1, 1)},
	}}
	svc := New(store, extractor)

	outcome, err := svc.ProcessDraft(context.Background(), "story_1", "继续", "曹操前往许昌。")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.FinalAction != gate.ActionPass {
		t.Fatalf("action = %s, want PASS (%+v)", outcome.FinalAction, outcome.Violations)
	}
	if outcome.State == nil || outcome.State.Character("caocao").LocationID != "xuchang" {
		t.Fatalf("state not updated: %+v", outcome.State)
	}
	if len(outcome.RecentEvents) != 1 {
		t.Fatalf("recent events = %d", len(outcome.RecentEvents))
	}

	persisted, err := store.LoadState(context.Background(), "story_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if persisted.Character("caocao").LocationID != "xuchang" || persisted.Meta.Turn != 1 {
		t.Fatalf("turn not committed: %+v", persisted.Meta)
	}
}

func TestProcessDraftRewriteCommitsNothing(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)

	// Location change without TRAVEL: R5, REWRITE.
	evt := travelEvent("evt_1_1700000001_aaaaaaaa", 1, 1)
	evt.Type = event.TypeOther
	evt.Payload = map[string]any{}
	extractor := &scriptedExtractor{result: extract.Result{Events: []event.Event{evt}}}
	svc := New(store, extractor)

	before := store.states["story_1"]
	outcome, err := svc.ProcessDraft(context.Background(), "story_1", "继续", "草稿")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.FinalAction != gate.ActionRewrite {
		t.Fatalf("action = %s, want REWRITE", outcome.FinalAction)
	}
	if !strings.Contains(outcome.RewriteInstructions, "R5") {
		t.Fatalf("rewrite instructions should cite the rule: %q", outcome.RewriteInstructions)
	}
	if store.states["story_1"] != before {
		t.Fatal("rejected batch must not change the stored state")
	}
	if len(store.events) != 0 {
		t.Fatal("rejected batch must not reach the event log")
	}
}

func TestProcessDraftOpenQuestionsShortCircuit(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)
	extractor := &scriptedExtractor{result: extract.Result{
		OpenQuestions:     []string{"青釭剑从何而来？"},
		RequiresUserInput: true,
	}}
	svc := New(store, extractor)

	outcome, err := svc.ProcessDraft(context.Background(), "story_1", "继续", "草稿")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.FinalAction != gate.ActionAskUser {
		t.Fatalf("action = %s, want ASK_USER", outcome.FinalAction)
	}
	if len(outcome.Questions) != 1 {
		t.Fatalf("questions = %v", outcome.Questions)
	}
	if len(store.events) != 0 {
		t.Fatal("no events committed on ASK_USER")
	}
}

func TestProcessDraftAutoFixAppliesFixes(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)

	// Seed an item owned by caocao, then hand it to liubei who is elsewhere.
	s, _ := store.LoadState(context.Background(), "story_1")
	s.Entities.Characters["liubei"] = &state.Character{
		ID: "liubei", Name: "刘备", LocationID: "xuchang", Alive: true, Metadata: map[string]any{},
	}
	s.Entities.Items["sword_001"] = &state.Item{
		ID: "sword_001", Name: "青釭剑", OwnerID: "caocao", LocationID: "luoyang", Metadata: map[string]any{},
	}
	if err := store.SaveState(context.Background(), "story_1", s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	evt := event.Event{
		EventID: "evt_1_1700000001_bbbbbbbb",
		Turn:    1,
		Time:    event.Time{Label: "当日", Order: 1},
		Where:   event.Where{LocationID: "luoyang"},
		Who:     event.Participants{Actors: []string{"caocao"}},
		Type:    event.TypeOwnershipChange,
		Summary: "赠剑",
		Payload: map[string]any{"item_id": "sword_001", "old_owner_id": "caocao", "new_owner_id": "liubei"},
		StatePatch: state.StatePatch{
			EntityUpdates: map[string]state.EntityUpdate{
				"sword_001": {EntityType: state.EntityItem, EntityID: "sword_001",
					Updates: state.FieldUpdates{OwnerID: strptr("liubei")}},
			},
		},
		Evidence:  event.Evidence{Source: "draft_turn_1"},
		CreatedAt: time.Unix(1700000000, 0),
	}
	svc := New(store, &scriptedExtractor{result: extract.Result{Events: []event.Event{evt}}})

	outcome, err := svc.ProcessDraft(context.Background(), "story_1", "继续", "曹操赠剑给刘备。")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.FinalAction != gate.ActionAutoFix {
		t.Fatalf("action = %s, want AUTO_FIX (%+v)", outcome.FinalAction, outcome.Violations)
	}
	if outcome.State.Item("sword_001").LocationID != "xuchang" {
		t.Fatalf("fix not applied: %+v", outcome.State.Item("sword_001"))
	}
}

func TestProcessDraftExtractorErrorPropagates(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)
	svc := New(store, &scriptedExtractor{err: context.DeadlineExceeded})

	_, err := svc.ProcessDraft(context.Background(), "story_1", "继续", "草稿")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessDraftRequiresStoryID(t *testing.T) {
	svc := New(newMemStore(), &scriptedExtractor{})
	_, err := svc.ProcessDraft(context.Background(), "  ", "u", "d")
	if apperrors.CodeOf(err) != apperrors.CodeStoryIDEmpty {
		t.Fatalf("expected story-id error, got %v", err)
	}
}

func TestValidateDraftText(t *testing.T) {
	store := newMemStore()
	seedStory(t, store)
	svc := New(store, &scriptedExtractor{})

	result, err := svc.ValidateDraftText(context.Background(), "story_1", "曹操死了。")
	if err != nil {
		t.Fatalf("validate draft: %v", err)
	}
	if result.Action != gate.ActionRewrite {
		t.Fatalf("action = %s, want REWRITE", result.Action)
	}
}

func TestPerStorySerialisation(t *testing.T) {
	locks := newStoryLocks()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("story_1")
			defer release()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
}
