package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "storygate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedEvent(id string, turn, order int, createdAt time.Time) event.Event {
	return event.Event{
		EventID: id,
		Turn:    turn,
		Time:    event.Time{Label: "时刻", Order: order},
		Where:   event.Where{LocationID: "unknown"},
		Who:     event.Participants{Actors: []string{"player_001"}},
		Type:    event.TypeOther,
		Summary: "测试",
		Payload: map[string]any{},
		StatePatch: state.StatePatch{
			EntityUpdates: map[string]state.EntityUpdate{
				"player_001": {EntityType: state.EntityCharacter, EntityID: "player_001",
					Updates: state.FieldUpdates{Metadata: map[string]any{"t": turn}}},
			},
		},
		Evidence:  event.Evidence{Source: "draft_turn_1"},
		CreatedAt: createdAt,
	}
}

func TestLoadStateMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)
	got, err := store.LoadState(context.Background(), "story_x")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing state, got %+v", got)
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := state.NewInitial("story_1", time.Unix(1700000000, 0))
	s.Entities.Locations["luoyang"] = &state.Location{ID: "luoyang", Name: "洛阳", Metadata: map[string]any{}}
	s.Entities.Characters["caocao"] = &state.Character{
		ID: "caocao", Name: "曹操", LocationID: "luoyang", Alive: true, Metadata: map[string]any{},
	}
	if err := store.SaveState(ctx, "story_1", s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.LoadState(ctx, "story_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Meta.StoryID != "story_1" || got.Character("caocao") == nil {
		t.Fatalf("round trip lost data: %+v", got.Meta)
	}
}

func TestLoadStateSynthesisesMissingLocations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Simulate an older persisted state whose locations table lacks a
	// referenced id by writing raw JSON.
	raw := `{
		"meta": {"story_id": "story_old", "canon_version": "1", "turn": 1, "updated_at": "2024-01-01T00:00:00Z"},
		"time": {"calendar": "初始时间", "anchor": {"label": "初始时间", "order": 0}},
		"player": {"id": "player_001", "name": "玩家", "location_id": "lost_city", "party": [], "inventory": []},
		"entities": {"characters": {}, "items": {}, "locations": {}, "factions": {}},
		"quest": {"active": [], "completed": []},
		"constraints": {"unique_item_ids": [], "immutable_events": [], "constraints": []}
	}`
	if _, err := store.sqlDB.Exec(
		"INSERT INTO states (story_id, state_json, updated_at) VALUES (?, ?, ?)",
		"story_old", raw, 0); err != nil {
		t.Fatalf("seed raw state: %v", err)
	}

	got, err := store.LoadState(ctx, "story_old")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Location("lost_city") == nil {
		t.Fatal("expected lost_city to be synthesised on load")
	}
}

func TestLoadStateCorruptJSON(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.sqlDB.Exec(
		"INSERT INTO states (story_id, state_json, updated_at) VALUES (?, ?, ?)",
		"story_bad", "{not json", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := store.LoadState(context.Background(), "story_bad")
	if apperrors.CodeOf(err) != apperrors.CodeStateCorrupt {
		t.Fatalf("expected corrupt-state error, got %v", err)
	}
	if !strings.Contains(err.Error(), "事件日志重建") {
		t.Fatalf("expected remediation hint, got %q", err.Error())
	}
}

func TestAppendEventAndCollision(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	evt := storedEvent("evt_1_1700000000_aaaaaaaa", 1, 1, time.Unix(1700000000, 0))
	if err := store.AppendEvent(ctx, "story_1", evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := store.AppendEvent(ctx, "story_1", evt)
	if apperrors.CodeOf(err) != apperrors.CodeEventIDCollision {
		t.Fatalf("expected collision error, got %v", err)
	}

	got, err := store.GetEvent(ctx, evt.EventID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Summary != "测试" {
		t.Fatalf("event round trip lost data: %+v", got)
	}
}

func TestGetEventMissing(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetEvent(context.Background(), "evt_none")
	if err != nil || got != nil {
		t.Fatalf("want (nil, nil), got (%v, %v)", got, err)
	}
}

func TestListRecentEventsOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	events := []event.Event{
		storedEvent("evt_1_1_aaaaaaaa", 1, 1, base),
		storedEvent("evt_2_2_bbbbbbbb", 2, 3, base.Add(time.Second)),
		storedEvent("evt_3_3_cccccccc", 3, 2, base.Add(2*time.Second)),
	}
	for _, evt := range events {
		if err := store.AppendEvent(ctx, "story_1", evt); err != nil {
			t.Fatalf("append %s: %v", evt.EventID, err)
		}
	}

	got, err := store.ListRecentEvents(ctx, "story_1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantOrder := []string{"evt_2_2_bbbbbbbb", "evt_3_3_cccccccc", "evt_1_1_aaaaaaaa"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d events", len(got))
	}
	for i, want := range wantOrder {
		if got[i].EventID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].EventID, want)
		}
	}

	page, err := store.ListRecentEvents(ctx, "story_1", 1, 1)
	if err != nil || len(page) != 1 || page[0].EventID != "evt_3_3_cccccccc" {
		t.Fatalf("paging broken: %+v %v", page, err)
	}
}

func TestEventsByTurnAndTimeRange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, entry := range []struct{ turn, order int }{{1, 1}, {1, 2}, {2, 5}} {
		evt := storedEvent(fmt.Sprintf("evt_%d_%d_0000000%d", entry.turn, entry.order, i), entry.turn, entry.order, base)
		if err := store.AppendEvent(ctx, "story_1", evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byTurn, err := store.EventsByTurn(ctx, "story_1", 1)
	if err != nil || len(byTurn) != 2 {
		t.Fatalf("by turn: %d events, err %v", len(byTurn), err)
	}

	minOrder, maxOrder := 2, 5
	ranged, err := store.EventsByTimeRange(ctx, "story_1", &minOrder, &maxOrder)
	if err != nil || len(ranged) != 2 {
		t.Fatalf("by range: %d events, err %v", len(ranged), err)
	}
	open, err := store.EventsByTimeRange(ctx, "story_1", nil, nil)
	if err != nil || len(open) != 3 {
		t.Fatalf("open range: %d events, err %v", len(open), err)
	}
}

func TestCommitTurnIsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := state.NewInitial("story_1", time.Unix(1700000000, 0))
	good := storedEvent("evt_1_1_aaaaaaaa", 1, 1, time.Unix(1700000000, 0))
	if err := store.AppendEvent(ctx, "story_1", good); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	// Committing a turn whose second event collides must roll back the
	// state save and the first append.
	s.Meta.Turn = 9
	fresh := storedEvent("evt_9_9_ffffffff", 9, 9, time.Unix(1700000900, 0))
	dup := storedEvent("evt_1_1_aaaaaaaa", 9, 9, time.Unix(1700000901, 0))
	err := store.CommitTurn(ctx, "story_1", s, []event.Event{fresh, dup})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventIDCollision, "")) {
		t.Fatalf("expected collision, got %v", err)
	}

	if got, _ := store.LoadState(ctx, "story_1"); got != nil {
		t.Fatalf("state save should have rolled back, got %+v", got.Meta)
	}
	if evt, _ := store.GetEvent(ctx, "evt_9_9_ffffffff"); evt != nil {
		t.Fatal("first append should have rolled back")
	}

	// A clean commit lands both.
	if err := store.CommitTurn(ctx, "story_1", s, []event.Event{fresh}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got, err := store.LoadState(ctx, "story_1"); err != nil || got == nil || got.Meta.Turn != 9 {
		t.Fatalf("state not committed: %+v %v", got, err)
	}
	if evt, _ := store.GetEvent(ctx, "evt_9_9_ffffffff"); evt == nil {
		t.Fatal("event not committed")
	}
}
