// The seed command creates a demo story with generated characters,
// locations, factions, and items.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	platformcmd "github.com/louisbranch/storygate/internal/platform/cmd"
	"github.com/louisbranch/storygate/internal/platform/config"
	"github.com/louisbranch/storygate/internal/seed/worldbuilder"
	"github.com/louisbranch/storygate/internal/storage/sqlite"
	"github.com/louisbranch/storygate/internal/story/state"
)

type seedConfig struct {
	DBPath string `env:"STORYGATE_DB_PATH" envDefault:"data/storygate.db"`
}

var (
	storyID = flag.String("story", "demo_story", "story id to seed")
	seed    = flag.Int64("seed", 0, "random seed (0 uses the current time)")
)

func main() {
	ctx := context.Background()

	var cfg seedConfig
	if err := platformcmd.ParseConfigFromArgs(&cfg, flag.CommandLine, os.Args[1:]); err != nil {
		config.Exitf("parse config: %v", err)
	}

	randomSeed := *seed
	if randomSeed == 0 {
		randomSeed = time.Now().UnixNano()
	}
	builder := worldbuilder.New(rand.New(rand.NewSource(randomSeed)))

	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			config.Exitf("create db dir: %v", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		config.Exitf("open store: %v", err)
	}
	defer store.Close()

	s := buildDemoState(builder, *storyID)
	if err := state.Validate(s); err != nil {
		config.Exitf("seeded state failed integrity: %v", err)
	}
	if err := store.SaveState(ctx, *storyID, s); err != nil {
		config.Exitf("save state: %v", err)
	}
	log.Printf("seeded story %s: %d characters, %d locations, %d factions, %d items",
		*storyID, len(s.Entities.Characters), len(s.Entities.Locations),
		len(s.Entities.Factions), len(s.Entities.Items))
}

func buildDemoState(builder *worldbuilder.WorldBuilder, storyID string) *state.CanonicalState {
	s := state.NewInitial(storyID, time.Now())
	s.Entities.Locations[state.DefaultLocationID].Metadata["theme"] = builder.StoryTheme()

	var locationIDs []string
	for i := 1; i <= 3; i++ {
		id := builder.EntityID("loc", i)
		s.Entities.Locations[id] = &state.Location{
			ID:       id,
			Name:     builder.LocationName(),
			Metadata: map[string]any{},
		}
		locationIDs = append(locationIDs, id)
	}

	factionID := builder.EntityID("faction", 1)
	var memberIDs []string
	for i := 1; i <= 4; i++ {
		id := builder.EntityID("char", i)
		s.Entities.Characters[id] = &state.Character{
			ID:         id,
			Name:       builder.CharacterName(),
			LocationID: locationIDs[(i-1)%len(locationIDs)],
			Alive:      true,
			Metadata:   map[string]any{},
		}
		if i <= 2 {
			s.Entities.Characters[id].FactionID = factionID
			memberIDs = append(memberIDs, id)
		}
	}
	s.Entities.Factions[factionID] = &state.Faction{
		ID:       factionID,
		Name:     builder.FactionName(),
		LeaderID: memberIDs[0],
		Members:  memberIDs,
		Metadata: map[string]any{},
	}

	uniqueItemID := builder.EntityID("item", 1)
	s.Entities.Items[uniqueItemID] = &state.Item{
		ID:       uniqueItemID,
		Name:     builder.ItemName(),
		OwnerID:  memberIDs[0],
		Unique:   true,
		Metadata: map[string]any{},
	}
	s.Constraints.UniqueItemIDs = append(s.Constraints.UniqueItemIDs, uniqueItemID)

	s.Quest.Active = append(s.Quest.Active, &state.Quest{
		ID:       builder.EntityID("quest", 1),
		Title:    builder.QuestTitle(),
		Status:   state.QuestActive,
		Metadata: map[string]any{},
	})

	// Place the relic where its owner stands; an owned item without that
	// location trips the gate's item-position rule (R2) on the first batch.
	s.Entities.Items[uniqueItemID].LocationID = s.Entities.Characters[memberIDs[0]].LocationID
	return s
}
