// Package main provides a CLI for seeding a local development database with a
// demo campaign: one scene, two assigned pcs, and an npc, ready for play.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lorebound/lorebound/internal/platform/config"
	"github.com/lorebound/lorebound/internal/services/game/app"
	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	storagesqlite "github.com/lorebound/lorebound/internal/services/game/storage/sqlite"
)

func main() {
	var dbPath string
	var name string
	var moderator string
	flag.StringVar(&dbPath, "db", "data/game.db", "game SQLite database path")
	flag.StringVar(&name, "name", "Demo Campaign", "campaign name")
	flag.StringVar(&moderator, "moderator", "participant-moderator", "moderator participant id")
	flag.Parse()

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			config.Exitf("create storage dir: %v", err)
		}
	}
	store, err := storagesqlite.Open(dbPath)
	if err != nil {
		config.Exitf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	components := app.NewComponents(store, nil)
	lifecycle := components.Lifecycle

	camp, err := lifecycle.CreateCampaign(ctx, campaign.CreateInput{
		Name:                   name,
		ModeratorParticipantID: moderator,
	})
	if err != nil {
		config.Exitf("create campaign: %v", err)
	}

	stage, err := lifecycle.CreateScene(ctx, scene.CreateInput{
		CampaignID: camp.ID,
		Name:       "Opening Scene",
	}, moderator)
	if err != nil {
		config.Exitf("create scene: %v", err)
	}

	cast := []character.CreateInput{
		{CampaignID: camp.ID, Name: "Asha", Kind: character.KindPC, ParticipantID: "participant-1"},
		{CampaignID: camp.ID, Name: "Bren", Kind: character.KindPC, ParticipantID: "participant-2"},
		{CampaignID: camp.ID, Name: "The Ferryman", Kind: character.KindNPC},
	}
	for _, input := range cast {
		record, err := lifecycle.CreateCharacter(ctx, input, moderator)
		if err != nil {
			config.Exitf("create character %s: %v", input.Name, err)
		}
		if err := lifecycle.AddToScene(ctx, stage.ID, record.ID, moderator); err != nil {
			config.Exitf("add %s to scene: %v", input.Name, err)
		}
		fmt.Printf("character %s: %s\n", input.Name, record.ID)
	}

	fmt.Printf("campaign: %s\nscene: %s\nmoderator: %s\n", camp.ID, stage.ID, moderator)
}
