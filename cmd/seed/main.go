package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shinyyama/estate-chat/internal/applog"
	"github.com/shinyyama/estate-chat/internal/config"
	"github.com/shinyyama/estate-chat/internal/db"
	"github.com/shinyyama/estate-chat/internal/model"
	"github.com/shinyyama/estate-chat/internal/repository"
	"gorm.io/gorm"
)

type seedListing struct {
	Title   string
	Address string
	Price   uint64
	Slug    string
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed.fail", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := applog.New(cfg.LogLevel)

	owners := parseOwners(os.Getenv("SEED_OWNER_UIDS"))
	if len(owners) == 0 {
		return errors.New("SEED_OWNER_UIDS is empty; set a comma separated list of owner uids")
	}

	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	canSeed, err := shouldSeed(ctx, repository.NewPropertyRepository(gdb), os.Getenv("FORCE_SEED"))
	if err != nil {
		return err
	}
	if !canSeed {
		log.Info("seed.skip", "reason", "properties already exist; set FORCE_SEED=true to add more")
		return nil
	}

	props := buildSeedProperties(owners)
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewPropertyRepository(tx)
		for i := range props {
			if err := repo.Create(ctx, &props[i]); err != nil {
				return fmt.Errorf("insert property %q: %w", props[i].Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("seed.done", "properties", len(props), "owners", len(owners))
	return nil
}

func parseOwners(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// buildSeedProperties spreads the sample listings over owners round-robin.
func buildSeedProperties(owners []string) []model.Property {
	listings := []seedListing{
		{Title: "Sunny 1LDK near Central Park", Address: "2-4-1 Chuo, Tokyo", Price: 98000, Slug: "central-1ldk"},
		{Title: "Riverside studio with balcony", Address: "5-12 Kawabata, Osaka", Price: 62000, Slug: "riverside-studio"},
		{Title: "Family 3LDK with parking", Address: "1-8-3 Midori, Yokohama", Price: 145000, Slug: "family-3ldk"},
		{Title: "Renovated 2DK close to station", Address: "3-2-9 Ekimae, Nagoya", Price: 78000, Slug: "station-2dk"},
		{Title: "Harbor view 2LDK", Address: "7-1 Minato, Kobe", Price: 120000, Slug: "harbor-2ldk"},
		{Title: "Quiet 1K for students", Address: "4-6-2 Gakuen, Kyoto", Price: 45000, Slug: "student-1k"},
		{Title: "Detached house with garden", Address: "9-3 Sakura, Sapporo", Price: 160000, Slug: "garden-house"},
		{Title: "Designer loft in old warehouse", Address: "2-11 Kura, Fukuoka", Price: 132000, Slug: "warehouse-loft"},
	}

	out := make([]model.Property, 0, len(listings))
	for i, l := range listings {
		img := picsumURL(l.Slug, i+1)
		out = append(out, model.Property{
			OwnerUID: owners[i%len(owners)],
			Title:    l.Title,
			Address:  l.Address,
			Price:    l.Price,
			ImageURL: &img,
		})
	}
	return out
}

func shouldSeed(ctx context.Context, repo repository.PropertyRepository, force string) (bool, error) {
	cnt, err := repo.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count properties: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(strings.TrimSpace(force), "true"), nil
}

func picsumURL(slug string, index int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s-%d/800/600", slug, index)
}
