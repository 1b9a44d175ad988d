package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/config"
	"github.com/sudo-init-do/moverspay/internal/db"
	"github.com/sudo-init-do/moverspay/internal/memstore"
)

func main() {
	file := flag.String("file", "", "JSON file with users and drivers to create or update")
	flag.Parse()

	if *file == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/seed_accounts -file accounts.json")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open seed file: %v", err)
	}
	defer f.Close()
	seed, err := memstore.ReadSeed(f)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool, zap.NewNop()); err != nil {
		log.Fatalf("%v", err)
	}

	store := db.NewStore(pool)
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		for _, u := range seed.Users {
			if err := store.UpsertUser(ctx, u); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
		}
		for _, d := range seed.Drivers {
			if err := store.UpsertDriver(ctx, d); err != nil {
				return fmt.Errorf("driver %s: %w", d.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("failed to seed accounts: %v", err)
	}

	fmt.Printf("Seeded %d users and %d drivers.\n", len(seed.Users), len(seed.Drivers))
}
