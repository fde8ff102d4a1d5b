// Seeding tool for the default platform admin and one uploader plus one
// approver per cooperative union. Existing accounts have their secrets reset.
//
// Reads DATABASE_URL and the rest of the core config via pkg/config.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dallo7/korosho/internal/credential"
	"github.com/dallo7/korosho/internal/repository/postgres"
	"github.com/dallo7/korosho/pkg/config"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("seed")

	cfg := config.Load()
	cfg.Storage.Driver = "postgres"
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	store := postgres.NewStore(db)
	creds := credential.NewService(store, store, credential.NewBcryptHasher(0), random.NewFactory(cfg.Simulation.Seed), log)

	adminPassword := getenv("SEED_ADMIN_PASSWORD", "")
	ctx := context.Background()
	created := 0
	for _, sa := range credential.DefaultSeedAccounts() {
		if sa.Username == "admin" && adminPassword != "" {
			sa.Password = adminPassword
		}
		isNew, err := creds.Seed(ctx, sa)
		if err != nil {
			log.Fatal("Seed failed", map[string]interface{}{"username": sa.Username, "error": err.Error()})
		}
		if isNew {
			created++
		}
		log.Info("Account seeded", map[string]interface{}{
			"username":    sa.Username,
			"role":        string(sa.Role),
			"cooperative": sa.CooperativeName,
			"created":     isNew,
		})
	}

	fmt.Printf("OK: %d accounts created, unions: %s\n", created, strings.Join(credential.Unions, ", "))
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
