package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/mongocfg/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateRender demonstrates recording a generation and
// reading back the latest one for a target.
func ExampleSQLiteStore_CreateRender() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.CreateRender(ctx, &stores.Render{
		ID:         "render-001",
		Target:     "db1.example.com",
		Ensure:     "present",
		InputHash:  "3f1c",
		ConfigHash: "9a0b",
		Artifacts:  `{"config":{"path":"/etc/mongod.conf"}}`,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Fatal(err)
	}

	latest, err := store.LatestRender(ctx, "db1.example.com")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s\n", latest.ID, latest.Ensure)
	// Output: render-001 present
}
