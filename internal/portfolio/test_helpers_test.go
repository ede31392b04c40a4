package portfolio

import (
	"testing"
	"time"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustPortfolioID(t *testing.T, value string) PortfolioID {
	t.Helper()
	id, err := NewPortfolioID(value)
	if err != nil {
		t.Fatalf("unexpected portfolio id error: %v", err)
	}
	return id
}

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustBaseline(t *testing.T, value int64) BaselineVersion {
	t.Helper()
	baseline, err := NewBaselineVersion(value)
	if err != nil {
		t.Fatalf("unexpected baseline version error: %v", err)
	}
	return baseline
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(githubsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Portfolio{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}
