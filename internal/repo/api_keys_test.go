package repo_test

import (
	"context"
	"errors"
	"testing"

	"rewardline/internal/db"
	"rewardline/internal/domain"
	"rewardline/internal/migrate"
	"rewardline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestHashAPIKeyTrimsWhitespace(t *testing.T) {
	if repo.HashAPIKey("secret") != repo.HashAPIKey("  secret \n") {
		t.Fatal("surrounding whitespace should not change the hash")
	}
	if repo.HashAPIKey("secret") == repo.HashAPIKey("other") {
		t.Fatal("distinct keys should not collide")
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	key := domain.APIKey{
		ID:        "key-1",
		ActorID:   "actor-1",
		ActorName: "Ada",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey("raw-value"),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("raw-value"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActorID != "actor-1" || got.ActorName != "Ada" || got.Name != "ci" {
		t.Fatalf("got = %+v", got)
	}
	if got.CreatedAt == "" {
		t.Fatal("created_at should default")
	}

	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("unknown"))
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyListAndDelete(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	for i, actor := range []string{"actor-1", "actor-1", "actor-2"} {
		key := domain.APIKey{
			ID:      string(rune('a' + i)),
			ActorID: actor,
			KeyHash: repo.HashAPIKey(string(rune('a' + i))),
		}
		if err := r.InsertAPIKey(ctx, nil, key); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := r.ListAPIKeys(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	mine, err := r.ListAPIKeys(ctx, "actor-1")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("filtered len = %d", len(mine))
	}

	if err := r.DeleteAPIKey(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = r.ListAPIKeys(ctx, "")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len after delete = %d", len(all))
	}
}

func TestInsertAPIKeyValidation(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ActorID: "a", KeyHash: "h"}); err == nil {
		t.Fatal("missing id should fail")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k", KeyHash: "h"}); err == nil {
		t.Fatal("missing actor_id should fail")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k", ActorID: "a"}); err == nil {
		t.Fatal("missing key_hash should fail")
	}
}
