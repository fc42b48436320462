package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	masterID = "11111111-1111-4111-8111-111111111111"
	chunkID  = "22222222-2222-4222-8222-222222222222"
)

// seedableStore добавляет к памяти сигнатуру наполнения пула, как у PostgreSQL
type seedableStore struct {
	*memory.Storage
	seeded []string
}

func (s *seedableStore) SeedIdentifiers(_ context.Context, codes []string) (int, error) {
	before, _ := s.Storage.IdentifierStats(context.Background())
	s.Storage.SeedIdentifiers(codes...)
	after, _ := s.Storage.IdentifierStats(context.Background())
	s.seeded = append(s.seeded, codes...)
	return after.Total - before.Total, nil
}

func newStore(t *testing.T) *seedableStore {
	t.Helper()
	store := &seedableStore{Storage: memory.New()}
	store.Storage.SeedIdentifiers("000000000017", "000000000024")

	master := &models.Batch{ID: masterID, ChunkCount: 1, ProductKeys: []string{"p-1"}, Status: models.BatchStatusSubmitted}
	chunk := &models.Batch{ID: chunkID, ParentBatchID: &master.ID, ProductKeys: []string{"p-1"}, Status: models.BatchStatusSubmitted}
	err := store.CreateBatchTree(context.Background(), &models.BatchTree{
		Master: master,
		Leaves: []models.LeafBatch{{
			Batch: chunk,
			Items: []*models.BatchItem{{BatchID: chunkID, ProductKey: "p-1", SKU: "SKU-1", Status: models.ItemStatusPending}},
		}},
	})
	require.NoError(t, err)
	return store
}

func run(t *testing.T, store Store, args ...string) (string, error) {
	t.Helper()
	deps := Deps{
		Open: func(context.Context, string) (Store, func() error, error) {
			return store, func() error { return nil }, nil
		},
		Migrate: func(context.Context, string) error { return nil },
	}
	root := NewRootCommand("test", deps)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBatchList(t *testing.T) {
	out, err := run(t, newStore(t), "batch", "list", "--masters-only")
	require.NoError(t, err)

	var decoded struct {
		Total   int             `json:"total"`
		Batches []*models.Batch `json:"batches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 1, decoded.Total)
	require.Len(t, decoded.Batches, 1)
	assert.Equal(t, masterID, decoded.Batches[0].ID)

	_, err = run(t, newStore(t), "batch", "list", "--status", "lost")
	assert.Error(t, err)
}

func TestBatchShow(t *testing.T) {
	store := newStore(t)

	out, err := run(t, store, "batch", "show", masterID)
	require.NoError(t, err)
	var master map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &master))
	assert.Len(t, master["chunks"], 1)

	out, err = run(t, store, "batch", "show", chunkID, "-o", "yaml")
	require.NoError(t, err)
	var chunk map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &chunk))
	items := chunk["items"].(map[string]interface{})
	assert.Equal(t, 1, items["pending"])

	_, err = run(t, store, "batch", "show", "33333333-3333-4333-8333-333333333333")
	assert.ErrorIs(t, err, models.ErrBatchNotFound)
}

func TestBatchItems(t *testing.T) {
	out, err := run(t, newStore(t), "batch", "items", chunkID)
	require.NoError(t, err)

	var items []*models.BatchItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "SKU-1", items[0].SKU)
}

func TestIdentifiers(t *testing.T) {
	store := newStore(t)

	out, err := run(t, store, "identifiers", "stats")
	require.NoError(t, err)
	var stats models.IdentifierStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, models.IdentifierStats{Total: 2, Claimed: 0, Free: 2}, stats)

	file := filepath.Join(t.TempDir(), "codes.txt")
	require.NoError(t, os.WriteFile(file, []byte("# batch 7\n000000000031\n\n000000000017\n"), 0o600))

	out, err = run(t, store, "identifiers", "seed", "000000000048", "--file", file)
	require.NoError(t, err)
	var seeded map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))
	assert.Equal(t, 3, seeded["given"])
	assert.Equal(t, 2, seeded["inserted"])
	assert.Equal(t, []string{"000000000048", "000000000031", "000000000017"}, store.seeded)

	_, err = run(t, store, "identifiers", "seed")
	assert.Error(t, err)
}

func TestRulesValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  boots:
    marketplace_key: Boots
    rules:
      - target_field: item_name
        strategy: passthrough_field
        source_key: name
      - target_field: sparkle
        strategy: telepathy
`), 0o600))

	out, err := run(t, nil, "rules", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 invalid mapping rules")

	var report map[string]struct {
		Rules   int      `json:"rules"`
		Invalid []string `json:"invalid"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report["boots"].Rules)
	require.Len(t, report["boots"].Invalid, 1)
	assert.Contains(t, report["boots"].Invalid[0], "sparkle")
}

func TestMigrate(t *testing.T) {
	out, err := run(t, nil, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied")
}
