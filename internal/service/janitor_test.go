package service

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/session"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOrphanChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	live, err := env.uploader.Init(ctx, InitRequest{UserID: "alice", Filename: "a.txt", MimeType: "text/plain", Size: 20})
	require.NoError(t, err)
	sendChunk(t, env.uploader, "alice", live.Token, 1, make([]byte, 10))

	// Chunks left behind by a session that is long gone
	for _, k := range []string{chunkKey("dead", 1), chunkKey("dead", 2)} {
		require.NoError(t, env.store.Put(ctx, k, bytes.NewReader([]byte("x")), 1, ""))
	}

	j := &Janitor{DB: env.db, Store: env.store, Sessions: env.sessions}

	// Everything is too fresh right now
	n, err := j.SweepOrphanChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err = j.SweepOrphanChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	objs, err := env.store.List(ctx, ChunkPrefix)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, chunkKey(live.Token, 1), objs[0].Key)
}

func TestPruneAPITokens(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, env.db.Create(&[]model.APIToken{
		{UserID: "alice", Name: "old", TokenHash: "h1", ExpiresAt: &past},
		{UserID: "alice", Name: "new", TokenHash: "h2", ExpiresAt: &future},
		{UserID: "alice", Name: "forever", TokenHash: "h3"},
	}).Error)

	j := &Janitor{DB: env.db}
	n, err := j.PruneAPITokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var left []model.APIToken
	require.NoError(t, env.db.Order("name").Find(&left).Error)
	require.Len(t, left, 2)
	assert.Equal(t, "forever", left[0].Name)
	assert.Equal(t, "new", left[1].Name)
}

func TestPurgeTrash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trashed := uploadImage(t, env, 8, 8)
	kept := uploadImage(t, env, 8, 8)

	p := &Processor{DB: env.db, Store: env.store, ThumbWidth: 4}
	require.NoError(t, p.Thumbnail(ctx, trashed.ID))
	require.NoError(t, env.db.First(trashed, trashed.ID).Error)

	tags, err := FindOrCreateTags(env.db, []string{"beach"}, model.TagTypeUser)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(trashed).Association("Tags").Append(tags))

	require.NoError(t, env.db.Delete(trashed).Error)

	j := &Janitor{DB: env.db, Store: env.store, Sessions: env.sessions, TrashRetention: 30 * 24 * time.Hour}

	n, err := j.PurgeTrash(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still within retention")

	j.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	n, err = j.PurgeTrash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var count int64
	env.db.Unscoped().Model(model.Asset{}).Count(&count)
	assert.Equal(t, int64(1), count)

	_, err = env.store.Stat(ctx, trashed.StorageKey)
	assert.Error(t, err)
	_, err = env.store.Stat(ctx, trashed.ThumbnailKey)
	assert.Error(t, err)
	_, err = env.store.Stat(ctx, kept.StorageKey)
	assert.NoError(t, err)
}

func TestJanitorStart(t *testing.T) {
	sessions := session.NewMemoryStore(time.Hour, nil)
	defer sessions.Close()

	j := &Janitor{DB: newTestDB(t), Store: newTestEnv(t).store, Sessions: sessions}
	c, err := j.Start(time.Minute)
	require.NoError(t, err)
	defer c.Stop()

	assert.Len(t, c.Entries(), 3)
}
