package service

import (
	"bitwise74/asset-api/internal/model"
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadImage(t *testing.T, env *testEnv, w, h int) *model.Asset {
	t.Helper()

	// Direct uploads have to fit in one chunk
	env.uploader.ChunkSize = DefaultChunkSize

	data := pngBytes(t, w, h)
	a, err := env.uploader.Direct(context.Background(), InitRequest{
		UserID: "alice", Filename: "photo.png", MimeType: "image/png", Size: int64(len(data)),
	}, bytes.NewReader(data))
	require.NoError(t, err)

	return a
}

func TestMakeThumbnail(t *testing.T) {
	th, err := MakeThumbnail(bytes.NewReader(pngBytes(t, 200, 100)), 50)
	require.NoError(t, err)

	assert.Equal(t, 200, th.Width)
	assert.Equal(t, 100, th.Height)

	img, err := jpeg.Decode(bytes.NewReader(th.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())

	_, err = MakeThumbnail(bytes.NewReader([]byte("not an image")), 50)
	assert.ErrorIs(t, err, ErrUndecodableImage)
}

func TestProcessorThumbnail(t *testing.T) {
	env := newTestEnv(t)
	a := uploadImage(t, env, 64, 32)

	p := &Processor{DB: env.db, Store: env.store, Settings: env.settings, ThumbWidth: 16}
	require.NoError(t, p.Handle(context.Background(), Task{Type: TaskThumbnail, AssetID: a.ID}))

	var got model.Asset
	require.NoError(t, env.db.First(&got, a.ID).Error)
	assert.Equal(t, 64, got.Width)
	assert.Equal(t, 32, got.Height)
	assert.Equal(t, thumbnailKey(a.StorageKey), got.ThumbnailKey)

	obj, err := env.store.Stat(context.Background(), got.ThumbnailKey)
	require.NoError(t, err)
	assert.Positive(t, obj.Size)
}

func TestProcessorMissingObject(t *testing.T) {
	env := newTestEnv(t)
	a := uploadImage(t, env, 8, 8)
	require.NoError(t, env.store.Delete(context.Background(), a.StorageKey))

	p := &Processor{DB: env.db, Store: env.store, ThumbWidth: 16}
	require.NoError(t, p.Thumbnail(context.Background(), a.ID))

	var got model.Asset
	require.NoError(t, env.db.First(&got, a.ID).Error)
	assert.True(t, got.Missing)

	// Deleted assets are skipped quietly
	assert.NoError(t, p.Thumbnail(context.Background(), 9999))
	assert.Error(t, p.Handle(context.Background(), Task{Type: "asset:unknown"}))
}

func TestProcessorAutoTag(t *testing.T) {
	env := newTestEnv(t)
	a := uploadImage(t, env, 8, 8)
	ctx := context.Background()

	srv := newTestServerFunc(t, `[{"tags":{"sky":0.8,"Blue":0.7,"noise":0.1}}]`)
	p := &Processor{
		DB:       env.db,
		Store:    env.store,
		Settings: env.settings,
		Tagger:   NewTagger(srv, "", 0.4, 10, time.Second),
	}

	// Disabled by the setting
	require.NoError(t, p.AutoTag(ctx, a.ID))
	var got model.Asset
	require.NoError(t, env.db.Preload("Tags").First(&got, a.ID).Error)
	assert.Empty(t, got.Tags)

	require.NoError(t, env.settings.Set(ctx, SettingAITagging, "true"))
	require.NoError(t, p.AutoTag(ctx, a.ID))
	require.NoError(t, p.AutoTag(ctx, a.ID))

	require.NoError(t, env.db.Preload("Tags").First(&got, a.ID).Error)
	names := []string{}
	for _, tag := range got.Tags {
		assert.Equal(t, model.TagTypeAI, tag.Type)
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"sky", "blue"}, names)
}

func TestFindOrCreateTags(t *testing.T) {
	gdb := newTestDB(t)

	first, err := FindOrCreateTags(gdb, []string{"Beach", "beach ", "", "sunset"}, model.TagTypeUser)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := FindOrCreateTags(gdb, []string{"sunset"}, model.TagTypeUser)
	require.NoError(t, err)
	assert.Equal(t, first[1].ID, second[0].ID)

	ai, err := FindOrCreateTags(gdb, []string{"sunset"}, model.TagTypeAI)
	require.NoError(t, err)
	assert.NotEqual(t, first[1].ID, ai[0].ID, "same name with another type is a different tag")
}

func newTestServerFunc(t *testing.T, body string) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv.URL
}
