package service

import (
	"bitwise74/asset-api/db"
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/session"
	"bitwise74/asset-api/internal/storage"
	"bitwise74/asset-api/pkg/validators"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return gdb
}

func createUser(t *testing.T, gdb *gorm.DB, id string, quota int64) {
	t.Helper()

	require.NoError(t, gdb.Create(&model.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		JWTSecret:    "secret-" + id,
		Stats:        model.Stats{UserID: id, MaxStorage: quota},
	}).Error)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
}

func (d *recordingDispatcher) Enqueue(_ context.Context, t Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tasks = append(d.tasks, t)
	return nil
}

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := []string{}
	for _, t := range d.tasks {
		out = append(out, t.Type)
	}
	return out
}

type testEnv struct {
	db         *gorm.DB
	store      *storage.FSStore
	sessions   *session.MemoryStore
	settings   *Settings
	dispatcher *recordingDispatcher
	uploader   *Uploader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb := newTestDB(t)
	createUser(t, gdb, "alice", 0)
	createUser(t, gdb, "bob", 0)

	store := storage.NewFSStore(afero.NewMemMapFs())
	sessions := session.NewMemoryStore(time.Hour, nil)
	settings := NewSettings(gdb, map[string]string{SettingAITagging: "false"})
	d := &recordingDispatcher{}

	t.Cleanup(func() {
		sessions.Close()
		settings.Close()
	})

	return &testEnv{
		db:         gdb,
		store:      store,
		sessions:   sessions,
		settings:   settings,
		dispatcher: d,
		uploader: &Uploader{
			DB:         gdb,
			Store:      store,
			Sessions:   sessions,
			Settings:   settings,
			Dispatcher: d,
			Rules: validators.UploadRules{
				MaxSize:      100 << 20,
				AllowedTypes: []string{"image/*", "application/pdf", "text/plain"},
			},
			ChunkSize:  10,
			RootFolder: "assets",
		},
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
