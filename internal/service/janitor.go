package service

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/session"
	"bitwise74/asset-api/internal/storage"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Janitor runs the periodic cleanups: orphaned upload chunks, expired API
// tokens and assets that sat in the trash for too long
type Janitor struct {
	DB             *gorm.DB
	Store          storage.Store
	Sessions       session.Store
	TrashRetention time.Duration

	now func() time.Time
}

func (j *Janitor) timeNow() time.Time {
	if j.now == nil {
		return time.Now()
	}

	return j.now()
}

// Start schedules every cleanup and returns the running scheduler
func (j *Janitor) Start(sweepInterval time.Duration) (*cron.Cron, error) {
	c := cron.New()

	jobs := []struct {
		name  string
		every time.Duration
		run   func(ctx context.Context) (int, error)
	}{
		{"chunk_sweep", sweepInterval, j.SweepOrphanChunks},
		// Tokens expire rarely so check once a day
		{"token_cleanup", 24 * time.Hour, j.PruneAPITokens},
		{"trash_purge", 6 * time.Hour, j.PurgeTrash},
	}

	for _, job := range jobs {
		_, err := c.AddFunc(fmt.Sprintf("@every %s", job.every), func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			n, err := job.run(ctx)
			if err != nil {
				zap.L().Error("Cleanup failed", zap.String("job", job.name), zap.Error(err))
				return
			}

			zap.L().Debug("Cleanup finished", zap.String("job", job.name), zap.Int("removed", n))
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s, %w", job.name, err)
		}

		zap.L().Debug("Cleanup attached", zap.String("job", job.name), zap.Duration("tick_every", job.every))
	}

	c.Start()
	return c, nil
}

// SweepOrphanChunks deletes chunk objects whose session no longer exists.
// Chunks younger than the session TTL are never touched so a session that
// is still being created can't lose data.
func (j *Janitor) SweepOrphanChunks(ctx context.Context) (int, error) {
	objs, err := j.Store.List(ctx, ChunkPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := j.timeNow().Add(-j.Sessions.TTL())
	alive := map[string]bool{}
	var orphans []string

	for _, o := range objs {
		if o.LastModified.After(cutoff) {
			continue
		}

		token, _, ok := strings.Cut(strings.TrimPrefix(o.Key, ChunkPrefix), "/")
		if !ok || token == "" {
			continue
		}

		exists, checked := alive[token]
		if !checked {
			exists, err = j.Sessions.Exists(ctx, token)
			if err != nil {
				return 0, err
			}

			alive[token] = exists
		}

		if !exists {
			orphans = append(orphans, o.Key)
		}
	}

	if len(orphans) == 0 {
		return 0, nil
	}

	if err := j.Store.DeleteMany(ctx, orphans); err != nil {
		return 0, err
	}

	return len(orphans), nil
}

func (j *Janitor) PruneAPITokens(ctx context.Context) (int, error) {
	res := j.DB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", j.timeNow()).
		Delete(&model.APIToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired tokens, %w", res.Error)
	}

	return int(res.RowsAffected), nil
}

// PurgeTrash permanently removes soft deleted assets older than the
// retention period together with their objects
func (j *Janitor) PurgeTrash(ctx context.Context) (int, error) {
	if j.TrashRetention <= 0 {
		return 0, nil
	}

	var assets []model.Asset

	err := j.DB.WithContext(ctx).
		Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", j.timeNow().Add(-j.TrashRetention)).
		Find(&assets).
		Error
	if err != nil {
		return 0, fmt.Errorf("failed to query trashed assets, %w", err)
	}

	if len(assets) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(assets)*2)
	for _, a := range assets {
		keys = append(keys, a.StorageKey)
		if a.ThumbnailKey != "" {
			keys = append(keys, a.ThumbnailKey)
		}
	}

	if err := j.Store.DeleteMany(ctx, keys); err != nil {
		return 0, err
	}

	err = j.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range assets {
			if err := tx.Model(&assets[i]).Association("Tags").Clear(); err != nil {
				return err
			}

			if err := tx.Unscoped().Delete(&assets[i]).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete trashed assets, %w", err)
	}

	return len(assets), nil
}
