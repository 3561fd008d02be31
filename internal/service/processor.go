package service

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/storage"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processor runs the post-processing tasks for uploaded assets
type Processor struct {
	DB         *gorm.DB
	Store      storage.Store
	Settings   *Settings
	Tagger     *Tagger // nil disables auto-tagging
	ThumbWidth int
}

// Handle is a TaskHandler usable by both the job queue and asynq
func (p *Processor) Handle(ctx context.Context, t Task) error {
	switch t.Type {
	case TaskThumbnail:
		return p.Thumbnail(ctx, t.AssetID)
	case TaskAutoTag:
		return p.AutoTag(ctx, t.AssetID)
	default:
		return fmt.Errorf("unknown task type %s", t.Type)
	}
}

func (p *Processor) loadAsset(ctx context.Context, id uint) (*model.Asset, error) {
	var a model.Asset
	if err := p.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}

	return &a, nil
}

func (p *Processor) markMissing(ctx context.Context, a *model.Asset) error {
	zap.L().Warn("Asset object is missing", zap.Uint("asset_id", a.ID), zap.String("key", a.StorageKey))

	return p.DB.WithContext(ctx).
		Model(model.Asset{}).
		Where("id = ?", a.ID).
		Update("missing", true).
		Error
}

func (p *Processor) readObject(ctx context.Context, a *model.Asset) ([]byte, error) {
	rc, err := p.Store.Get(ctx, a.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("failed to read object, %w", err)
	}

	return buf.Bytes(), nil
}

func thumbnailKey(storageKey string) string {
	return "thumbnails/" + strings.TrimSuffix(storageKey, path.Ext(storageKey)) + ".jpg"
}

// Thumbnail records the image dimensions and stores a JPEG preview
func (p *Processor) Thumbnail(ctx context.Context, assetID uint) error {
	a, err := p.loadAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}

		return fmt.Errorf("failed to load asset, %w", err)
	}

	if !a.CanThumbnail() {
		return nil
	}

	data, err := p.readObject(ctx, a)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return p.markMissing(ctx, a)
		}

		return err
	}

	width := p.ThumbWidth
	if p.Settings != nil {
		if w := p.Settings.Int(ctx, SettingThumbnailWidth); w > 0 {
			width = w
		}
	}

	thumb, err := MakeThumbnail(bytes.NewReader(data), width)
	if err != nil {
		return fmt.Errorf("failed to make thumbnail for asset %d, %w", a.ID, err)
	}

	key := thumbnailKey(a.StorageKey)
	if err := p.Store.Put(ctx, key, bytes.NewReader(thumb.JPEG), int64(len(thumb.JPEG)), "image/jpeg"); err != nil {
		return err
	}

	err = p.DB.WithContext(ctx).
		Model(model.Asset{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"width":         thumb.Width,
			"height":        thumb.Height,
			"thumbnail_key": key,
		}).
		Error
	if err != nil {
		return fmt.Errorf("failed to save thumbnail info, %w", err)
	}

	zap.L().Debug("Thumbnail created", zap.Uint("asset_id", a.ID), zap.String("key", key))
	return nil
}

// AutoTag asks the recognition service for labels and attaches them as
// ai tags
func (p *Processor) AutoTag(ctx context.Context, assetID uint) error {
	if p.Tagger == nil {
		return nil
	}

	if p.Settings != nil && !p.Settings.Bool(ctx, SettingAITagging) {
		return nil
	}

	a, err := p.loadAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}

		return fmt.Errorf("failed to load asset, %w", err)
	}

	if !a.IsImage() {
		return nil
	}

	data, err := p.readObject(ctx, a)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return p.markMissing(ctx, a)
		}

		return err
	}

	labels, err := p.Tagger.Tag(ctx, a.Filename, bytes.NewReader(data))
	if err != nil {
		return err
	}

	if len(labels) == 0 {
		return nil
	}

	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}

	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tags, err := FindOrCreateTags(tx, names, model.TagTypeAI)
		if err != nil {
			return err
		}

		return tx.Model(a).Association("Tags").Append(tags)
	})
	if err != nil {
		return fmt.Errorf("failed to attach tags, %w", err)
	}

	zap.L().Debug("Asset auto-tagged", zap.Uint("asset_id", a.ID), zap.Strings("tags", names))
	return nil
}

// FindOrCreateTags returns a tag row for every name, creating the missing
// ones
func FindOrCreateTags(tx *gorm.DB, names []string, tagType string) ([]model.Tag, error) {
	tags := make([]model.Tag, 0, len(names))
	seen := map[string]bool{}

	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true

		t := model.Tag{Name: n, Type: tagType}
		if err := tx.Where(model.Tag{Name: n, Type: tagType}).FirstOrCreate(&t).Error; err != nil {
			return nil, err
		}

		tags = append(tags, t)
	}

	return tags, nil
}
