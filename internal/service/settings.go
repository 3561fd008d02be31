package service

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/pkg/validators"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SettingAITagging      = "ai_tagging_enabled"
	SettingStorageRoot    = "storage_root_folder"
	SettingThumbnailWidth = "thumbnail_width"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting value")
)

var settingValidators = map[string]func(string) error{
	SettingAITagging: func(v string) error {
		_, err := strconv.ParseBool(v)
		return err
	},
	SettingStorageRoot: func(v string) error {
		_, err := validators.CleanFolder(v)
		return err
	},
	SettingThumbnailWidth: func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}

		if n < 16 || n > 2048 {
			return errors.New("must be between 16 and 2048")
		}

		return nil
	},
}

// Settings serves runtime mutable settings stored in the database. Values
// are cached for a short while. An empty stored value falls back to the
// default passed at construction.
type Settings struct {
	db       *gorm.DB
	cache    *ttlcache.Cache
	defaults map[string]string
}

func NewSettings(db *gorm.DB, defaults map[string]string) *Settings {
	c := ttlcache.NewCache()
	c.SetTTL(30 * time.Second)
	c.SkipTTLExtensionOnHit(true)

	return &Settings{
		db:       db,
		cache:    c,
		defaults: defaults,
	}
}

func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	if _, ok := settingValidators[key]; !ok {
		return "", ErrUnknownSetting
	}

	if v, err := s.cache.Get(key); err == nil {
		return v.(string), nil
	}

	var row model.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load setting %s, %w", key, err)
	}

	v := row.Value
	if v == "" {
		v = s.defaults[key]
	}

	s.cache.Set(key, v)
	return v, nil
}

func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(settingValidators))
	for key := range settingValidators {
		v, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		out[key] = v
	}

	return out, nil
}

// Validate checks a value without saving it. An empty value is always
// valid and resets the setting to its default.
func (s *Settings) Validate(key, value string) error {
	validate, ok := settingValidators[key]
	if !ok {
		return ErrUnknownSetting
	}

	if value == "" {
		return nil
	}

	if err := validate(value); err != nil {
		return fmt.Errorf("%w for %s, %w", ErrInvalidSetting, key, err)
	}

	return nil
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	if err := s.Validate(key, value); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s, %w", key, err)
	}

	s.cache.Remove(key)
	zap.L().Info("Setting updated", zap.String("key", key), zap.String("value", value))
	return nil
}

func (s *Settings) Bool(ctx context.Context, key string) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		zap.L().Error("Failed to read setting", zap.String("key", key), zap.Error(err))
		return false
	}

	b, _ := strconv.ParseBool(v)
	return b
}

func (s *Settings) Int(ctx context.Context, key string) int {
	v, err := s.Get(ctx, key)
	if err != nil {
		zap.L().Error("Failed to read setting", zap.String("key", key), zap.Error(err))
		return 0
	}

	n, _ := strconv.Atoi(v)
	return n
}

func (s *Settings) String(ctx context.Context, key string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		zap.L().Error("Failed to read setting", zap.String("key", key), zap.Error(err))
	}

	return v
}

func (s *Settings) Close() error {
	return s.cache.Close()
}
