package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaultsAndOverrides(t *testing.T) {
	gdb := newTestDB(t)
	s := NewSettings(gdb, map[string]string{
		SettingAITagging:      "true",
		SettingThumbnailWidth: "400",
	})
	defer s.Close()

	ctx := context.Background()

	// Seeded rows are empty so the defaults win
	assert.True(t, s.Bool(ctx, SettingAITagging))
	assert.Equal(t, 400, s.Int(ctx, SettingThumbnailWidth))
	assert.Equal(t, "", s.String(ctx, SettingStorageRoot))

	require.NoError(t, s.Set(ctx, SettingAITagging, "false"))
	require.NoError(t, s.Set(ctx, SettingThumbnailWidth, "256"))
	require.NoError(t, s.Set(ctx, SettingStorageRoot, "library/"))

	assert.False(t, s.Bool(ctx, SettingAITagging))
	assert.Equal(t, 256, s.Int(ctx, SettingThumbnailWidth))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		SettingAITagging:      "false",
		SettingThumbnailWidth: "256",
		SettingStorageRoot:    "library/",
	}, all)

	// Clearing a value brings the default back
	require.NoError(t, s.Set(ctx, SettingThumbnailWidth, ""))
	assert.Equal(t, 400, s.Int(ctx, SettingThumbnailWidth))
}

func TestSettingsRejectsBadValues(t *testing.T) {
	s := NewSettings(newTestDB(t), nil)
	defer s.Close()

	ctx := context.Background()

	assert.ErrorIs(t, s.Set(ctx, "favourite_color", "blue"), ErrUnknownSetting)
	assert.ErrorIs(t, s.Set(ctx, SettingAITagging, "sometimes"), ErrInvalidSetting)
	assert.ErrorIs(t, s.Set(ctx, SettingThumbnailWidth, "8"), ErrInvalidSetting)
	assert.ErrorIs(t, s.Set(ctx, SettingStorageRoot, "../etc"), ErrInvalidSetting)

	_, err := s.Get(ctx, "favourite_color")
	assert.ErrorIs(t, err, ErrUnknownSetting)
}

func TestUploaderUsesStorageRootSetting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.settings.Set(ctx, SettingStorageRoot, "library"))
	assert.Regexp(t, `^library/team/[0-9a-f-]{36}\.pdf$`, env.uploader.objectKey(ctx, "team", "Report.PDF"))

	require.NoError(t, env.settings.Set(ctx, SettingStorageRoot, ""))
	assert.Regexp(t, `^assets/[0-9a-f-]{36}\.pdf$`, env.uploader.objectKey(ctx, "", "report.pdf"))
}
