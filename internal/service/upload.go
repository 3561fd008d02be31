package service

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/internal/session"
	"bitwise74/asset-api/internal/storage"
	"bitwise74/asset-api/pkg/util"
	"bitwise74/asset-api/pkg/validators"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultChunkSize = 10 << 20
	ChunkPrefix      = "chunks/"

	tokenSize       = 32
	sniffSize       = 3072
	finalizeTimeout = 10 * time.Minute
)

type Uploader struct {
	DB         *gorm.DB
	Store      storage.Store
	Sessions   session.Store
	Settings   *Settings
	Dispatcher Dispatcher
	Rules      validators.UploadRules
	ChunkSize  int64
	RootFolder string // Used when the storage_root_folder setting is empty
}

type InitRequest struct {
	UserID   string
	Filename string
	MimeType string
	Size     int64
	Folder   string
}

func (u *Uploader) chunkSize() int64 {
	if u.ChunkSize <= 0 {
		return DefaultChunkSize
	}

	return u.ChunkSize
}

func chunkKey(token string, n int) string {
	return ChunkPrefix + token + "/" + strconv.Itoa(n)
}

// directRules caps direct uploads below one chunk, anything bigger has to
// go through the chunked protocol
func (u *Uploader) directRules() validators.UploadRules {
	r := u.Rules
	if limit := u.chunkSize() - 1; r.MaxSize <= 0 || r.MaxSize > limit {
		r.MaxSize = limit
	}

	return r
}

func (u *Uploader) validate(ctx context.Context, req *InitRequest, rules validators.UploadRules) error {
	req.MimeType = validators.NormalizeMime(req.MimeType)

	err := validators.ValidateUpload(validators.UploadRequest{
		Filename: req.Filename,
		MimeType: req.MimeType,
		Size:     req.Size,
		Folder:   req.Folder,
	}, rules)
	if err != nil {
		return err
	}

	req.Folder, _ = validators.CleanFolder(req.Folder)

	return u.checkQuota(ctx, req.UserID, req.Size)
}

func (u *Uploader) checkQuota(ctx context.Context, userID string, size int64) error {
	var stats model.Stats

	err := u.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&stats).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}

		return fmt.Errorf("failed to load user stats, %w", err)
	}

	if stats.MaxStorage > 0 && stats.UsedStorage+size > stats.MaxStorage {
		return validators.ErrNoSpace
	}

	return nil
}

// Init validates the declared file and opens a new upload session
func (u *Uploader) Init(ctx context.Context, req InitRequest) (*session.Session, error) {
	if err := u.validate(ctx, &req, u.Rules); err != nil {
		return nil, err
	}

	chunk := u.chunkSize()

	for range 3 {
		token, err := util.GenerateToken(tokenSize)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session token, %w", err)
		}

		s := &session.Session{
			Token:          token,
			UserID:         req.UserID,
			Filename:       req.Filename,
			MimeType:       req.MimeType,
			TotalSize:      req.Size,
			Folder:         req.Folder,
			ChunkSize:      chunk,
			ExpectedChunks: session.ChunkCount(req.Size, chunk),
			CreatedAt:      time.Now(),
		}

		err = u.Sessions.Create(ctx, s)
		if errors.Is(err, session.ErrExists) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create upload session, %w", err)
		}

		zap.L().Debug("Upload session created",
			zap.String("user_id", req.UserID),
			zap.Int64("size", req.Size),
			zap.Int("chunks", s.ExpectedChunks))

		return s, nil
	}

	return nil, errors.New("failed to generate a unique session token")
}

// session returns the session if it exists and belongs to userID
func (u *Uploader) session(ctx context.Context, userID, token string) (*session.Session, error) {
	s, err := u.Sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}

		return nil, err
	}

	if s.UserID != userID {
		return nil, ErrSessionNotFound
	}

	return s, nil
}

// ReceiveChunk stores chunk n of a session. Sending the same chunk again
// overwrites it.
func (u *Uploader) ReceiveChunk(ctx context.Context, userID, token string, n int, r io.Reader, size int64) (*session.Session, error) {
	s, err := u.session(ctx, userID, token)
	if err != nil {
		return nil, err
	}

	if !s.ValidChunk(n) {
		return nil, ErrInvalidChunkNumber
	}

	if want := s.ChunkLength(n); size != want {
		return nil, fmt.Errorf("%w, chunk %d must be %d bytes, got %d", ErrChunkSize, n, want, size)
	}

	if err := u.Store.Put(ctx, chunkKey(token, n), io.LimitReader(r, size), size, "application/octet-stream"); err != nil {
		return nil, err
	}

	s, err = u.Sessions.MarkReceived(ctx, token, n)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Session was finalized or aborted while the chunk was in flight
			u.Store.Delete(context.WithoutCancel(ctx), chunkKey(token, n))
			return nil, ErrSessionNotFound
		}

		return nil, err
	}

	return s, nil
}

func (u *Uploader) root(ctx context.Context) string {
	root := u.RootFolder
	if u.Settings != nil {
		if r := u.Settings.String(ctx, SettingStorageRoot); r != "" {
			root = r
		}
	}

	return root
}

func (u *Uploader) objectKey(ctx context.Context, folder, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return strings.TrimPrefix(path.Join(u.root(ctx), folder, uuid.NewString()+ext), "/")
}

// Complete assembles the chunks of a finished session into the final
// object and creates the asset. Missing chunks leave the session intact.
// Once assembly starts the session is gone whatever the outcome.
func (u *Uploader) Complete(ctx context.Context, userID, token string) (*model.Asset, error) {
	s, err := u.session(ctx, userID, token)
	if err != nil {
		return nil, err
	}

	if !s.Complete() {
		return nil, &IncompleteUploadError{Missing: s.Missing()}
	}

	s, err = u.Sessions.Claim(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}

		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	chunks := make([]string, s.ExpectedChunks)
	for i := range chunks {
		chunks[i] = chunkKey(token, i+1)
	}

	defer func() {
		if err := u.Store.DeleteMany(ctx, chunks); err != nil {
			zap.L().Error("Failed to delete upload chunks", zap.String("token", token), zap.Error(err))
		}
	}()

	key := u.objectKey(ctx, s.Folder, s.Filename)

	size, err := u.Store.Compose(ctx, key, chunks, s.MimeType)
	if err != nil {
		u.discard(key)
		return nil, fmt.Errorf("failed to assemble upload, %w", err)
	}

	if size != s.TotalSize {
		u.discard(key)
		return nil, fmt.Errorf("%w, expected %d bytes, got %d", ErrSizeMismatch, s.TotalSize, size)
	}

	asset := &model.Asset{
		UserID:     s.UserID,
		Filename:   s.Filename,
		StorageKey: key,
		Folder:     s.Folder,
		MimeType:   s.MimeType,
		Size:       size,
		Tags:       []model.Tag{},
	}

	if err := u.createAsset(ctx, asset); err != nil {
		u.discard(key)
		return nil, err
	}

	u.schedule(ctx, asset)
	return asset, nil
}

// Abort drops a session and its chunks. Failures are only logged.
func (u *Uploader) Abort(ctx context.Context, userID, token string) {
	ctx = context.WithoutCancel(ctx)

	s, err := u.Sessions.Get(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			zap.L().Error("Failed to look up session to abort", zap.String("token", token), zap.Error(err))
		}
		return
	}

	if s.UserID != userID {
		return
	}

	if err := u.Sessions.Delete(ctx, token); err != nil {
		zap.L().Error("Failed to delete upload session", zap.String("token", token), zap.Error(err))
	}

	u.DeleteChunks(ctx, token)
}

// DeleteChunks removes every stored chunk of a session
func (u *Uploader) DeleteChunks(ctx context.Context, token string) {
	objs, err := u.Store.List(ctx, ChunkPrefix+token+"/")
	if err != nil {
		zap.L().Error("Failed to list upload chunks", zap.String("token", token), zap.Error(err))
		return
	}

	if len(objs) == 0 {
		return
	}

	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}

	if err := u.Store.DeleteMany(ctx, keys); err != nil {
		zap.L().Error("Failed to delete upload chunks", zap.String("token", token), zap.Error(err))
	}
}

// Direct stores a file smaller than one chunk sent in one request
func (u *Uploader) Direct(ctx context.Context, req InitRequest, r io.Reader) (*model.Asset, error) {
	if err := u.validate(ctx, &req, u.directRules()); err != nil {
		return nil, err
	}

	// Don't trust the declared type, sniff the real one
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload, %w", err)
	}
	head = head[:n]

	detected := validators.NormalizeMime(mimetype.Detect(head).String())
	if !validators.MimeAllowed(detected, u.Rules.AllowedTypes) {
		return nil, ErrUnsupportedContent
	}

	key := u.objectKey(ctx, req.Folder, req.Filename)
	body := io.MultiReader(bytes.NewReader(head), r)

	if err := u.Store.Put(ctx, key, body, req.Size, detected); err != nil {
		return nil, err
	}

	obj, err := u.Store.Stat(ctx, key)
	if err != nil {
		u.discard(key)
		return nil, err
	}

	if obj.Size != req.Size {
		u.discard(key)
		return nil, fmt.Errorf("%w, expected %d bytes, got %d", ErrSizeMismatch, req.Size, obj.Size)
	}

	asset := &model.Asset{
		UserID:     req.UserID,
		Filename:   req.Filename,
		StorageKey: key,
		Folder:     req.Folder,
		MimeType:   detected,
		Size:       obj.Size,
		Tags:       []model.Tag{},
	}

	if err := u.createAsset(ctx, asset); err != nil {
		u.discard(key)
		return nil, err
	}

	u.schedule(ctx, asset)
	return asset, nil
}

// createAsset inserts the asset and charges it to the user's quota in one
// transaction. The quota is checked again here since concurrent uploads
// could have used up the space since Init.
func (u *Uploader) createAsset(ctx context.Context, a *model.Asset) error {
	return u.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Model(model.Stats{}).
			Where("user_id = ? AND (max_storage = 0 OR used_storage + ? <= max_storage)", a.UserID, a.Size).
			Updates(map[string]any{
				"used_storage":    gorm.Expr("used_storage + ?", a.Size),
				"uploaded_assets": gorm.Expr("uploaded_assets + ?", 1),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update user stats, %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return validators.ErrNoSpace
		}

		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("failed to create asset, %w", err)
		}

		return nil
	})
}

func (u *Uploader) discard(key string) {
	if err := u.Store.Delete(context.Background(), key); err != nil {
		zap.L().Error("Failed to clean up after failed upload", zap.String("key", key), zap.Error(err))
	} else {
		zap.L().Debug("Cleaned up after failed upload", zap.String("key", key))
	}
}

func (u *Uploader) schedule(ctx context.Context, a *model.Asset) {
	if u.Dispatcher == nil || !a.IsImage() {
		return
	}

	var tasks []string
	if a.CanThumbnail() {
		tasks = append(tasks, TaskThumbnail)
	}
	if u.Settings != nil && u.Settings.Bool(ctx, SettingAITagging) {
		tasks = append(tasks, TaskAutoTag)
	}

	for _, t := range tasks {
		if err := u.Dispatcher.Enqueue(ctx, Task{Type: t, AssetID: a.ID}); err != nil {
			zap.L().Warn("Failed to schedule post-processing", zap.String("type", t), zap.Uint("asset_id", a.ID), zap.Error(err))
		}
	}
}
