package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrIncompleteUpload   = errors.New("upload incomplete")
	ErrInvalidChunkNumber = errors.New("invalid chunk number")
	ErrChunkSize          = errors.New("chunk size mismatch")
	ErrSizeMismatch       = errors.New("assembled file size doesn't match the declared size")
	ErrUnsupportedContent = errors.New("file content doesn't match an allowed type")
	ErrQueueFull          = errors.New("job queue full")
)

// IncompleteUploadError is returned when finalizing a session that is
// still missing chunks. The session is left untouched.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	nums := make([]string, len(e.Missing))
	for i, n := range e.Missing {
		nums[i] = strconv.Itoa(n)
	}

	return fmt.Sprintf("upload incomplete, missing chunks %s", strings.Join(nums, ","))
}

func (e *IncompleteUploadError) Is(target error) bool {
	return target == ErrIncompleteUpload
}
