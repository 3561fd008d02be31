package storage

import (
	a "bitwise74/asset-api/aws"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	minMultipartSize = 12 << 20
	maxDeleteBatch   = 1000
	copyConcurrency  = 5
)

type S3Store struct {
	client *a.S3Client
}

func NewS3Store(c *a.S3Client) *S3Store {
	return &S3Store{client: c}
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      s.client.Bucket,
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}

	var err error
	if size > minMultipartSize {
		uploader := manager.NewUploader(s.client.C, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err = uploader.Upload(ctx, input)
	} else {
		input.ContentLength = aws.Int64(size)
		_, err = s.client.C.PutObject(ctx, input)
	}
	if err != nil {
		return fmt.Errorf("failed to put object %s, %w", key, err)
	}

	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.C.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.client.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to get object %s, %w", key, err)
	}

	return out.Body, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.C.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: s.client.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to stat object %s, %w", key, err)
	}

	return &Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.C.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.client.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s, %w", key, err)
	}

	return nil
}

func (s *S3Store) DeleteMany(ctx context.Context, keys []string) error {
	// S3 can delete at most 1000 files in one batch request.
	// We have to split the slice in len = 1000 parts
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, end-start)
		for i, key := range keys[start:end] {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		resp, err := s.client.C.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: s.client.Bucket,
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects, %w", err)
		}

		for _, e := range resp.Errors {
			zap.L().Warn("Failed to delete object",
				zap.String("key", aws.ToString(e.Key)),
				zap.String("code", aws.ToString(e.Code)))
		}
	}

	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	p := s3.NewListObjectsV2Paginator(s.client.C, &s3.ListObjectsV2Input{
		Bucket: s.client.Bucket,
		Prefix: aws.String(prefix),
	})

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects, %w", err)
		}

		for _, o := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}

	return objects, nil
}

// Compose stitches the sources together server side. A single source is a
// plain copy, anything else goes through a multipart upload where every
// source becomes one part. S3 requires every part but the last to be at
// least 5 MiB.
func (s *S3Store) Compose(ctx context.Context, dst string, srcs []string, contentType string) (int64, error) {
	if len(srcs) == 0 {
		return 0, errors.New("nothing to compose")
	}

	if len(srcs) == 1 {
		_, err := s.client.C.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:      s.client.Bucket,
			Key:         aws.String(dst),
			CopySource:  aws.String(*s.client.Bucket + "/" + srcs[0]),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to copy object, %w", err)
		}

		return s.size(ctx, dst)
	}

	upload, err := s.client.C.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      s.client.Bucket,
		Key:         aws.String(dst),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create multipart upload, %w", err)
	}

	abort := func() {
		_, err := s.client.C.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
			Bucket:   s.client.Bucket,
			Key:      aws.String(dst),
			UploadId: upload.UploadId,
		})
		if err != nil {
			zap.L().Error("Failed to abort multipart upload", zap.String("key", dst), zap.Error(err))
		}
	}

	p := pool.NewWithResults[types.CompletedPart]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(copyConcurrency)

	for i, src := range srcs {
		partNumber := int32(i + 1)

		p.Go(func(ctx context.Context) (types.CompletedPart, error) {
			out, err := s.client.C.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
				Bucket:     s.client.Bucket,
				Key:        aws.String(dst),
				UploadId:   upload.UploadId,
				PartNumber: aws.Int32(partNumber),
				CopySource: aws.String(*s.client.Bucket + "/" + src),
			})
			if err != nil {
				return types.CompletedPart{}, fmt.Errorf("failed to copy part %d, %w", partNumber, err)
			}

			return types.CompletedPart{
				ETag:       out.CopyPartResult.ETag,
				PartNumber: aws.Int32(partNumber),
			}, nil
		})
	}

	parts, err := p.Wait()
	if err != nil {
		abort()
		return 0, err
	}

	slices.SortFunc(parts, func(x, y types.CompletedPart) int {
		return int(aws.ToInt32(x.PartNumber) - aws.ToInt32(y.PartNumber))
	})

	_, err = s.client.C.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   s.client.Bucket,
		Key:      aws.String(dst),
		UploadId: upload.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		abort()
		return 0, fmt.Errorf("failed to complete multipart upload, %w", err)
	}

	return s.size(ctx, dst)
}

func (s *S3Store) size(ctx context.Context, key string) (int64, error) {
	o, err := s.Stat(ctx, key)
	if err != nil {
		return 0, err
	}

	return o.Size, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}

	return false
}
