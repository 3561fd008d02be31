// Package cloudflare provides a client for interacting with the Cloudflare API.
package cloudflare

import (
	"bitwise74/asset-api/aws"
	"context"
	"fmt"
)

// NewR2 returns an S3 compatible client pointed at a Cloudflare R2 bucket
func NewR2(ctx context.Context, accountID, accessKeyID, secretAccessKey, bucket string) (*aws.S3Client, error) {
	if accountID == "" {
		return nil, fmt.Errorf("no cloudflare account id provided")
	}

	return aws.NewS3(ctx, aws.Options{
		AccessKey:       accessKeyID,
		SecretAccessKey: secretAccessKey,
		Region:          "auto",
		Bucket:          bucket,
		Endpoint:        fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		PathStyle:       true,
	})
}
