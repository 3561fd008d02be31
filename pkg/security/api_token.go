package security

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/pkg/util"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	apiTokenSize   = 32
	APITokenPrefix = "dam_"
)

type APITokenOpts struct {
	UserID    string
	Name      string
	ExpiresAt *time.Time
}

// MakeAPIToken generates a new opaque token. The raw value is returned
// once and only its hash ends up in the returned model.
func MakeAPIToken(o *APITokenOpts) (raw string, t *model.APIToken, err error) {
	if o == nil {
		return "", nil, errors.New("no token options provided")
	}

	if o.UserID == "" {
		return "", nil, errors.New("no user ID provided")
	}

	if o.ExpiresAt != nil && o.ExpiresAt.Before(time.Now()) {
		return "", nil, errors.New("expiry is in the past")
	}

	token, err := util.GenerateToken(apiTokenSize)
	if err != nil {
		return "", nil, err
	}

	raw = APITokenPrefix + token

	return raw, &model.APIToken{
		UserID:    o.UserID,
		Name:      o.Name,
		TokenHash: HashAPIToken(raw),
		ExpiresAt: o.ExpiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func HashAPIToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func IsAPIToken(raw string) bool {
	return strings.HasPrefix(raw, APITokenPrefix)
}
