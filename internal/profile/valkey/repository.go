package profilevalkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-gateway/internal/profile"
	"github.com/openkcm/auth-gateway/internal/serviceerr"
)

const objectTypeProfile = "profile"

const (
	fieldUserID            = "user_id"
	fieldEmail             = "email"
	fieldDisplayName       = "display_name"
	fieldGivenName         = "given_name"
	fieldFamilyName        = "family_name"
	fieldUsername          = "username"
	fieldExternalContactID = "external_contact_id"
	fieldCreatedAt         = "created_at"
	fieldUpdatedAt         = "updated_at"
)

// putIfAbsentScript writes the hash only when the key is missing.
var putIfAbsentScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// updateScript merges fields into an existing hash. ARGV[1] and ARGV[2] are
// candidate created_at and updated_at values in unix milliseconds, or empty;
// the stored created_at only ever decreases and updated_at only increases.
// The remaining arguments are field/value pairs.
var updateScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[1] ~= '' then
  local current = tonumber(redis.call('HGET', KEYS[1], 'created_at'))
  local candidate = tonumber(ARGV[1])
  if current == nil or candidate < current then
    redis.call('HSET', KEYS[1], 'created_at', ARGV[1])
  end
end
if ARGV[2] ~= '' then
  local current = tonumber(redis.call('HGET', KEYS[1], 'updated_at'))
  local candidate = tonumber(ARGV[2])
  if current == nil or candidate > current then
    redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
  end
end
if #ARGV > 2 then
  redis.call('HSET', KEYS[1], unpack(ARGV, 3))
end
return 1
`)

type Repository struct {
	valkey valkey.Client
	prefix string
}

var _ = profile.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (r *Repository) Get(ctx context.Context, userID string) (profile.Profile, error) {
	fields, err := r.valkey.Do(ctx, r.valkey.B().Hgetall().Key(r.key(userID)).Build()).AsStrMap()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return profile.Profile{}, serviceerr.ErrNotFound
		}

		return profile.Profile{}, fmt.Errorf("executing hgetall command: %w", err)
	}
	if len(fields) == 0 {
		return profile.Profile{}, serviceerr.ErrNotFound
	}

	createdAt, err := decodeTime(fields[fieldCreatedAt])
	if err != nil {
		return profile.Profile{}, fmt.Errorf("decoding %s: %w", fieldCreatedAt, err)
	}
	updatedAt, err := decodeTime(fields[fieldUpdatedAt])
	if err != nil {
		return profile.Profile{}, fmt.Errorf("decoding %s: %w", fieldUpdatedAt, err)
	}

	return profile.Profile{
		UserID:            fields[fieldUserID],
		Email:             fields[fieldEmail],
		DisplayName:       fields[fieldDisplayName],
		GivenName:         fields[fieldGivenName],
		FamilyName:        fields[fieldFamilyName],
		Username:          fields[fieldUsername],
		ExternalContactID: fields[fieldExternalContactID],
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func (r *Repository) PutIfAbsent(ctx context.Context, p profile.Profile) error {
	args := []string{
		fieldUserID, p.UserID,
		fieldEmail, p.Email,
		fieldDisplayName, p.DisplayName,
		fieldGivenName, p.GivenName,
		fieldFamilyName, p.FamilyName,
		fieldUsername, p.Username,
		fieldExternalContactID, p.ExternalContactID,
		fieldCreatedAt, encodeTime(p.CreatedAt),
		fieldUpdatedAt, encodeTime(p.UpdatedAt),
	}

	created, err := putIfAbsentScript.Exec(ctx, r.valkey, []string{r.key(p.UserID)}, args).AsInt64()
	if err != nil {
		return fmt.Errorf("executing put-if-absent script: %w", err)
	}
	if created == 0 {
		return serviceerr.ErrConflict
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, userID string, f profile.Fields) error {
	createdAt, updatedAt := "", ""
	if f.CreatedAt != nil {
		createdAt = encodeTime(*f.CreatedAt)
	}
	if f.UpdatedAt != nil {
		updatedAt = encodeTime(*f.UpdatedAt)
	}

	args := []string{createdAt, updatedAt}
	args = appendField(args, fieldEmail, f.Email)
	args = appendField(args, fieldDisplayName, f.DisplayName)
	args = appendField(args, fieldGivenName, f.GivenName)
	args = appendField(args, fieldFamilyName, f.FamilyName)
	args = appendField(args, fieldUsername, f.Username)
	args = appendField(args, fieldExternalContactID, f.ExternalContactID)

	updated, err := updateScript.Exec(ctx, r.valkey, []string{r.key(userID)}, args).AsInt64()
	if err != nil {
		return fmt.Errorf("executing update script: %w", err)
	}
	if updated == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func (r *Repository) key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, objectTypeProfile, userID)
}

func appendField(args []string, name string, value *string) []string {
	if value == nil {
		return args
	}

	return append(args, name, *value)
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms).UTC(), nil
}
