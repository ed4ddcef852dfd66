package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	"tempo/pkg/platform/sentinel"
)

const (
	stateKeyPrefix = "apps:pending:state:"
	flowKeyPrefix  = "apps:pending:flow:"
)

type pendingJSON struct {
	State      string `json:"state"`
	CompanyID  string `json:"company_id"`
	AppName    string `json:"app_name"`
	InstanceID string `json:"instance_id,omitempty"`
	CreatedAt  int64  `json:"created_at"` // Unix nano
	ExpiresAt  int64  `json:"expires_at"` // Unix nano
}

func toJSON(p *models.PendingAuthorization) *pendingJSON {
	j := &pendingJSON{
		State:     p.State,
		CompanyID: p.CompanyID.String(),
		AppName:   p.AppName,
		CreatedAt: p.CreatedAt.UnixNano(),
		ExpiresAt: p.ExpiresAt.UnixNano(),
	}
	if p.InstanceID != nil {
		j.InstanceID = p.InstanceID.String()
	}
	return j
}

func fromJSON(j *pendingJSON) (*models.PendingAuthorization, error) {
	companyID, err := uuid.Parse(j.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("parse company id: %w", err)
	}
	p := &models.PendingAuthorization{
		State:     j.State,
		CompanyID: id.CompanyID(companyID),
		AppName:   j.AppName,
		CreatedAt: time.Unix(0, j.CreatedAt),
		ExpiresAt: time.Unix(0, j.ExpiresAt),
	}
	if j.InstanceID != "" {
		instanceID, err := uuid.Parse(j.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("parse instance id: %w", err)
		}
		iid := id.InstanceID(instanceID)
		p.InstanceID = &iid
	}
	return p, nil
}

// releaseFlow deletes the flow pointer only if it still names this state, so
// consuming an old state never clears a newer flow.
var releaseFlow = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// saveFlow points the flow at the new state, drops the state it replaced and
// stores the new payload as one step, so a slower Save can never leave a
// superseded state redeemable.
//
// KEYS[1] flow pointer, KEYS[2] new state key.
// ARGV[1] state, ARGV[2] payload, ARGV[3] ttl in ms, ARGV[4] state key prefix.
var saveFlow = redis.NewScript(`
local previous = redis.call("GET", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
if previous and previous ~= ARGV[1] then
	redis.call("DEL", ARGV[4] .. previous)
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisStore keeps pending authorizations in Redis with a TTL equal to their
// lifetime, so expiry needs no reaper.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(state string) string { return stateKeyPrefix + state }

func flowKeyFor(companyID id.CompanyID, appName string) string {
	return flowKeyPrefix + companyID.String() + ":" + appName
}

// Save stores p and drops any older authorization for the same flow.
// The most recent Save for a flow wins.
func (s *RedisStore) Save(ctx context.Context, p *models.PendingAuthorization) error {
	if p == nil || p.State == "" {
		return fmt.Errorf("pending authorization state is required: %w", sentinel.ErrInvalidInput)
	}
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("pending authorization already expired: %w", sentinel.ErrExpired)
	}
	payload, err := json.Marshal(toJSON(p))
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}

	ttlMillis := max(ttl.Milliseconds(), 1)
	keys := []string{flowKeyFor(p.CompanyID, p.AppName), stateKey(p.State)}
	err = saveFlow.Run(ctx, s.client, keys, p.State, payload, ttlMillis, stateKeyPrefix).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save pending authorization: %w", err)
	}
	return nil
}

// Consume atomically removes and returns the authorization for state.
func (s *RedisStore) Consume(ctx context.Context, state string, now time.Time) (*models.PendingAuthorization, error) {
	raw, err := s.client.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	var j pendingJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("unmarshal pending authorization: %w", err)
	}
	p, err := fromJSON(&j)
	if err != nil {
		return nil, err
	}
	if err := releaseFlow.Run(ctx, s.client, []string{flowKeyFor(p.CompanyID, p.AppName)}, state).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("release pending flow: %w", err)
	}
	if p.IsExpired(now) {
		return nil, sentinel.ErrExpired
	}
	return p, nil
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
