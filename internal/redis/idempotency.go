package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRequestInFlight = errors.New("request with this idempotency key is in flight")

const inFlightMarker = "inflight"

// StoredResponse is what gets replayed for a repeated idempotency key.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore remembers the first response produced for a client key so
// that retried POST/DELETE calls are not applied twice.
//
// A claim lives for claimTTL only, so a request that never finishes (a crash
// mid-handler) blocks retries for that long at most. Completed responses are
// kept for ttl.
type IdempotencyStore struct {
	client   *redis.Client
	claimTTL time.Duration
	ttl      time.Duration
}

func NewIdempotencyStore(client *redis.Client, claimTTL, ttl time.Duration) *IdempotencyStore {
	if claimTTL <= 0 || claimTTL > ttl {
		claimTTL = ttl
	}
	return &IdempotencyStore{client: client, claimTTL: claimTTL, ttl: ttl}
}

func idemKey(scope, key string) string {
	return fmt.Sprintf("idem:%s:%s", scope, key)
}

// Begin claims key. It returns the stored response when the key already
// completed, ErrRequestInFlight when another request holds it, or (nil, nil)
// when the caller now owns the key and must call Complete or Abandon.
func (s *IdempotencyStore) Begin(ctx context.Context, scope, key string) (*StoredResponse, error) {
	k := idemKey(scope, key)
	ok, err := s.client.SetNX(ctx, k, inFlightMarker, s.claimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; let the caller retry
			return nil, ErrRequestInFlight
		}
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	if string(raw) == inFlightMarker {
		return nil, ErrRequestInFlight
	}

	var resp StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode stored response: %w", err)
	}
	if err := s.client.Set(ctx, idemKey(scope, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

var abandonScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Abandon releases a claimed key without storing a response, so that the
// client may retry after a failure that changed nothing. A completed
// response is never removed.
func (s *IdempotencyStore) Abandon(ctx context.Context, scope, key string) error {
	_, err := abandonScript.Run(ctx, s.client, []string{idemKey(scope, key)}, inFlightMarker).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
