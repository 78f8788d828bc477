package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/models"
)

const (
	noticeItems = "items"
	noticeOrder = "order"
)

// RedisStore implements Store on Redis. Per user it keeps
//
//	users:{uid}:items       hash, item id -> JSON item
//	users:{uid}:meta:order  JSON id list
//	users:{uid}:changes     pub/sub channel carrying "items" or "order"
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logging.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, log *logging.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, log), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, log *logging.Logger) *RedisStore {
	if log == nil {
		log = logging.Get()
	}
	return &RedisStore{
		client: client,
		prefix: "users:",
		log:    log.With("service", "RemoteStore"),
	}
}

func (s *RedisStore) itemsKey(scope string) string   { return s.prefix + scope + ":items" }
func (s *RedisStore) orderKey(scope string) string   { return s.prefix + scope + ":meta:order" }
func (s *RedisStore) channelKey(scope string) string { return s.prefix + scope + ":changes" }

// List returns the scope's items sorted by creation time.
func (s *RedisStore) List(ctx context.Context, scope string) ([]models.Item, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	raw, err := s.client.HGetAll(ctx, s.itemsKey(scope)).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRead, "list items", err)
	}

	items := make([]models.Item, 0, len(raw))
	for id, data := range raw {
		var item models.Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			s.log.Warn("skipping undecodable remote item", "item_id", id, "error", err)
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Put upserts an item and notifies subscribers.
func (s *RedisStore) Put(ctx context.Context, scope string, item models.Item) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "encode item", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.itemsKey(scope), item.ID, data)
		p.Publish(ctx, s.channelKey(scope), noticeItems)
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "put item", err)
	}
	return nil
}

// Delete removes an item and notifies subscribers.
func (s *RedisStore) Delete(ctx context.Context, scope, id string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.itemsKey(scope), id)
		p.Publish(ctx, s.channelKey(scope), noticeItems)
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "delete item", err)
	}
	return nil
}

// GetOrder returns the order record, or nil when never set.
func (s *RedisStore) GetOrder(ctx context.Context, scope string) ([]string, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.orderKey(scope)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRead, "get order", err)
	}

	var record models.OrderRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRead, "decode order", err)
	}
	if record.Value == nil {
		record.Value = []string{}
	}
	return record.Value, nil
}

// SetOrder replaces the order record and notifies subscribers.
func (s *RedisStore) SetOrder(ctx context.Context, scope string, ids []string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(models.NewOrderRecord(ids))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "encode order", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.orderKey(scope), data, 0)
		p.Publish(ctx, s.channelKey(scope), noticeOrder)
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "set order", err)
	}
	return nil
}

// Subscribe listens on the scope's change channel. Each notice is turned
// into a Change by re-reading the side that changed.
func (s *RedisStore) Subscribe(ctx context.Context, scope string) (*Subscription, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.channelKey(scope))
	// ensures subscription actually started
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	log := s.log.With("scope", scope)
	return NewSubscription(ctx, scope, func(ctx context.Context, out chan<- Change) {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok || msg == nil {
					return
				}
				change, err := s.load(ctx, scope, msg.Payload)
				if err != nil {
					log.Warn("dropping change notice", "notice", msg.Payload, "error", err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}), nil
}

func (s *RedisStore) load(ctx context.Context, scope, notice string) (Change, error) {
	switch notice {
	case noticeItems:
		items, err := s.List(ctx, scope)
		if err != nil {
			return Change{}, err
		}
		return ItemsChanged(items), nil
	case noticeOrder:
		order, err := s.GetOrder(ctx, scope)
		if err != nil {
			return Change{}, err
		}
		if order == nil {
			order = []string{}
		}
		return OrderChanged(order), nil
	default:
		return Change{}, fmt.Errorf("unknown notice %q", notice)
	}
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
