package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore maps each collection onto a redis hash and signals collection
// changes over pub/sub. Conditional updates run a single WATCH/MULTI cycle;
// contention surfaces as an uncommitted result for the caller to retry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "opdflow"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) hashKey(collection string) string {
	return r.prefix + ":" + strings.ReplaceAll(collection, "/", ":")
}

func (r *RedisStore) channel(collection string) string {
	return r.prefix + ":changed:" + strings.ReplaceAll(collection, "/", ":")
}

func (r *RedisStore) Get(ctx context.Context, path string) ([]byte, error) {
	collection, child, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	value, err := r.client.HGet(ctx, r.hashKey(collection), child).Bytes()
	if err == redis.Nil {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, path string, value interface{}) error {
	return r.Update(ctx, map[string]interface{}{path: value})
}

func (r *RedisStore) Update(ctx context.Context, updates map[string]interface{}) error {
	now := time.Now().UTC()

	type write struct {
		collection string
		child      string
		value      []byte
	}
	writes := make([]write, 0, len(updates))
	for path, value := range updates {
		collection, child, err := splitPath(path)
		if err != nil {
			return err
		}
		w := write{collection: collection, child: child}
		if value != nil {
			data, err := marshalValue(value, now)
			if err != nil {
				return err
			}
			w.value = data
		}
		writes = append(writes, w)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.value == nil {
				pipe.HDel(ctx, r.hashKey(w.collection), w.child)
			} else {
				pipe.HSet(ctx, r.hashKey(w.collection), w.child, w.value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	touched := make(map[string]struct{})
	for _, w := range writes {
		if _, seen := touched[w.collection]; seen {
			continue
		}
		touched[w.collection] = struct{}{}
		r.client.Publish(ctx, r.channel(w.collection), "changed")
	}
	return nil
}

func (r *RedisStore) ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) (CommitResult, error) {
	collection, child, err := splitPath(path)
	if err != nil {
		return CommitResult{}, err
	}

	hash := r.hashKey(collection)
	var committed []byte

	txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, hash, child).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}

		proposed, err := fn(current)
		if err != nil {
			return err
		}
		data, err := marshalValue(proposed, time.Now().UTC())
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, child, data)
			return nil
		})
		if err == nil {
			committed = data
		}
		return err
	}, hash)

	if txErr == redis.TxFailedErr {
		return CommitResult{Committed: false}, nil
	}
	if txErr != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrAborted, txErr)
	}

	r.client.Publish(ctx, r.channel(collection), "changed")
	return CommitResult{Committed: true, Value: committed}, nil
}

func (r *RedisStore) Push(ctx context.Context, path string) (string, error) {
	return pushKey(), nil
}

func (r *RedisStore) List(ctx context.Context, path string) ([]Document, error) {
	collection := trimSlashes(path)

	children, err := r.client.HGetAll(ctx, r.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	docs := make([]Document, 0, len(children))
	for key, value := range children {
		docs = append(docs, Document{Key: key, Value: []byte(value)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (r *RedisStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	collection := trimSlashes(path)

	pubsub := r.client.Subscribe(ctx, r.channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []Document, snapshotBuffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.ch)

		if snapshot, err := r.List(ctx, collection); err == nil {
			deliver(sub.ch, snapshot)
		}

		messages := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				snapshot, err := r.List(ctx, collection)
				if err != nil {
					continue
				}
				deliver(sub.ch, snapshot)
			}
		}
	}()

	return sub, nil
}

func (r *RedisStore) ServerTimestamp() interface{} {
	return Timestamp
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan []Document
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) Snapshots() <-chan []Document { return s.ch }

func (s *redisSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pubsub.Close()
	})
}
