package guard

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// keyValue is the part of jetstream.KeyValue the guards use.
type keyValue interface {
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Bucket keys only allow a narrow alphabet, so arbitrary keys are encoded.
func kvKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// KVStore is a Store on a JetStream key-value bucket. The bucket TTL is the
// idempotency window.
type KVStore struct {
	kv keyValue
}

// NewKVStore creates a store over a bucket.
func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) PutIfAbsent(ctx context.Context, key, value string) (string, bool, error) {
	k := kvKey(key)
	// A key can lapse between Create and Get, so try twice.
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.kv.Create(ctx, k, []byte(value))
		if err == nil {
			return value, true, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", false, fmt.Errorf("creating idempotency key: %w", err)
		}

		entry, err := s.kv.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("reading idempotency key: %w", err)
		}
		return string(entry.Value()), false, nil
	}
	return "", false, fmt.Errorf("idempotency key %q kept changing", key)
}

// KVGate is a Gate on a JetStream key-value bucket. The bucket TTL releases
// leases whose holder never exits.
type KVGate struct {
	kv     keyValue
	owners *owners
	logger *slog.Logger
}

// NewKVGate creates a gate over a bucket.
func NewKVGate(kv jetstream.KeyValue, logger *slog.Logger) *KVGate {
	return &KVGate{kv: kv, owners: newOwners(), logger: logger}
}

func (g *KVGate) TryEnter(ctx context.Context, merchantID, orderID string) (Lease, bool, error) {
	lease := Lease{Key: GateKey(merchantID, orderID), Owner: g.owners.next()}
	_, err := g.kv.Create(ctx, kvKey(lease.Key), []byte(lease.Owner))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquiring payment gate: %w", err)
	}
	return lease, true, nil
}

// Exit deletes the lease only while it still belongs to the caller.
func (g *KVGate) Exit(ctx context.Context, lease Lease) error {
	k := kvKey(lease.Key)
	entry, err := g.kv.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading payment gate: %w", err)
	}
	if string(entry.Value()) != lease.Owner {
		g.logger.Warn("payment gate taken over before release",
			"key", lease.Key,
			"owner", lease.Owner,
		)
		return nil
	}

	err = g.kv.Delete(ctx, k, jetstream.LastRevision(entry.Revision()))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("releasing payment gate: %w", err)
	}
	return nil
}
