package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/crypto/nacl/secretbox"

	"paygate/internal/payment/domain"
)

const nonceSize = 24

// ErrSealBroken is returned when a stored entry fails authentication.
var ErrSealBroken = errors.New("card credentials failed to open")

// Sealer encrypts credentials with a 32-byte secret key.
type Sealer struct {
	key [32]byte
}

// NewSealer parses a hex-encoded 32-byte key.
func NewSealer(hexKey string) (*Sealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey returns a random hex-encoded key.
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// Seal encrypts creds, prefixing the random nonce.
func (s *Sealer) Seal(creds domain.CardCredentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encoding card credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) (domain.CardCredentials, error) {
	var creds domain.CardCredentials
	if len(sealed) < nonceSize+secretbox.Overhead {
		return creds, ErrSealBroken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return creds, ErrSealBroken
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("decoding card credentials: %w", err)
	}
	return creds, nil
}

// keyValue is the part of jetstream.KeyValue the vault uses.
type keyValue interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// KVVault keeps sealed credentials in a JetStream key-value bucket.
type KVVault struct {
	kv        keyValue
	sealer    *Sealer
	retention time.Duration
	now       func() time.Time
}

// NewKVVault creates a vault over a bucket. Payment keys must be valid
// bucket keys, which generated ULID and UUID keys are.
func NewKVVault(kv jetstream.KeyValue, sealer *Sealer, retention time.Duration) *KVVault {
	return &KVVault{kv: kv, sealer: sealer, retention: retention, now: time.Now}
}

func (v *KVVault) Store(ctx context.Context, paymentKey string, creds domain.CardCredentials) error {
	sealed, err := v.sealer.Seal(creds)
	if err != nil {
		return err
	}
	if _, err := v.kv.Put(ctx, paymentKey, sealed); err != nil {
		return fmt.Errorf("storing card credentials: %w", err)
	}
	return nil
}

func (v *KVVault) Retrieve(ctx context.Context, paymentKey string) (domain.CardCredentials, error) {
	entry, err := v.kv.Get(ctx, paymentKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return domain.CardCredentials{}, ErrCredentialsNotFound
	}
	if err != nil {
		return domain.CardCredentials{}, fmt.Errorf("reading card credentials: %w", err)
	}
	if v.expired(entry) {
		return domain.CardCredentials{}, ErrCredentialsNotFound
	}
	return v.sealer.Open(entry.Value())
}

func (v *KVVault) Delete(ctx context.Context, paymentKey string) error {
	err := v.kv.Delete(ctx, paymentKey)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting card credentials: %w", err)
	}
	return nil
}

func (v *KVVault) Purge(ctx context.Context) (int, error) {
	keys, err := v.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing vault keys: %w", err)
	}

	n := 0
	for _, key := range keys {
		entry, err := v.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("reading card credentials: %w", err)
		}
		if !v.expired(entry) {
			continue
		}
		if err := v.Delete(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (v *KVVault) expired(entry jetstream.KeyValueEntry) bool {
	return !v.now().Before(entry.Created().Add(v.retention))
}
