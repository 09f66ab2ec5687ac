package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"labcore/internal/blob"
)

// DefaultOutboxPrefix is the key prefix envelopes are written under.
const DefaultOutboxPrefix = "index-outbox/"

const envelopeTimeLayout = "20060102T150405.000000000Z"

// Pending is an envelope waiting for the external indexer.
type Pending struct {
	Key      string
	Envelope Envelope
}

// BlobOutbox is a Sink that writes every envelope as a JSON object to a blob
// store. The external indexer reads Pending and acknowledges with Ack.
type BlobOutbox struct {
	store  blob.Store
	prefix string
}

// NewBlobOutbox writes under prefix, or DefaultOutboxPrefix when empty.
func NewBlobOutbox(store blob.Store, prefix string) *BlobOutbox {
	if prefix == "" {
		prefix = DefaultOutboxPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobOutbox{store: store, prefix: prefix}
}

// Key returns the object key of env. Keys sort by creation time.
func (o *BlobOutbox) Key(env Envelope) string {
	return o.prefix + env.CreatedAt.UTC().Format(envelopeTimeLayout) + "-" + env.ID + ".json"
}

// Deliver implements Sink. Redelivering an envelope already written is a no-op.
func (o *BlobOutbox) Deliver(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = o.store.Put(ctx, o.Key(env), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"changes": fmt.Sprint(len(env.Changes))},
	})
	if errors.Is(err, blob.ErrExists) {
		return nil
	}
	return err
}

// Pending returns unacknowledged envelopes, oldest first.
func (o *BlobOutbox) Pending(ctx context.Context) ([]Pending, error) {
	infos, err := o.store.List(ctx, o.prefix)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	out := make([]Pending, 0, len(infos))
	for _, info := range infos {
		env, err := o.read(ctx, info.Key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Pending{Key: info.Key, Envelope: env})
	}
	return out, nil
}

func (o *BlobOutbox) read(ctx context.Context, key string) (Envelope, error) {
	_, rc, err := o.store.Get(ctx, key)
	if err != nil {
		return Envelope{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Envelope{}, fmt.Errorf("read %s: %w", key, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return env, nil
}

// Ack removes an envelope once indexed. Acknowledging twice reports false.
func (o *BlobOutbox) Ack(ctx context.Context, key string) (bool, error) {
	if !strings.HasPrefix(key, o.prefix) {
		return false, fmt.Errorf("key %s is outside outbox %s", key, o.prefix)
	}
	return o.store.Delete(ctx, key)
}
