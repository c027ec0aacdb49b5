// Package archive stores build and deploy log archives in a JetStream
// object store. Objects survive the sandbox that produced them and are
// served back through the logs endpoint until the sweeper expires the job.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the object store bucket for job logs.
const DefaultBucket = "NIMBUS_LOGS"

// contentType is recorded on every archived log object.
const contentType = "text/plain; charset=utf-8"

// ErrNotFound is returned when a log key has no archived object.
var ErrNotFound = errors.New("archived log not found")

// BuildLogKey returns the archive key for a job's build log.
func BuildLogKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/build.log", jobID)
}

// DeployLogKey returns the archive key for a job's deploy log.
func DeployLogKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/deploy.log", jobID)
}

// Archive reads and writes log objects in a single bucket. The bucket is
// created on first use so a fresh JetStream domain needs no provisioning.
type Archive struct {
	js     jetstream.JetStream
	bucket string
	logger *slog.Logger

	mu    sync.Mutex
	store jetstream.ObjectStore
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// New creates an Archive over the given JetStream context. An empty bucket
// name falls back to DefaultBucket.
func New(js jetstream.JetStream, bucket string, opts ...Option) *Archive {
	if bucket == "" {
		bucket = DefaultBucket
	}
	a := &Archive{js: js, bucket: bucket, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Put archives a log under the given key, overwriting any previous object.
func (a *Archive) Put(ctx context.Context, key, content string) error {
	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	meta := jetstream.ObjectMeta{
		Name: key,
		Metadata: map[string]string{
			"content-type": contentType,
		},
	}
	if _, err := store.Put(ctx, meta, bytes.NewReader([]byte(content))); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	a.logger.Debug("Archived log", "key", key, "bytes", len(content))
	return nil
}

// Get returns an archived log.
func (a *Archive) Get(ctx context.Context, key string) (string, error) {
	store, err := a.objectStore(ctx)
	if err != nil {
		return "", err
	}
	obj, err := store.Get(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read archived log %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("read archived log %s: %w", key, err)
	}
	return string(data), nil
}

// Delete removes an archived log. A missing object counts as success so
// expiry passes stay idempotent.
func (a *Archive) Delete(ctx context.Context, key string) error {
	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	err = store.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete archived log %s: %w", key, err)
	}
	return nil
}

func (a *Archive) objectStore(ctx context.Context) (jetstream.ObjectStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}

	store, err := a.js.ObjectStore(ctx, a.bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = a.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      a.bucket,
			Description: "Nimbus job log archive",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open log bucket %s: %w", a.bucket, err)
	}
	a.store = store
	return a.store, nil
}
