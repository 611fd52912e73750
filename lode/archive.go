// Package lode archives delivered files and the per-transfer journal in a
// Lode store, either on the local filesystem or in S3.
//
// Files live under datasets/<dataset>/files/day=<day>/transfer_id=<id>/.
// The journal is a Hive-partitioned JSONL dataset keyed by day and outcome.
// Errors returned by this package are classified StorageErrors.
package lode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ferry/iox"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "transfers"

// partitionKeys is the Hive layout of the journal dataset.
var partitionKeys = []string{"day", "outcome"}

// Config identifies the archive.
type Config struct {
	// Dataset is the Lode dataset ID (default "transfers").
	Dataset string
	// Location is the human-readable root of the store, e.g. "file:///var/lib/ferry"
	// or "s3://bucket/prefix". Used to render storage paths.
	Location string
}

// Archive stores delivered files through a Lode Store and appends one
// journal record per transfer to a Hive-partitioned JSONL dataset.
//
// Files bypass the Dataset segment and manifest machinery and are Put
// directly at datasets/<dataset>/files/day=<day>/transfer_id=<id>/<name>.
type Archive struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewArchive creates an archive on the local filesystem under root.
func NewArchive(cfg Config, root string) (*Archive, error) {
	if cfg.Location == "" {
		cfg.Location = "file://" + filepath.ToSlash(root)
	}
	return NewArchiveWithFactory(cfg, lode.NewFSFactory(root))
}

// NewArchiveWithFactory creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiveWithFactory(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, Wrap(err, "init", cfg.Dataset)
	}
	return &Archive{dataset: ds, config: cfg, storeFactory: factory}, nil
}

// NewReadDataset creates the journal Dataset. Reads and writes share the
// codec and layout so history queries see exactly what the service wrote.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// PutFiles streams each local file into the store and returns their keys
// in the same order. Stops at the first failure.
func (a *Archive) PutFiles(ctx context.Context, transferID, day string, paths []string) ([]string, error) {
	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, Wrap(err, "init", a.config.Dataset)
	}

	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key := a.FileKey(transferID, day, filepath.Base(p))
		if err := putFile(ctx, store, key, p); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// putAttempts bounds uploads of one file when the store reports a
// transient failure.
const putAttempts = 3

// putBackoff is the delay before the first re-upload. It doubles per attempt.
var putBackoff = time.Second

func putFile(ctx context.Context, store lode.Store, key, path string) error {
	var err error
	for i := range putAttempts {
		if i > 0 {
			t := time.NewTimer(time.Duration(1<<uint(i-1)) * putBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return Wrap(ctx.Err(), "put", key)
			case <-t.C:
			}
		}
		if err = putOnce(ctx, store, key, path); err == nil || !Retryable(err) {
			return err
		}
	}
	return err
}

// putOnce reopens the file so a retry starts from the first byte.
func putOnce(ctx context.Context, store lode.Store, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return Wrap(err, "open", path)
	}
	defer iox.DiscardClose(f)
	return Wrap(store.Put(ctx, key, f), "put", key)
}

// WriteJournal appends one journal record.
func (a *Archive) WriteJournal(ctx context.Context, rec JournalRecord) error {
	if rec.TransferID == "" {
		return errors.New("journal record requires a transfer id")
	}
	_, err := a.dataset.Write(ctx, []any{toJournalRecordMap(rec)}, lode.Metadata{})
	return Wrap(err, "journal", rec.TransferID)
}

// FileKey computes the store key of an archived file.
func (a *Archive) FileKey(transferID, day, name string) string {
	return fmt.Sprintf("%s/%s", a.filePrefix(transferID, day), name)
}

// StoragePath renders where a transfer's files live, for completion events.
func (a *Archive) StoragePath(transferID, day string) string {
	return strings.TrimSuffix(a.config.Location, "/") + "/" + a.filePrefix(transferID, day)
}

func (a *Archive) filePrefix(transferID, day string) string {
	return fmt.Sprintf("datasets/%s/files/day=%s/transfer_id=%s", a.config.Dataset, day, transferID)
}

// Dataset exposes the journal dataset for history queries.
func (a *Archive) Dataset() lode.Dataset {
	return a.dataset
}

// Close releases archive resources.
func (a *Archive) Close() error {
	// Dataset and Store need no explicit close in the current Lode API
	return nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (a *Archive) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.storeFactory()
	})
	return a.store, a.storeErr
}
