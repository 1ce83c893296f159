package instruments

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DatasetStore is the durable home of the raw instrument dataset.
type DatasetStore interface {
	Load() ([]byte, error)
	Save([]byte) error
	// LastModified reports when the dataset was last written; ok is
	// false when no dataset exists yet.
	LastModified() (mod time.Time, ok bool, err error)
}

// FileDatasetStore keeps the dataset as a single flat file; the file's
// mtime doubles as the last-modified timestamp.
type FileDatasetStore struct {
	path string
}

// Ensure FileDatasetStore implements DatasetStore.
var _ DatasetStore = (*FileDatasetStore)(nil)

// NewFileDatasetStore creates a store backed by the given path.
func NewFileDatasetStore(path string) *FileDatasetStore {
	return &FileDatasetStore{path: path}
}

// Load reads the raw dataset bytes.
func (s *FileDatasetStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument dataset: %w", err)
	}
	return data, nil
}

// Save replaces the dataset, refreshing its modification time.
func (s *FileDatasetStore) Save(data []byte) error {
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("writing instrument dataset: %w", err)
	}
	return os.Rename(tmpFile, s.path)
}

// LastModified returns the dataset file's mtime, ok=false when missing.
func (s *FileDatasetStore) LastModified() (time.Time, bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// Downloader fetches a fresh dataset from the broker.
type Downloader interface {
	DownloadInstruments(ctx context.Context) ([]byte, error)
}

// Service owns the catalog lifecycle: the staleness decision, the
// download, and the in-memory snapshot. The snapshot is swapped
// atomically, so in-flight queries keep their old catalog.
type Service struct {
	store      DatasetStore
	downloader Downloader
	logger     *logrus.Logger

	cutoffHour   int
	cutoffMinute int

	catalog atomic.Pointer[Catalog]
	now     func() time.Time
}

// NewService wires a catalog service. The downloader may be nil, in
// which case EnsureFresh only reloads what is already on disk. Cutoff
// is the local wall-clock time before which today's dataset counts as
// stale; the product default is 08:30.
func NewService(store DatasetStore, downloader Downloader, cutoffHour, cutoffMinute int, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:        store,
		downloader:   downloader,
		logger:       logger,
		cutoffHour:   cutoffHour,
		cutoffMinute: cutoffMinute,
		now:          time.Now,
	}
}

// ShouldRefresh reports whether the dataset needs a refresh: always when
// no dataset exists, otherwise when it was last written before today's
// cutoff. The cutoff is anchored to today's date regardless of the
// current wall-clock time, which yields a once-per-day policy pinned to
// a fixed pre-market moment.
func (s *Service) ShouldRefresh() (bool, error) {
	mod, ok, err := s.store.LastModified()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	now := s.now()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), s.cutoffHour, s.cutoffMinute, 0, 0, now.Location())
	return mod.Before(cutoff), nil
}

// EnsureFresh downloads a new dataset when the staleness check demands
// one, then (re)loads the in-memory catalog from the store.
func (s *Service) EnsureFresh(ctx context.Context) error {
	stale, err := s.ShouldRefresh()
	if err != nil {
		return err
	}

	if stale && s.downloader != nil {
		start := s.now()
		data, err := s.downloader.DownloadInstruments(ctx)
		if err != nil {
			return fmt.Errorf("downloading instruments: %w", err)
		}
		if err := s.store.Save(data); err != nil {
			return err
		}
		s.logger.Infof("instruments downloaded in %s", time.Since(start).Round(time.Millisecond))
	}

	return s.Reload()
}

// Reload rebuilds the catalog from the store and swaps it in. The old
// snapshot stays valid for queries already holding it.
func (s *Service) Reload() error {
	data, err := s.store.Load()
	if err != nil {
		return err
	}
	catalog, err := Parse(data)
	if err != nil {
		return err
	}
	s.catalog.Store(catalog)
	return nil
}

// Catalog returns the current snapshot, nil before the first Reload.
func (s *Service) Catalog() *Catalog {
	return s.catalog.Load()
}

// FindInstrument answers an exact-match query over the current snapshot.
func (s *Service) FindInstrument(criteria map[string]string) (*FindResult, error) {
	catalog, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return catalog.Find(criteria)
}

// GetExpiryDates enumerates expiries over the current snapshot.
func (s *Service) GetExpiryDates(exchange, name, instrumentType string) ([]string, error) {
	catalog, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return catalog.ExpiryDates(exchange, name, instrumentType)
}

// GetOptionStrikes resolves a strike window over the current snapshot.
func (s *Service) GetOptionStrikes(q ChainQuery) (*ChainResult, error) {
	catalog, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return catalog.OptionStrikes(q)
}

func (s *Service) snapshot() (*Catalog, error) {
	catalog := s.catalog.Load()
	if catalog == nil {
		return nil, fmt.Errorf("instrument catalog not loaded")
	}
	return catalog, nil
}
