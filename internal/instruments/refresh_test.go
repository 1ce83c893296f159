package instruments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory DatasetStore with a settable modification time.
type fakeStore struct {
	data   []byte
	mod    time.Time
	exists bool
	saves  int
}

func (s *fakeStore) Load() ([]byte, error) {
	if !s.exists {
		return nil, errors.New("no dataset")
	}
	return s.data, nil
}

func (s *fakeStore) Save(data []byte) error {
	s.data = data
	s.exists = true
	s.saves++
	return nil
}

func (s *fakeStore) LastModified() (time.Time, bool, error) {
	return s.mod, s.exists, nil
}

// fakeDownloader serves a canned dataset.
type fakeDownloader struct {
	data  []byte
	calls int
	err   error
}

func (d *fakeDownloader) DownloadInstruments(ctx context.Context) ([]byte, error) {
	d.calls++
	return d.data, d.err
}

func serviceAt(store DatasetStore, dl Downloader, now time.Time) *Service {
	s := NewService(store, dl, 8, 30, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestShouldRefresh_MissingDataset(t *testing.T) {
	s := serviceAt(&fakeStore{}, nil, time.Date(2024, 6, 27, 10, 0, 0, 0, time.Local))

	stale, err := s.ShouldRefresh()
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestShouldRefresh_CutoffIsAlwaysToday(t *testing.T) {
	today := func(hour, minute int) time.Time {
		return time.Date(2024, 6, 27, hour, minute, 0, 0, time.Local)
	}
	yesterday := func(hour, minute int) time.Time {
		return time.Date(2024, 6, 26, hour, minute, 0, 0, time.Local)
	}

	tests := []struct {
		name string
		mod  time.Time
		now  time.Time
		want bool
	}{
		{"yesterday 23:00, now 07:00", yesterday(23, 0), today(7, 0), true},
		{"today 09:00, now 10:00", today(9, 0), today(10, 0), false},
		{"today 08:00, now 10:00", today(8, 0), today(10, 0), true},
		{"today exactly 08:30, now 09:00", today(8, 30), today(9, 0), false},
		{"today 07:00, now 07:30 pre-cutoff", today(7, 0), today(7, 30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := serviceAt(&fakeStore{exists: true, mod: tt.mod}, nil, tt.now)
			stale, err := s.ShouldRefresh()
			require.NoError(t, err)
			assert.Equal(t, tt.want, stale)
		})
	}
}

func TestEnsureFresh_DownloadsWhenStaleThenLoads(t *testing.T) {
	store := &fakeStore{}
	dl := &fakeDownloader{data: []byte("tradingsymbol,exchange\nINFY,NSE\n")}
	s := serviceAt(store, dl, time.Date(2024, 6, 27, 10, 0, 0, 0, time.Local))

	require.NoError(t, s.EnsureFresh(context.Background()))
	assert.Equal(t, 1, dl.calls)
	assert.Equal(t, 1, store.saves)
	require.NotNil(t, s.Catalog())
	assert.Equal(t, 2, s.Catalog().Len())
}

func TestEnsureFresh_FreshDatasetSkipsDownload(t *testing.T) {
	now := time.Date(2024, 6, 27, 10, 0, 0, 0, time.Local)
	store := &fakeStore{
		exists: true,
		mod:    time.Date(2024, 6, 27, 9, 0, 0, 0, time.Local),
		data:   []byte("tradingsymbol,exchange\nINFY,NSE\n"),
	}
	dl := &fakeDownloader{data: []byte("should not be used")}
	s := serviceAt(store, dl, now)

	require.NoError(t, s.EnsureFresh(context.Background()))
	assert.Zero(t, dl.calls)
	assert.Zero(t, store.saves)
	require.NotNil(t, s.Catalog())
}

func TestEnsureFresh_DownloadFailureSurfaces(t *testing.T) {
	store := &fakeStore{}
	dl := &fakeDownloader{err: errors.New("network down")}
	s := serviceAt(store, dl, time.Date(2024, 6, 27, 10, 0, 0, 0, time.Local))

	err := s.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downloading instruments")
	assert.Nil(t, s.Catalog())
}

func TestReload_SwapsSnapshotAtomically(t *testing.T) {
	store := &fakeStore{
		exists: true,
		mod:    time.Now(),
		data:   []byte("tradingsymbol,exchange\nINFY,NSE\n"),
	}
	s := NewService(store, nil, 8, 30, nil)

	require.NoError(t, s.Reload())
	old := s.Catalog()
	require.Equal(t, 2, old.Len())

	store.data = []byte("tradingsymbol,exchange\nINFY,NSE\nTCS,NSE\n")
	require.NoError(t, s.Reload())

	// The old snapshot is untouched; the service serves the new one.
	assert.Equal(t, 2, old.Len())
	assert.Equal(t, 3, s.Catalog().Len())
}

func TestFileDatasetStore_RoundTripAndModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.csv")
	store := NewFileDatasetStore(path)

	_, ok, err := store.LastModified()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save([]byte("a,b\n1,2\n")))

	mod, ok, err := store.LastModified()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), mod, time.Minute)

	data, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestService_QuerySurfaceRequiresLoadedCatalog(t *testing.T) {
	s := NewService(&fakeStore{}, nil, 8, 30, nil)

	_, err := s.FindInstrument(map[string]string{"tradingsymbol": "INFY"})
	assert.Error(t, err)
	_, err = s.GetExpiryDates("NFO", "NIFTY", "CE")
	assert.Error(t, err)
	_, err = s.GetOptionStrikes(ChainQuery{Price: 100, Name: "NIFTY", Expiry: "2024-06-27", InstrumentType: "CE"})
	assert.Error(t, err)
}
