package counter

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// storeContract — общие сценарии для любой реализации Store.
type storeContract struct {
	suite.Suite
	newStore func() Store
	store    Store
}

func (s *storeContract) SetupTest() {
	s.store = s.newStore()
	s.Require().NoError(s.store.Load(context.Background()))
}

func (s *storeContract) TestEmptyWindow() {
	w, err := s.store.GetWindow(context.Background(), "missing", HourMs, 7_200_123)
	s.Require().NoError(err)
	s.Equal(int64(0), w.Used.Int64())
	s.Equal(int64(7_200_000), w.WindowStart)
}

func (s *storeContract) TestAddAccumulatesWithinBucket() {
	ctx := context.Background()
	t0 := int64(1_700_000_000_000)
	s.Require().NoError(s.store.Add(ctx, "k", big.NewInt(100), HourMs, t0))
	s.Require().NoError(s.store.Add(ctx, "k", big.NewInt(250), HourMs, t0+1000))

	w, err := s.store.GetWindow(ctx, "k", HourMs, t0+2000)
	s.Require().NoError(err)
	s.Equal("350", w.Used.String())
	s.Equal(BucketStart(t0, HourMs), w.WindowStart)
}

func (s *storeContract) TestBucketRollover() {
	ctx := context.Background()
	t0 := int64(1_700_000_000_000)
	s.Require().NoError(s.store.Add(ctx, "k", big.NewInt(100), HourMs, t0))

	next, err := s.store.GetWindow(ctx, "k", HourMs, t0+HourMs+1)
	s.Require().NoError(err)
	s.Equal(int64(0), next.Used.Int64(), "new bucket starts empty")

	same, err := s.store.GetWindow(ctx, "k", HourMs, t0+1)
	s.Require().NoError(err)
	s.Equal(int64(100), same.Used.Int64(), "read did not reset the stored window")

	s.Require().NoError(s.store.Add(ctx, "k", big.NewInt(5), HourMs, t0+HourMs+1))
	after, err := s.store.GetWindow(ctx, "k", HourMs, t0+HourMs+2)
	s.Require().NoError(err)
	s.Equal(int64(5), after.Used.Int64(), "old bucket discarded, not carried over")
}

func (s *storeContract) TestHourAndDayAreIndependent() {
	ctx := context.Background()
	t0 := int64(1_700_000_000_000)
	s.Require().NoError(s.store.Add(ctx, "x:h1", big.NewInt(10), HourMs, t0))
	s.Require().NoError(s.store.Add(ctx, "x:d1", big.NewInt(10), DayMs, t0))
	s.Require().NoError(s.store.Add(ctx, "x:h1", big.NewInt(10), HourMs, t0+HourMs))

	h, err := s.store.GetWindow(ctx, "x:h1", HourMs, t0+HourMs)
	s.Require().NoError(err)
	d, err := s.store.GetWindow(ctx, "x:d1", DayMs, t0+HourMs)
	s.Require().NoError(err)
	s.Equal(int64(10), h.Used.Int64())
	s.Equal(int64(10), d.Used.Int64())
}

func (s *storeContract) TestConcurrentAddsNotLost() {
	ctx := context.Background()
	t0 := int64(1_700_000_000_000)
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Add(ctx, "shared", big.NewInt(3), DayMs, t0))
		}()
	}
	wg.Wait()

	w, err := s.store.GetWindow(ctx, "shared", DayMs, t0)
	s.Require().NoError(err)
	s.Equal(int64(3*workers), w.Used.Int64())
}

func (s *storeContract) TestRejectsNegative() {
	s.Error(s.store.Add(context.Background(), "k", big.NewInt(-1), HourMs, 0))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func() Store { return NewMemoryStore() }})
}

func TestFileStoreContract(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func() Store {
		return NewFileStore(filepath.Join(t.TempDir(), "counters.json"), zap.NewNop())
	}})
}

type FileStoreSuite struct {
	suite.Suite
	path string
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func (s *FileStoreSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "state", "counters.json")
}

func (s *FileStoreSuite) TestSurvivesRestart() {
	ctx := context.Background()
	t0 := int64(1_700_000_000_000)

	first := NewFileStore(s.path, zap.NewNop())
	s.Require().NoError(first.Load(ctx))
	big18, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	s.Require().NoError(first.Add(ctx, "fp:USDC:h1", big18, HourMs, t0))

	second := NewFileStore(s.path, zap.NewNop())
	s.Require().NoError(second.Load(ctx))
	w, err := second.GetWindow(ctx, "fp:USDC:h1", HourMs, t0)
	s.Require().NoError(err)
	s.Equal(big18.String(), w.Used.String())
}

func (s *FileStoreSuite) TestSnapshotFormat() {
	ctx := context.Background()
	store := NewFileStore(s.path, zap.NewNop())
	s.Require().NoError(store.Load(ctx))
	s.Require().NoError(store.Add(ctx, "a", big.NewInt(42), HourMs, 3_600_500))

	data, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	s.JSONEq(`{"counters":{"a":{"used":"42","windowStart":3600000}}}`, string(data))
}

func (s *FileStoreSuite) TestCorruptFileStartsEmpty() {
	s.Require().NoError(os.MkdirAll(filepath.Dir(s.path), 0o755))
	s.Require().NoError(os.WriteFile(s.path, []byte("{broken"), 0o600))

	store := NewFileStore(s.path, zap.NewNop())
	s.Require().NoError(store.Load(context.Background()))
	w, err := store.GetWindow(context.Background(), "a", HourMs, 0)
	s.Require().NoError(err)
	s.Equal(int64(0), w.Used.Int64())
}

func (s *FileStoreSuite) TestPersistFailureIsReturned() {
	dir := s.T().TempDir()
	blocker := filepath.Join(dir, "blocker")
	s.Require().NoError(os.WriteFile(blocker, []byte("x"), 0o600))

	// родитель пути — обычный файл, каталог создать нельзя
	store := NewFileStore(filepath.Join(blocker, "counters.json"), zap.NewNop())
	s.Require().NoError(store.Load(context.Background()))
	err := store.Add(context.Background(), "a", big.NewInt(1), HourMs, 0)
	s.Require().Error(err)

	w, err := store.GetWindow(context.Background(), "a", HourMs, 0)
	s.Require().NoError(err)
	s.Equal(int64(0), w.Used.Int64(), "failed add rolled back")
}

func TestBucketStart(t *testing.T) {
	cases := []struct{ now, window, want int64 }{
		{0, HourMs, 0},
		{HourMs - 1, HourMs, 0},
		{HourMs, HourMs, HourMs},
		{DayMs + 5, DayMs, DayMs},
		{-1, 10, -10},
	}
	for _, tc := range cases {
		if got := BucketStart(tc.now, tc.window); got != tc.want {
			t.Errorf("BucketStart(%d,%d)=%d want %d", tc.now, tc.window, got, tc.want)
		}
	}
}
