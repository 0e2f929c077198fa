package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/bookprice/cache"
	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/lookup"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/quota"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	batches [][]string
	at      []time.Time
	respond func(call int, isbns []string) ([]lookup.Book, error)
}

func (f *fakeClient) Lookup(_ context.Context, isbns []string) ([]lookup.Book, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), isbns...))
	f.at = append(f.at, time.Now())
	call := len(f.batches)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(call, isbns)
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// priceEverything answers every requested ISBN with a fixed price.
func priceEverything(price string) func(int, []string) ([]lookup.Book, error) {
	return func(_ int, isbns []string) ([]lookup.Book, error) {
		books := make([]lookup.Book, 0, len(isbns))
		for _, isbn := range isbns {
			books = append(books, lookup.Book{ISBN13: isbn, MSRP: lookup.Price(price), Title: "T " + isbn})
		}
		return books, nil
	}
}

type stubLedger struct {
	used int
}

func (s *stubLedger) Usage(context.Context, string) (int, error) { return s.used, nil }
func (s *stubLedger) Increment(context.Context, string) error {
	s.used++
	return nil
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, isbn string) (models.CacheEntry, bool, error) {
	args := m.Called(ctx, isbn)
	return args.Get(0).(models.CacheEntry), args.Bool(1), args.Error(2)
}

func (m *mockCache) Put(ctx context.Context, isbn string, price decimal.Decimal, meta cache.Metadata) error {
	args := m.Called(ctx, isbn, price, meta)
	return args.Error(0)
}

func isbnRange(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("978%010d", i)
	}
	return out
}

func testOptions() Options {
	return Options{BatchSize: 100, DailyQuota: 5000}
}

func TestResolveCacheHitSkipsProvider(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(100, cache.DefaultTTL)
	require.NoError(t, mem.Put(ctx, "9780306406157", decimal.RequireFromString("24.16"), cache.Metadata{}))
	require.NoError(t, mem.Put(ctx, "9780131103627", decimal.RequireFromString("52.50"), cache.Metadata{}))

	client := &fakeClient{respond: priceEverything("1.00")}
	r := New(mem, quota.NewMemory(), client, testOptions(), nil)

	prices, err := r.Resolve(ctx, []string{"9780306406157", "9780131103627"})
	require.NoError(t, err)
	assert.Equal(t, 0, client.calls())
	assert.True(t, prices["9780306406157"].Equal(decimal.RequireFromString("24.16")))
	assert.True(t, prices["9780131103627"].Equal(decimal.RequireFromString("52.5")))
}

func TestResolveIsIdempotentWithWarmCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(100, cache.DefaultTTL)
	client := &fakeClient{respond: priceEverything("19.99")}
	r := New(mem, quota.NewMemory(), client, testOptions(), nil)

	isbns := isbnRange(5)
	first, err := r.Resolve(ctx, isbns)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())

	second, err := r.Resolve(ctx, isbns)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls(), "second run must be served from cache")
	require.Len(t, second, len(first))
	for isbn, price := range first {
		assert.True(t, price.Equal(second[isbn]), "price for %s changed", isbn)
	}
}

func TestResolveBatchesMissesAndPopulatesCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(1000, cache.DefaultTTL)
	ledger := quota.NewMemory()
	client := &fakeClient{respond: priceEverything("10.00")}
	r := New(mem, ledger, client, testOptions(), nil)

	isbns := isbnRange(120)
	prices, err := r.Resolve(ctx, isbns)
	require.NoError(t, err)

	require.Equal(t, 2, client.calls())
	assert.Len(t, client.batches[0], 100)
	assert.Len(t, client.batches[1], 20)
	assert.Equal(t, isbns[:100], client.batches[0], "batches keep caller order")
	assert.Len(t, prices, 120)
	assert.Equal(t, 120, mem.Len())

	used, err := ledger.Usage(ctx, quota.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 2, used)
}

func TestResolveDeduplicatesInput(t *testing.T) {
	client := &fakeClient{respond: priceEverything("3.00")}
	r := New(cache.NewMemory(10, cache.DefaultTTL), quota.NewMemory(), client, testOptions(), nil)

	_, err := r.Resolve(context.Background(), []string{"9780306406157", "", "9780306406157"})
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())
	assert.Equal(t, []string{"9780306406157"}, client.batches[0])
}

func TestResolveQuotaExceededBeforeDispatch(t *testing.T) {
	client := &fakeClient{respond: priceEverything("10.00")}
	ledger := &stubLedger{used: 4950}
	r := New(cache.NewMemory(10, cache.DefaultTTL), ledger, client, testOptions(), nil)

	// 5,950 misses need 60 calls.
	_, err := r.Resolve(context.Background(), isbnRange(5950))
	require.Error(t, err)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "quota")
	assert.Equal(t, 0, client.calls())
	assert.Equal(t, 4950, ledger.used)
}

func TestResolveQuotaExactlyAtLimitIsAdmitted(t *testing.T) {
	client := &fakeClient{respond: priceEverything("10.00")}
	ledger := &stubLedger{used: 4998}
	r := New(cache.NewMemory(500, cache.DefaultTTL), ledger, client, testOptions(), nil)

	_, err := r.Resolve(context.Background(), isbnRange(200))
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, 5000, ledger.used)
}

func TestResolveUnauthorizedAbortsResolution(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return nil, lookup.ErrUnauthorized{Err: errors.New("invalid key")}
	}}
	ledger := quota.NewMemory()
	r := New(cache.NewMemory(500, cache.DefaultTTL), ledger, client, testOptions(), nil)

	_, err := r.Resolve(context.Background(), isbnRange(250))
	require.Error(t, err)
	assert.True(t, lookup.IsFatal(err))
	assert.Equal(t, 1, client.calls())

	used, _ := ledger.Usage(context.Background(), quota.Day(time.Now()))
	assert.Equal(t, 1, used, "the rejected call was still issued")
}

func TestResolveSkipsFailedBatch(t *testing.T) {
	prices := priceEverything("8.00")
	client := &fakeClient{respond: func(call int, isbns []string) ([]lookup.Book, error) {
		if call == 1 {
			return nil, lookup.ErrRateLimited{Err: errors.New("Too Many Requests")}
		}
		return prices(call, isbns)
	}}
	ledger := quota.NewMemory()
	r := New(cache.NewMemory(500, cache.DefaultTTL), ledger, client, testOptions(), nil)

	isbns := isbnRange(150)
	got, err := r.Resolve(context.Background(), isbns)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls())
	assert.Len(t, got, 50)
	_, ok := got[isbns[0]]
	assert.False(t, ok, "isbn from the failed batch must stay absent")
	_, ok = got[isbns[149]]
	assert.True(t, ok)

	used, _ := ledger.Usage(context.Background(), quota.Day(time.Now()))
	assert.Equal(t, 2, used, "every issued call is counted, failed ones included")
}

func TestResolveToleratesCacheFailures(t *testing.T) {
	mc := &mockCache{}
	mc.On("Get", mock.Anything, mock.Anything).Return(models.CacheEntry{}, false, errors.New("connection refused"))
	mc.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	client := &fakeClient{respond: priceEverything("12.00")}
	r := New(mc, quota.NewMemory(), client, testOptions(), nil)

	prices, err := r.Resolve(context.Background(), []string{"9780306406157", "9780131103627"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls())
	assert.Len(t, prices, 2)
	mc.AssertNumberOfCalls(t, "Get", 2)
	mc.AssertNumberOfCalls(t, "Put", 2)
}

func TestResolveIgnoresUnusablePrices(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return []lookup.Book{
			{ISBN13: "9780000000001", MSRP: ""},
			{ISBN13: "9780000000002", MSRP: "0"},
			{ISBN13: "9780000000003", MSRP: "-3.50"},
			{ISBN13: "9780000000004", MSRP: "n/a"},
			{ISBN13: "9780000000005", MSRP: "$12.50"},
			{MSRP: "4.00"},
		}, nil
	}}
	mem := cache.NewMemory(10, cache.DefaultTTL)
	r := New(mem, quota.NewMemory(), client, testOptions(), nil)

	prices, err := r.Resolve(context.Background(), []string{
		"9780000000001", "9780000000002", "9780000000003", "9780000000004", "9780000000005",
	})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices["9780000000005"].Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 1, mem.Len())
}

func TestResolvePrefersThirteenDigitKey(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return []lookup.Book{
			{ISBN: "0306406152", ISBN13: "978-0-306-40615-7", MSRP: "24.16"},
			{ISBN: "0131103628", ISBN13: "9780131103627", MSRP: "52.50"},
		}, nil
	}}
	mem := cache.NewMemory(10, cache.DefaultTTL)
	r := New(mem, quota.NewMemory(), client, testOptions(), nil)

	prices, err := r.Resolve(context.Background(), []string{"0306406152", "9780131103627"})
	require.NoError(t, err)

	assert.Contains(t, prices, "9780306406157")
	assert.Contains(t, prices, "0306406152", "requested 10-digit form stays addressable")
	assert.Contains(t, prices, "9780131103627")
	assert.NotContains(t, prices, "0131103628", "unrequested 10-digit form is not added")
	assert.Equal(t, 3, mem.Len())
}

func TestResolvePacesBatches(t *testing.T) {
	client := &fakeClient{respond: priceEverything("1.00")}
	opts := Options{BatchSize: 1, DailyQuota: 5000, Pacing: 30 * time.Millisecond}
	r := New(cache.NewMemory(10, cache.DefaultTTL), quota.NewMemory(), client, opts, nil)

	start := time.Now()
	_, err := r.Resolve(context.Background(), isbnRange(3))
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWithClientSharesLimiter(t *testing.T) {
	r := New(cache.NewMemory(10, cache.DefaultTTL), quota.NewMemory(), &fakeClient{}, Options{Pacing: time.Second}, nil)
	other := r.WithClient(&fakeClient{})
	assert.Same(t, r.limiter, other.limiter)
	assert.NotSame(t, r.client, other.client)
	assert.Equal(t, lookup.MaxBatchSize, other.opts.BatchSize)
}

func TestResolveRetriesAreChargedAndPaced(t *testing.T) {
	cfg := config.DefaultConfig()
	prices := priceEverything("7.00")
	client := &fakeClient{respond: func(call int, isbns []string) ([]lookup.Book, error) {
		if call == 1 {
			return nil, lookup.ErrRateLimited{Err: errors.New("Too Many Requests")}
		}
		return prices(call, isbns)
	}}
	ledger := quota.NewMemory()
	opts := Options{
		BatchSize:    1,
		DailyQuota:   5000,
		Pacing:       cfg.PacingInterval,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
	r := New(cache.NewMemory(10, cache.DefaultTTL), ledger, client, opts, nil)

	got, err := r.Resolve(context.Background(), isbnRange(2))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// batch 1 is attempted twice, batch 2 once
	require.Equal(t, 3, client.calls())
	for i := 1; i < len(client.at); i++ {
		gap := client.at[i].Sub(client.at[i-1])
		assert.GreaterOrEqual(t, gap, config.MinPacingInterval, "call %d followed call %d after %v", i+1, i, gap)
	}

	used, _ := ledger.Usage(context.Background(), quota.Day(time.Now()))
	assert.Equal(t, 3, used)
}

func TestResolveRetryExhaustionSkipsBatch(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return nil, lookup.ErrProvider{Status: 503, Err: errors.New("unavailable")}
	}}
	ledger := quota.NewMemory()
	opts := testOptions()
	opts.MaxRetries = 2
	r := New(cache.NewMemory(10, cache.DefaultTTL), ledger, client, opts, nil)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	got, err := r.Resolve(context.Background(), isbnRange(3))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, client.calls())
	assert.Len(t, slept, 2)

	used, _ := ledger.Usage(context.Background(), quota.Day(time.Now()))
	assert.Equal(t, 3, used)
}

func TestResolveDoesNotRetryFatalErrors(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return nil, lookup.ErrProvider{Status: 400, Err: errors.New("bad request")}
	}}
	opts := testOptions()
	opts.MaxRetries = 2
	r := New(cache.NewMemory(10, cache.DefaultTTL), quota.NewMemory(), client, opts, nil)

	_, err := r.Resolve(context.Background(), isbnRange(3))
	require.Error(t, err)
	assert.True(t, lookup.IsFatal(err))
	assert.Equal(t, 1, client.calls())
}

func TestResolveMissingKeyIsNotCharged(t *testing.T) {
	client := &fakeClient{respond: func(int, []string) ([]lookup.Book, error) {
		return nil, lookup.ErrUnauthorized{Err: lookup.ErrMissingAPIKey}
	}}
	ledger := quota.NewMemory()
	r := New(cache.NewMemory(10, cache.DefaultTTL), ledger, client, testOptions(), nil)

	_, err := r.Resolve(context.Background(), isbnRange(1))
	require.ErrorIs(t, err, lookup.ErrMissingAPIKey)

	used, _ := ledger.Usage(context.Background(), quota.Day(time.Now()))
	assert.Equal(t, 0, used)
}

func TestBackoffCapped(t *testing.T) {
	r := New(nil, nil, nil, Options{RetryBackoff: 200 * time.Millisecond, RetryBackoffMax: 500 * time.Millisecond}, nil)
	if got := r.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", got)
	}
	if got := r.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v, want 400ms", got)
	}
	if got := r.backoff(4); got != 500*time.Millisecond {
		t.Fatalf("backoff %v should be capped at 500ms", got)
	}
}
