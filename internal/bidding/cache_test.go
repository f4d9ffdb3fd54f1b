package bidding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func loaderReturning(bids []Bid, calls *int) func(context.Context) ([]Bid, error) {
	return func(ctx context.Context) ([]Bid, error) {
		*calls++
		return bids, nil
	}
}

func TestFetchBidsCachesListing(t *testing.T) {
	c := testCache(t)
	bids := []Bid{{ID: 1, InvoiceID: 7, DiscountRate: decimal.RequireFromString("1.5"), NetAmount: decimal.RequireFromString("491250.00"), Status: StatusActive}}

	calls := 0
	got, err := c.FetchBids(context.Background(), 7, loaderReturning(bids, &calls))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, calls)

	got, err = c.FetchBids(context.Background(), 7, loaderReturning(bids, &calls))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].NetAmount.Equal(bids[0].NetAmount))
	require.Equal(t, 1, calls, "second read must come from the cache")
}

func TestBumpInvalidatesEveryListing(t *testing.T) {
	c := testCache(t)
	calls := 0
	_, err := c.FetchBids(context.Background(), 7, loaderReturning(nil, &calls))
	require.NoError(t, err)
	_, err = c.FetchBids(context.Background(), 8, loaderReturning(nil, &calls))
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	c.Bump(context.Background())

	_, err = c.FetchBids(context.Background(), 7, loaderReturning(nil, &calls))
	require.NoError(t, err)
	_, err = c.FetchBids(context.Background(), 8, loaderReturning(nil, &calls))
	require.NoError(t, err)
	require.Equal(t, 4, calls)
}

func TestNilCacheDegradesToLoader(t *testing.T) {
	var c *Cache
	calls := 0
	for i := 0; i < 3; i++ {
		_, err := c.FetchBids(context.Background(), 7, loaderReturning(nil, &calls))
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
	c.Bump(context.Background())
}
