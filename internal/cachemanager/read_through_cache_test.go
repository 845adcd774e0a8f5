package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCacheManager struct {
	mock.Mock
}

func (m *mockCacheManager) Get(ctx context.Context, key fingerprint) (*artifact, bool) {
	args := m.Called(ctx, key)
	v, _ := args.Get(0).(*artifact)
	return v, args.Bool(1)
}

func (m *mockCacheManager) Set(ctx context.Context, key fingerprint, value *artifact, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *mockCacheManager) Delete(ctx context.Context, keys ...fingerprint) {
	m.Called(ctx, keys)
}

func (m *mockCacheManager) Flush(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockCacheManager) Len() int {
	return m.Called().Int(0)
}

func build(calls *int) func(context.Context, string) (*artifact, error) {
	return func(_ context.Context, unit string) (*artifact, error) {
		*calls++
		return &artifact{Unit: unit, Ops: *calls}, nil
	}
}

func TestReadThroughCache_SkipCacheNeverTouchesManager(t *testing.T) {
	manager := &mockCacheManager{}
	calls := 0
	r := NewReadThroughCache[fingerprint, *artifact, string](manager, build(&calls), true)

	v, hit, err := r.Get(context.Background(), "fp", "billing", time.Minute)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "billing", v.Unit)
	manager.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	manager.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_MissLoadsAndStores(t *testing.T) {
	manager := &mockCacheManager{}
	calls := 0
	r := NewReadThroughCache[fingerprint, *artifact, string](manager, build(&calls), false)

	manager.On("Get", mock.Anything, fingerprint("fp")).Return(nil, false).Once()
	manager.On("Set", mock.Anything, fingerprint("fp"), mock.AnythingOfType("*cachemanager.artifact"), time.Minute).Once()

	v, hit, err := r.Get(context.Background(), "fp", "billing", time.Minute)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, v.Ops)
	manager.AssertExpectations(t)
}

func TestReadThroughCache_HitSkipsLoad(t *testing.T) {
	manager := &mockCacheManager{}
	calls := 0
	r := NewReadThroughCache[fingerprint, *artifact, string](manager, build(&calls), false)
	cached := &artifact{Unit: "billing", Ops: 42}

	manager.On("Get", mock.Anything, fingerprint("fp")).Return(cached, true).Once()

	v, hit, err := r.Get(context.Background(), "fp", "billing", time.Minute)
	require.NoError(t, err)
	require.True(t, hit)
	require.Same(t, cached, v)
	require.Zero(t, calls)
	manager.AssertExpectations(t)
}

func TestReadThroughCache_LoadErrorIsNotCached(t *testing.T) {
	manager := &mockCacheManager{}
	boom := errors.New("boom")
	r := NewReadThroughCache[fingerprint, *artifact, string](manager, func(context.Context, string) (*artifact, error) {
		return nil, boom
	}, false)

	manager.On("Get", mock.Anything, fingerprint("fp")).Return(nil, false).Once()

	_, _, err := r.Get(context.Background(), "fp", "billing", time.Minute)
	require.ErrorIs(t, err, boom)
	manager.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_Invalidate(t *testing.T) {
	cache := NewInMemoryCacheManager[fingerprint, *artifact]("codegen", DefaultExpiration, DefaultCleanupInterval)
	calls := 0
	r := NewReadThroughCache[fingerprint, *artifact, string](cache, build(&calls), false)
	ctx := context.Background()

	_, _, err := r.Get(ctx, "fp", "billing", 0)
	require.NoError(t, err)
	_, hit, err := r.Get(ctx, "fp", "billing", 0)
	require.NoError(t, err)
	require.True(t, hit)

	r.Invalidate(ctx, "fp")
	v, hit, err := r.Get(ctx, "fp", "billing", 0)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, v.Ops)
}
