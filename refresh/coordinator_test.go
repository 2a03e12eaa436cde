package refresh_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/autherrors"
	"github.com/oauthkit/oauthkit/filelock"
	"github.com/oauthkit/oauthkit/refresh"
	"github.com/oauthkit/oauthkit/storage"
)

// fakeRefresher counts grant invocations and can be gated so tests control
// exactly when the in-flight refresh settles.
type fakeRefresher struct {
	calls   atomic.Int64
	started chan struct{} // closed-once signal that a grant began
	release chan struct{} // grant blocks until this closes, when non-nil
	result  storage.Token
	err     error

	startOnce sync.Once
}

func (f *fakeRefresher) refresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	result := f.result
	return &result, nil
}

func seedToken(t *testing.T, store storage.Store, key string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.SaveToken(key, storage.Token{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		ExpiresAt:    expiresAt,
	}))
}

func TestRefreshSingleFlight(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "example.com:me", time.Now().Add(-time.Minute))

	fake := &fakeRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  storage.Token{AccessToken: "new-access", RefreshToken: "new-refresh", TokenType: "Bearer"},
	}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	const callers = 16
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := coordinator.Refresh(context.Background(), "example.com:me")
			if err != nil {
				errs <- err
				return
			}
			results <- token.AccessToken
		}()
	}

	// Let every caller either win the slot or queue up behind it before the
	// grant is allowed to finish.
	<-fake.started
	time.Sleep(50 * time.Millisecond)
	close(fake.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, fake.calls.Load())
	count := 0
	for access := range results {
		require.Equal(t, "new-access", access)
		count++
	}
	require.Equal(t, callers, count)

	stored, err := store.GetToken("example.com:me")
	require.NoError(t, err)
	require.Equal(t, "new-access", stored.AccessToken)
}

func TestRefreshFailureClearsInFlightMarker(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(-time.Minute))

	fake := &fakeRefresher{err: &autherrors.ServerError{Code: "invalid_grant"}}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	_, err = coordinator.Refresh(context.Background(), "key")
	require.Error(t, err)
	var serverErr *autherrors.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "invalid_grant", serverErr.Code)

	// The key is idle again: a second attempt reaches the grant.
	fake.err = nil
	fake.result = storage.Token{AccessToken: "recovered", RefreshToken: "r", TokenType: "Bearer"}
	token, err := coordinator.Refresh(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, "recovered", token.AccessToken)
	require.EqualValues(t, 2, fake.calls.Load())
}

func TestRefreshWaitersGetNotFoundWhenNothingPersisted(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(-time.Minute))

	fake := &fakeRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		err:     &autherrors.ServerError{Code: "invalid_grant"},
	}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	winnerErr := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), "key")
		winnerErr <- err
	}()
	<-fake.started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), "key")
		waiterErr <- err
	}()

	// The revoked grant invalidates the credential; drop it before the
	// in-flight attempt settles.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.DeleteToken("key"))
	close(fake.release)

	require.Error(t, <-winnerErr)
	require.ErrorIs(t, <-waiterErr, autherrors.ErrTokenNotFound)
}

func TestRefreshMissingToken(t *testing.T) {
	coordinator, err := refresh.NewCoordinator(storage.NewMemoryStore(), (&fakeRefresher{}).refresh)
	require.NoError(t, err)

	_, err = coordinator.Refresh(context.Background(), "unknown")
	require.ErrorIs(t, err, autherrors.ErrTokenNotFound)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveToken("key", storage.Token{
		AccessToken: "access", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(-time.Minute), ExpiresIn: 60,
	}))

	fake := &fakeRefresher{}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	_, err = coordinator.Refresh(context.Background(), "key")
	require.ErrorIs(t, err, autherrors.ErrNoRefreshToken)
	require.EqualValues(t, 0, fake.calls.Load())
}

func TestWaitReturnsImmediatelyForIdleKey(t *testing.T) {
	coordinator, err := refresh.NewCoordinator(storage.NewMemoryStore(), (&fakeRefresher{}).refresh)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		coordinator.Wait("never-refreshed")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked for a key with no refresh activity")
	}
}

func TestWaitBlocksUntilRefreshPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(-time.Minute))

	fake := &fakeRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  storage.Token{AccessToken: "persisted", RefreshToken: "r", TokenType: "Bearer"},
	}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	go func() {
		_, _ = coordinator.Refresh(context.Background(), "key")
	}()
	<-fake.started

	waited := make(chan struct{})
	go func() {
		coordinator.Wait("key")
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the refresh was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fake.release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the refresh settled")
	}

	stored, err := store.GetToken("key")
	require.NoError(t, err)
	require.Equal(t, "persisted", stored.AccessToken)
}

func TestValidTokenSkipsRefreshWhenFresh(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(time.Hour))

	fake := &fakeRefresher{}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	token, err := coordinator.ValidToken(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, "old-access", token.AccessToken)
	require.EqualValues(t, 0, fake.calls.Load())
}

func TestValidTokenRefreshesWhenExpired(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(-time.Minute))

	fake := &fakeRefresher{result: storage.Token{AccessToken: "fresh", RefreshToken: "r", TokenType: "Bearer"}}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh)
	require.NoError(t, err)

	token, err := coordinator.ValidToken(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, "fresh", token.AccessToken)
	require.EqualValues(t, 1, fake.calls.Load())
}

func TestValidTokenMissing(t *testing.T) {
	coordinator, err := refresh.NewCoordinator(storage.NewMemoryStore(), (&fakeRefresher{}).refresh)
	require.NoError(t, err)

	_, err = coordinator.ValidToken(context.Background(), "unknown")
	require.ErrorIs(t, err, autherrors.ErrTokenNotFound)
}

func TestValidTokenWithinThreshold(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time { return now }

	newCoordinator := func(t *testing.T, store storage.Store, fake *fakeRefresher) *refresh.Coordinator {
		c, err := refresh.NewCoordinator(store, fake.refresh, refresh.WithNowTime(nowFunc))
		require.NoError(t, err)
		return c
	}

	t.Run("fresh token below threshold is returned as is", func(t *testing.T) {
		store := storage.NewMemoryStore()
		// 10% of a one-hour lifetime elapsed.
		require.NoError(t, store.SaveToken("key", storage.Token{
			AccessToken: "valid", RefreshToken: "r", TokenType: "Bearer",
			ExpiresIn: 3600, ExpiresAt: now.Add(3240 * time.Second),
		}))
		fake := &fakeRefresher{}
		c := newCoordinator(t, store, fake)

		for _, threshold := range []float64{0.8, 0.5, 1.5} {
			token, err := c.ValidTokenWithin(context.Background(), "key", threshold)
			require.NoError(t, err)
			require.Equal(t, "valid", token.AccessToken)
		}
		require.EqualValues(t, 0, fake.calls.Load())
	})

	t.Run("token past threshold is refreshed", func(t *testing.T) {
		store := storage.NewMemoryStore()
		// 90% of a one-hour lifetime elapsed.
		require.NoError(t, store.SaveToken("key", storage.Token{
			AccessToken: "stale", RefreshToken: "r", TokenType: "Bearer",
			ExpiresIn: 3600, ExpiresAt: now.Add(360 * time.Second),
		}))
		fake := &fakeRefresher{result: storage.Token{AccessToken: "proactive", RefreshToken: "r", TokenType: "Bearer"}}
		c := newCoordinator(t, store, fake)

		token, err := c.ValidTokenWithin(context.Background(), "key", 0.8)
		require.NoError(t, err)
		require.Equal(t, "proactive", token.AccessToken)
		require.EqualValues(t, 1, fake.calls.Load())
	})

	t.Run("expired token is always refreshed", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedToken(t, store, "key", now.Add(-100*time.Second))
		fake := &fakeRefresher{result: storage.Token{AccessToken: "renewed", RefreshToken: "r", TokenType: "Bearer"}}
		c := newCoordinator(t, store, fake)

		token, err := c.ValidTokenWithin(context.Background(), "key", 0.8)
		require.NoError(t, err)
		require.Equal(t, "renewed", token.AccessToken)
	})

	t.Run("token without expiry info is never refreshed proactively", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.SaveToken("key", storage.Token{
			AccessToken: "eternal", RefreshToken: "r", TokenType: "Bearer",
		}))
		fake := &fakeRefresher{}
		c := newCoordinator(t, store, fake)

		token, err := c.ValidTokenWithin(context.Background(), "key", 0.8)
		require.NoError(t, err)
		require.Equal(t, "eternal", token.AccessToken)
		require.EqualValues(t, 0, fake.calls.Load())
	})
}

func TestFileLockedRefreshSkipsWhenAlreadyRenewed(t *testing.T) {
	store := storage.NewMemoryStore()
	// Another process already renewed this token; it is not expired.
	seedToken(t, store, "key", time.Now().Add(time.Hour))

	manager, err := filelock.NewManager(t.TempDir())
	require.NoError(t, err)

	fake := &fakeRefresher{}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh, refresh.WithFileLocking(manager))
	require.NoError(t, err)

	token, err := coordinator.Refresh(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, "old-access", token.AccessToken)
	require.EqualValues(t, 0, fake.calls.Load())
}

func TestFileLockedRefreshRenewsAndReleasesLock(t *testing.T) {
	store := storage.NewMemoryStore()
	seedToken(t, store, "key", time.Now().Add(-time.Minute))

	manager, err := filelock.NewManager(t.TempDir())
	require.NoError(t, err)

	fake := &fakeRefresher{result: storage.Token{AccessToken: "locked-renewal", RefreshToken: "r", TokenType: "Bearer"}}
	coordinator, err := refresh.NewCoordinator(store, fake.refresh, refresh.WithFileLocking(manager))
	require.NoError(t, err)

	token, err := coordinator.Refresh(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, "locked-renewal", token.AccessToken)
	require.EqualValues(t, 1, fake.calls.Load())

	// The per-key lock was released.
	lock, err := manager.TryAcquire("key")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.NoError(t, lock.Release())
}
