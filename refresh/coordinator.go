// Package refresh coordinates token refreshes so that at most one refresh
// per credential key is in flight at a time. Concurrent callers share the
// winner's result instead of each hitting the token endpoint, and a settle
// primitive lets shutdown paths wait for background refreshes to persist.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oauthkit/oauthkit/autherrors"
	"github.com/oauthkit/oauthkit/filelock"
	"github.com/oauthkit/oauthkit/storage"
)

// RefreshFunc performs the actual token-endpoint refresh grant. It is
// supplied by the caller (typically oauth.Client.Refresh) and is the only
// place a Coordinator touches the network.
type RefreshFunc func(ctx context.Context, refreshToken string) (*storage.Token, error)

// Coordinator serializes refreshes per credential key.
//
// A key is either idle or refreshing. The first caller to Refresh an idle
// key performs the grant; callers arriving while the key is refreshing
// block on a condition variable until the key settles, then read the
// refreshed token from the store. The in-flight marker is cleared
// unconditionally, so a failed refresh never wedges a key.
type Coordinator struct {
	store     storage.Store
	refreshFn RefreshFunc
	locks     *filelock.Manager // optional cross-process coordination
	nowTime   func() time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight map[string]struct{}
}

// CoordinatorOption modifies a Coordinator during construction.
type CoordinatorOption func(*Coordinator)

// WithFileLocking adds cross-process coordination: the refresh path takes
// an exclusive file lock per key and re-checks the stored token under the
// lock, so a refresh already completed by another process is not repeated.
func WithFileLocking(manager *filelock.Manager) CoordinatorOption {
	return func(c *Coordinator) { c.locks = manager }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.nowTime = nowFunc }
}

// NewCoordinator creates a coordinator over the given store and refresh
// operation.
func NewCoordinator(store storage.Store, refreshFn RefreshFunc, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.Wrap(autherrors.ErrInvalidArgument, "[NewCoordinator] store is required")
	}
	if refreshFn == nil {
		return nil, errors.Wrap(autherrors.ErrInvalidArgument, "[NewCoordinator] refresh function is required")
	}

	c := &Coordinator{
		store:     store,
		refreshFn: refreshFn,
		nowTime:   time.Now,
		inFlight:  make(map[string]struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Refresh refreshes the token stored under key. If a refresh for key is
// already in flight, the call blocks until that refresh settles and returns
// the token it persisted; autherrors.ErrTokenNotFound is returned when the
// settled refresh left no token behind, which waiters may treat as "retry
// yourself".
func (c *Coordinator) Refresh(ctx context.Context, key string) (*storage.Token, error) {
	c.mu.Lock()
	if _, busy := c.inFlight[key]; busy {
		log.Debug().Str("key", key).Msg("refresh already in flight, waiting for settlement")
		for {
			if _, busy := c.inFlight[key]; !busy {
				break
			}
			c.cond.Wait()
		}
		c.mu.Unlock()
		return c.settledToken(key)
	}

	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	return c.doRefresh(ctx, key)
}

// Wait blocks until no refresh is in flight for key. It starts nothing and
// never fails; a key with no prior activity returns immediately. Call it
// before process exit so a background refresh can persist its result.
func (c *Coordinator) Wait(key string) {
	c.mu.Lock()
	for {
		if _, busy := c.inFlight[key]; !busy {
			break
		}
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// ValidToken returns the token stored under key, refreshing it first when
// it is expired.
func (c *Coordinator) ValidToken(ctx context.Context, key string) (*storage.Token, error) {
	token, err := c.store.GetToken(key)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, autherrors.ErrTokenNotFound
	}
	if token.ExpiredAt(c.nowTime()) {
		return c.Refresh(ctx, key)
	}
	return token, nil
}

// ValidTokenWithin is ValidToken with proactive refresh: the token is
// refreshed once the elapsed fraction of its lifetime reaches threshold
// (clamped to [0, 1]). A threshold of 0.8 refreshes when 80% of the
// lifetime has passed; 1.0 behaves like ValidToken. Tokens without expiry
// information are never refreshed proactively.
func (c *Coordinator) ValidTokenWithin(ctx context.Context, key string, threshold float64) (*storage.Token, error) {
	threshold = min(max(threshold, 0), 1)

	token, err := c.store.GetToken(key)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, autherrors.ErrTokenNotFound
	}
	if c.shouldRefresh(token, threshold) {
		return c.Refresh(ctx, key)
	}
	return token, nil
}

// settledToken reads the outcome of a refresh another caller performed.
func (c *Coordinator) settledToken(key string) (*storage.Token, error) {
	token, err := c.store.GetToken(key)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, autherrors.ErrTokenNotFound
	}
	return token, nil
}

// doRefresh performs the grant for the caller that won the in-flight race.
// With file locking configured it follows check-then-refresh: re-read the
// token under the cross-process lock and skip the grant when another
// process already renewed it.
func (c *Coordinator) doRefresh(ctx context.Context, key string) (*storage.Token, error) {
	if c.locks != nil {
		lock, err := c.locks.Acquire(key)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release refresh lock")
			}
		}()

		token, err := c.store.GetToken(key)
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, autherrors.ErrTokenNotFound
		}
		if !token.ExpiredAt(c.nowTime()) {
			log.Debug().Str("key", key).Msg("token already refreshed by another process")
			return token, nil
		}
		return c.refreshAndStore(ctx, key, token)
	}

	token, err := c.store.GetToken(key)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, autherrors.ErrTokenNotFound
	}
	return c.refreshAndStore(ctx, key, token)
}

func (c *Coordinator) refreshAndStore(ctx context.Context, key string, current *storage.Token) (*storage.Token, error) {
	if current.RefreshToken == "" {
		return nil, autherrors.ErrNoRefreshToken
	}

	renewed, err := c.refreshFn(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveToken(key, *renewed); err != nil {
		return nil, errors.Wrap(err, "[Refresh] saving refreshed token")
	}
	return renewed, nil
}

// shouldRefresh reports whether the elapsed fraction of the token lifetime
// has reached the threshold. Both ExpiresAt and ExpiresIn are required to
// compute the fraction; without them only hard expiry triggers a refresh.
func (c *Coordinator) shouldRefresh(token *storage.Token, threshold float64) bool {
	now := c.nowTime()
	if token.ExpiredAt(now) {
		return true
	}
	if token.ExpiresAt.IsZero() || token.ExpiresIn <= 0 {
		return false
	}

	lifetime := float64(token.ExpiresIn)
	remaining := token.ExpiresAt.Sub(now).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return (lifetime-remaining)/lifetime >= threshold
}
