package session

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore errors on every call.
type failingStore struct{ err error }

func (s failingStore) Load(ctx context.Context) ([]byte, error) { return nil, s.err }
func (s failingStore) Save(ctx context.Context, data []byte) error { return s.err }
func (s failingStore) Delete(ctx context.Context) error { return s.err }

func newTestManager(store Store) *Manager {
	return NewManager(store, logging.Discard())
}

func TestManager_StartsEmpty(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	require.NoError(t, m.Load(context.Background()))

	assert.Empty(t, m.Token())
	assert.Nil(t, m.User())
	assert.Equal(t, ModeNone, m.Mode())
}

func TestManager_EstablishPersistsAndRehydrates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	m := newTestManager(store)
	require.NoError(t, m.Establish(ctx, "tok-1", User{Username: "m1", Role: RoleMerchant}, ModeTokenBacked))
	assert.Equal(t, "tok-1", m.Token())

	fresh := newTestManager(store)
	require.NoError(t, fresh.Load(ctx))
	snap := fresh.Snapshot()
	assert.Equal(t, "tok-1", snap.Token)
	assert.Equal(t, ModeTokenBacked, snap.Mode)
	require.NotNil(t, snap.User)
	assert.Equal(t, "m1", snap.User.Username)
}

func TestManager_SetTokenKeepsUser(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	require.NoError(t, m.Establish(ctx, "", User{Username: "m1", Role: RoleMerchant}, ModeTokenBacked))
	assert.Equal(t, ModeNone, m.Mode(), "no token means no mode")

	require.NoError(t, m.SetToken(ctx, "tok-2"))
	assert.Equal(t, "tok-2", m.Token())
	assert.Equal(t, ModeTokenBacked, m.Mode())
	assert.Equal(t, "m1", m.User().Username)

	require.NoError(t, m.SetToken(ctx, ""))
	assert.Empty(t, m.Token())
	assert.NotNil(t, m.User(), "user may outlive the token")
}

func TestManager_ClearDeletesStoredKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestManager(store)
	require.NoError(t, m.Establish(ctx, "tok", User{Username: "m1", Role: RoleMerchant}, ModeTokenBacked))
	require.True(t, store.Has())

	require.NoError(t, m.Clear(ctx))
	assert.False(t, store.Has(), "clear removes the key instead of storing an empty value")
	assert.Empty(t, m.Token())
	assert.Nil(t, m.User())
}

func TestManager_CorruptStorageIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, []byte("{not json")))

	m := newTestManager(store)
	require.NoError(t, m.Load(ctx))
	assert.Empty(t, m.Token())
	assert.Nil(t, m.User())
}

func TestManager_UnreadableStoreStartsEmpty(t *testing.T) {
	m := newTestManager(failingStore{err: errors.New("disk gone")})
	require.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.Token())
	assert.Nil(t, m.User())
	assert.Equal(t, ModeNone, m.Mode())
}

func TestManager_LoadReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newTestManager(failingStore{err: context.Canceled})
	err := m.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Token())
}

func TestManager_FailedSaveLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(failingStore{err: errors.New("read-only")})
	err := m.Establish(context.Background(), "tok", User{Username: "m1"}, ModeTokenBacked)
	require.Error(t, err)
	assert.Empty(t, m.Token(), "a token that was not persisted must not be visible")
}

func TestManager_UserIsACopy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	require.NoError(t, m.Establish(ctx, "tok", User{Username: "m1", Role: RoleMerchant}, ModeTokenBacked))

	u := m.User()
	u.Username = "mallory"
	assert.Equal(t, "m1", m.User().Username)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = m.Establish(ctx, "tok", User{Username: "m1"}, ModeTokenBacked)
			_ = m.Clear(ctx)
		}
	}()
	for i := 0; i < 200; i++ {
		_ = m.Token()
		_ = m.Snapshot()
	}
	<-done
}
