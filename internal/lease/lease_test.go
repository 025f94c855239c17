package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/store"
)

// fakeLeaseStore is an in-memory single-row lease table.
type fakeLeaseStore struct {
	lease    *model.LeaderLease
	failAll  bool
	released string
}

func (f *fakeLeaseStore) GetLease(context.Context) (*model.LeaderLease, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	if f.lease == nil {
		return nil, store.ErrNotFound
	}
	cp := *f.lease
	return &cp, nil
}

func (f *fakeLeaseStore) TryInsertLease(_ context.Context, l *model.LeaderLease) error {
	if f.lease != nil {
		return store.ErrConflict
	}
	cp := *l
	f.lease = &cp
	return nil
}

func (f *fakeLeaseStore) RenewLease(_ context.Context, holderID string, l *model.LeaderLease) error {
	if f.lease == nil || f.lease.HolderID != holderID {
		return store.ErrConflict
	}
	f.lease.Expires, f.lease.Renewed = l.Expires, l.Renewed
	return nil
}

func (f *fakeLeaseStore) TakeOverLease(_ context.Context, prev, next *model.LeaderLease) error {
	if f.lease == nil || f.lease.HolderID != prev.HolderID || !f.lease.Expires.Equal(prev.Expires) {
		return store.ErrConflict
	}
	cp := *next
	f.lease = &cp
	return nil
}

func (f *fakeLeaseStore) ReleaseLease(_ context.Context, holderID string) error {
	f.released = holderID
	if f.lease != nil && f.lease.HolderID == holderID {
		f.lease.Expires = time.Now().UTC()
	}
	return nil
}

func TestAcquireWhenVacant(t *testing.T) {
	st := &fakeLeaseStore{}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)

	e.tick(context.Background())
	assert.True(t, e.IsLeader())
	require.NotNil(t, st.lease)
	assert.Equal(t, "node-a", st.lease.HolderID)
}

func TestRenewWhileHolding(t *testing.T) {
	st := &fakeLeaseStore{}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)
	e.tick(context.Background())
	firstExpiry := st.lease.Expires

	time.Sleep(2 * time.Millisecond)
	e.tick(context.Background())
	assert.True(t, e.IsLeader())
	assert.True(t, st.lease.Expires.After(firstExpiry) || st.lease.Expires.Equal(firstExpiry))
}

func TestStandbyWhileOtherHolds(t *testing.T) {
	st := &fakeLeaseStore{lease: &model.LeaderLease{
		Key: "primary", HolderID: "node-b",
		Expires: time.Now().UTC().Add(time.Minute),
	}}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)

	e.tick(context.Background())
	assert.False(t, e.IsLeader())
	assert.Equal(t, "node-b", st.lease.HolderID)
}

func TestTakeOverExpiredLease(t *testing.T) {
	st := &fakeLeaseStore{lease: &model.LeaderLease{
		Key: "primary", HolderID: "node-b",
		Expires: time.Now().UTC().Add(-time.Second),
	}}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)

	e.tick(context.Background())
	assert.True(t, e.IsLeader())
	assert.Equal(t, "node-a", st.lease.HolderID)
}

func TestDemoteOnConflict(t *testing.T) {
	st := &fakeLeaseStore{}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)
	e.tick(context.Background())
	require.True(t, e.IsLeader())

	// Another node took the row underneath us.
	st.lease.HolderID = "node-b"
	e.tick(context.Background())
	assert.False(t, e.IsLeader())
}

func TestStoreErrorDemotes(t *testing.T) {
	st := &fakeLeaseStore{failAll: true}
	e := NewElector(st, "node-a", 15*time.Second, time.Second)
	e.tick(context.Background())
	assert.False(t, e.IsLeader())
}

func TestRunReleasesOnShutdown(t *testing.T) {
	st := &fakeLeaseStore{}
	e := NewElector(st, "node-a", 15*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	require.Eventually(t, e.IsLeader, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "node-a", st.released)
	assert.False(t, e.IsLeader())
}
