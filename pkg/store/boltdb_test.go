package store

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisu-os/core/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	st, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestUser() *types.User {
	id := uuid.New()
	return &types.User{
		ID:          id,
		Email:       id.String() + "@example.com",
		Username:    "user-" + id.String()[:8],
		DisplayName: "Test User",
		Role:        "user",
		IsActive:    true,
		CPU:         2,
		DiskMB:      5120,
	}
}

func TestUserUniqueness(t *testing.T) {
	st := newTestStore(t)

	user := newTestUser()
	require.NoError(t, st.CreateUser(user))

	dupEmail := newTestUser()
	dupEmail.Email = user.Email
	err := st.CreateUser(dupEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	dupName := newTestUser()
	dupName.Username = user.Username
	err = st.CreateUser(dupName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already taken")

	// Username and email lookups are case-insensitive.
	got, err := st.GetUserByUsername(strings.ToUpper(user.Username))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = st.GetUserByEmail(strings.ToUpper(user.Email))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = st.GetUser(uuid.New())
	assert.True(t, IsNotFound(err))
}

func TestContainerUpsert(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()

	_, err := st.GetContainer(userID)
	assert.True(t, IsNotFound(err))

	rec := &types.ContainerRecord{
		UserID:        userID,
		ContainerName: types.ContainerName(userID),
		Status:        types.ContainerStatusCreating,
		CPULimit:      2,
	}
	require.NoError(t, st.UpsertContainer(rec))
	assert.False(t, rec.CreatedAt.IsZero())

	rec.Status = types.ContainerStatusRunning
	require.NoError(t, st.UpsertContainer(rec))

	got, err := st.GetContainer(userID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, got.Status)
	assert.Equal(t, types.ContainerName(userID), got.ContainerName)
}

func TestContainerEventsAppendOnlyOrder(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()
	other := uuid.New()

	for _, et := range []types.ContainerEventType{types.EventCreating, types.EventCreated, types.EventStarted} {
		require.NoError(t, st.AppendContainerEvent(&types.ContainerEvent{UserID: userID, EventType: et}))
	}
	require.NoError(t, st.AppendContainerEvent(&types.ContainerEvent{UserID: other, EventType: types.EventStopped}))

	events, err := st.ListContainerEvents(userID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventCreating, events[0].EventType)
	assert.Equal(t, types.EventCreated, events[1].EventType)
	assert.Equal(t, types.EventStarted, events[2].EventType)

	limited, err := st.ListContainerEvents(userID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestNodeMetaRenamePrefix(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()

	err := st.UpdateMeta(userID, func(tx MetaTx) error {
		for _, path := range []string{"/dir", "/dir/a.txt", "/dir/sub/b.txt", "/dirty"} {
			if err := tx.Upsert(&types.NodeMetadata{Path: path, Name: basename(path), NodeType: types.NodeTypeFile}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = st.UpdateMeta(userID, func(tx MetaTx) error {
		return tx.RenamePrefix("/dir", "/moved")
	})
	require.NoError(t, err)

	meta, err := st.FindNodeMeta(userID, "/moved/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/moved/sub/b.txt", meta.Path)
	assert.Equal(t, "b.txt", meta.Name)

	_, err = st.FindNodeMeta(userID, "/dir/a.txt")
	assert.True(t, IsNotFound(err))

	// A sibling sharing the name prefix is untouched.
	_, err = st.FindNodeMeta(userID, "/dirty")
	require.NoError(t, err)
}

func TestNodeMetaListings(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()
	x, y := 10, 20

	err := st.UpdateMeta(userID, func(tx MetaTx) error {
		if err := tx.Upsert(&types.NodeMetadata{Path: "/Desktop/a", Name: "a", NodeType: types.NodeTypeFile, DesktopX: &x, DesktopY: &y}); err != nil {
			return err
		}
		if err := tx.Upsert(&types.NodeMetadata{Path: "/.Trash/b", Name: "b", NodeType: types.NodeTypeFile, IsTrashed: true, OriginalPath: "/b"}); err != nil {
			return err
		}
		return tx.Upsert(&types.NodeMetadata{Path: "/plain", Name: "plain", NodeType: types.NodeTypeFile})
	})
	require.NoError(t, err)

	withPos, err := st.ListNodeMetaWithDesktopPos(userID)
	require.NoError(t, err)
	require.Len(t, withPos, 1)
	assert.Equal(t, "/Desktop/a", withPos[0].Path)

	trashed, err := st.ListNodeMetaTrashed(userID)
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, "/b", trashed[0].OriginalPath)

	// Another user sees nothing.
	otherTrash, err := st.ListNodeMetaTrashed(uuid.New())
	require.NoError(t, err)
	assert.Empty(t, otherTrash)
}

func TestDeleteAllTrashed(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()

	err := st.UpdateMeta(userID, func(tx MetaTx) error {
		if err := tx.Upsert(&types.NodeMetadata{Path: "/.Trash/a", Name: "a", NodeType: types.NodeTypeFile, IsTrashed: true}); err != nil {
			return err
		}
		if err := tx.Upsert(&types.NodeMetadata{Path: "/.Trash/b", Name: "b", NodeType: types.NodeTypeFile, IsTrashed: true}); err != nil {
			return err
		}
		return tx.Upsert(&types.NodeMetadata{Path: "/keep", Name: "keep", NodeType: types.NodeTypeFile})
	})
	require.NoError(t, err)

	var deleted int
	err = st.UpdateMeta(userID, func(tx MetaTx) error {
		var derr error
		deleted, derr = tx.DeleteAllTrashed()
		return derr
	})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = st.FindNodeMeta(userID, "/keep")
	require.NoError(t, err)
}

func TestMetaTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	userID := uuid.New()

	err := st.UpdateMeta(userID, func(tx MetaTx) error {
		if err := tx.Upsert(&types.NodeMetadata{Path: "/will-vanish", Name: "will-vanish", NodeType: types.NodeTypeFile}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = st.FindNodeMeta(userID, "/will-vanish")
	assert.True(t, IsNotFound(err))
}

func TestBetaRequests(t *testing.T) {
	st := newTestStore(t)

	req := &types.BetaAccessRequest{
		Email:       "Invitee@Example.com",
		HashedToken: "deadbeef",
	}
	require.NoError(t, st.PutBetaRequest(req))

	got, err := st.GetBetaRequest("invitee@example.com")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got.HashedToken)

	byHash, err := st.FindBetaRequestByHash("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, got.Email, byHash.Email)

	_, err = st.FindBetaRequestByHash("missing")
	assert.True(t, IsNotFound(err))
}
