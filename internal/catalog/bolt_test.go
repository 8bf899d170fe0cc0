package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

func openTestCatalog(t *testing.T) *BoltCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestCreateAndResolveObject(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/foo.txt", Owner: "alice"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Object.Owner)
	assert.Empty(t, info.Replicas)
}

func TestResolveMissingObject(t *testing.T) {
	cat := openTestCatalog(t)
	_, err := cat.Resolve(context.Background(), "/tempZone/nope")
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeCatNoRowsFound))
}

func TestRegisterAndOrderReplicas(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/bar.txt"})
	require.NoError(t, err)

	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 1, ResourceName: "archiveResc", Status: model.Stale}))
	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 0, ResourceName: "cacheResc", Status: model.Good}))

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/bar.txt")
	require.NoError(t, err)
	require.Len(t, info.Replicas, 2)
	assert.Equal(t, model.Good, info.Replicas[0].Status)
	assert.Equal(t, 0, info.Replicas[0].ReplicaNumber)
}

func TestRegisterReplicaUpsertsByNumber(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/baz.txt"})
	require.NoError(t, err)

	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 0, Size: 10}))
	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 0, Size: 20}))

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/baz.txt")
	require.NoError(t, err)
	require.Len(t, info.Replicas, 1)
	assert.Equal(t, int64(20), info.Replicas[0].Size)
}

func TestUnregisterReplica(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/qux.txt"})
	require.NoError(t, err)
	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 0}))

	require.NoError(t, cat.UnregisterReplica(ctx, id, 0))
	info, err := cat.Resolve(ctx, "/tempZone/home/alice/qux.txt")
	require.NoError(t, err)
	assert.Empty(t, info.Replicas)
}

func TestUnregisterMissingReplica(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/missing.txt"})
	require.NoError(t, err)

	err = cat.UnregisterReplica(ctx, id, 99)
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeCatNoRowsFound))
}

func TestUpdateReplica(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/up.txt"})
	require.NoError(t, err)
	require.NoError(t, cat.RegisterReplica(ctx, id, model.Replica{ReplicaNumber: 0, Status: model.Stale}))

	newSize := int64(1024)
	newChecksum := "abc123"
	goodStatus := model.Good
	require.NoError(t, cat.UpdateReplica(ctx, id, 0, model.ReplicaUpdate{Size: &newSize, Checksum: &newChecksum, Status: &goodStatus}))

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/up.txt")
	require.NoError(t, err)
	assert.Equal(t, newSize, info.Replicas[0].Size)
	assert.Equal(t, newChecksum, info.Replicas[0].Checksum)
	assert.Equal(t, model.Good, info.Replicas[0].Status)
}

func TestRenameObject(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/old.txt"})
	require.NoError(t, err)

	require.NoError(t, cat.RenameObject(ctx, id, "/tempZone/home/alice/new.txt"))

	_, err = cat.Resolve(ctx, "/tempZone/home/alice/old.txt")
	require.Error(t, err)

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/new.txt")
	require.NoError(t, err)
	assert.Equal(t, id, info.Object.ObjectID)
}

func TestMoveObject(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	id, err := cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/mv.txt", CollectionID: 1})
	require.NoError(t, err)

	require.NoError(t, cat.MoveObject(ctx, id, 2))

	info, err := cat.Resolve(ctx, "/tempZone/home/alice/mv.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Object.CollectionID)
}

func TestCreateAndQueryCollection(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	rootID, err := cat.CreateCollection(ctx, model.CollectionRow{Path: "/tempZone/home/alice"})
	require.NoError(t, err)

	_, err = cat.CreateCollection(ctx, model.CollectionRow{Path: "/tempZone/home/alice/sub", ParentID: rootID})
	require.NoError(t, err)
	_, err = cat.CreateObject(ctx, model.DataObject{LogicalPath: "/tempZone/home/alice/a.txt", CollectionID: rootID})
	require.NoError(t, err)

	entries, nextToken, err := cat.QueryCollection(ctx, "/tempZone/home/alice", 0, "")
	require.NoError(t, err)
	assert.Empty(t, nextToken)
	assert.Len(t, entries, 2)
}

func TestQueryCollectionUnknownPath(t *testing.T) {
	cat := openTestCatalog(t)
	_, _, err := cat.QueryCollection(context.Background(), "/tempZone/nope", 0, "")
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeCatNoRowsFound))
}

func TestSpecialCollectionRoundTrip(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	sc := model.SpecialCollection{CollectionID: 5, Kind: model.SCMountedFS, Path: "/mnt/data"}
	require.NoError(t, cat.CreateSpecialCollection(ctx, sc))

	got, err := cat.GetSpecialCollection(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.SCMountedFS, got.Kind)
}

func TestLockSerializesAccess(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	unlock1, err := cat.Lock(ctx, 42)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		unlock2, err := cat.Lock(ctx, 42)
		require.NoError(t, err)
		unlock2()
		close(done)
	}()

	unlock1()
	<-done
}

func TestResourceAndGroupPersistence(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.PutResource(ctx, model.Resource{Name: "cacheResc", Kind: model.KindUnix}))
	resources, err := cat.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)

	require.NoError(t, cat.PutResourceGroup(ctx, model.ResourceGroup{Name: "cacheGroup", Members: []string{"cacheResc"}}))
	groups, err := cat.ListResourceGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}
