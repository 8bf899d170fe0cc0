package replication

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcore/server/internal/catalog"
	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/internal/descriptor"
	"github.com/gridcore/server/internal/drivers/posix"
	"github.com/gridcore/server/internal/ioengine"
	"github.com/gridcore/server/internal/registry"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

func newTestSetup(t *testing.T, resources ...config.ResourceConfig) (*Engine, *ioengine.Engine, *descriptor.Session, *registry.Registry) {
	t.Helper()

	cfg := &config.Configuration{
		Global:    config.GlobalConfig{Zone: "tempZone"},
		Resources: resources,
	}
	reg := registry.New(cfg)

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	driverMap := make(map[string]model.Driver, len(resources))
	for _, rc := range resources {
		driverMap[rc.Name] = posix.New()
	}

	io := ioengine.NewEngine(reg, cat, driverMap, nil)
	repl := NewEngine(reg, cat, io, driverMap, t.TempDir(), nil)
	sess := descriptor.NewSession(16)
	return repl, io, sess, reg
}

func unixResource(name, vault string) config.ResourceConfig {
	return config.ResourceConfig{Name: name, Zone: "tempZone", Kind: "UNIX", VaultPath: vault}
}

func TestReplicateSingleDestination(t *testing.T) {
	repl, io, sess, _ := newTestSetup(t,
		unixResource("rescA", t.TempDir()),
		unixResource("rescB", t.TempDir()),
	)
	ctx := context.Background()
	path := "/tempZone/home/alice/file.txt"

	l1, err := io.Open(ctx, sess, "alice", path, os.O_WRONLY|os.O_CREATE, 0644, nil)
	require.NoError(t, err)
	_, err = io.Write(ctx, sess, l1, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, io.Close(ctx, sess, l1, nil))

	out, err := repl.Replicate(ctx, sess, "alice", Request{LogicalPath: path, ReplicaNumber: -1, DestResc: "rescB"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempted)
	assert.Equal(t, 1, out.Replicated)
	assert.Nil(t, out.FirstError)

	info, err := repl.catalog.Resolve(ctx, path)
	require.NoError(t, err)
	require.Len(t, info.Replicas, 2)

	var dest model.Replica
	for _, r := range info.Replicas {
		if r.ResourceName == "rescB" {
			dest = r
		}
	}
	require.NotEmpty(t, dest.ResourceName)
	assert.Equal(t, model.Good, dest.Status)
	assert.Equal(t, int64(len("payload")), dest.Size)

	data, err := os.ReadFile(dest.PhysicalPath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestReplicateRejectsSameResourceDestination(t *testing.T) {
	repl, io, sess, _ := newTestSetup(t, unixResource("rescA", t.TempDir()))
	ctx := context.Background()
	path := "/tempZone/home/alice/dup.txt"

	l1, err := io.Open(ctx, sess, "alice", path, os.O_WRONLY|os.O_CREATE, 0644, nil)
	require.NoError(t, err)
	_, err = io.Write(ctx, sess, l1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, io.Close(ctx, sess, l1, nil))

	_, err = repl.Replicate(ctx, sess, "alice", Request{LogicalPath: path, ReplicaNumber: -1, DestResc: "rescA"})
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeHierarchyError))
}

func TestReplicateAllSpreadsAcrossGroup(t *testing.T) {
	groupA := config.ResourceConfig{Name: "rescB", Zone: "tempZone", Kind: "UNIX", VaultPath: t.TempDir(), Group: "group1"}
	groupB := config.ResourceConfig{Name: "rescC", Zone: "tempZone", Kind: "UNIX", VaultPath: t.TempDir(), Group: "group1"}
	repl, io, sess, _ := newTestSetup(t, unixResource("rescA", t.TempDir()), groupA, groupB)
	ctx := context.Background()
	path := "/tempZone/home/alice/grouped.txt"

	l1, err := io.Open(ctx, sess, "alice", path, os.O_WRONLY|os.O_CREATE, 0644, nil)
	require.NoError(t, err)
	_, err = io.Write(ctx, sess, l1, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, io.Close(ctx, sess, l1, nil))

	out, err := repl.Replicate(ctx, sess, "alice", Request{LogicalPath: path, ReplicaNumber: -1, DestRescGroup: "group1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempted)
	assert.Equal(t, 1, out.Replicated)

	info, err := repl.catalog.Resolve(ctx, path)
	require.NoError(t, err)
	assert.Len(t, info.Replicas, 2)

	out2, err := repl.Replicate(ctx, sess, "alice", Request{LogicalPath: path, ReplicaNumber: -1, DestRescGroup: "group1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out2.Replicated)

	info, err = repl.catalog.Resolve(ctx, path)
	require.NoError(t, err)
	assert.Len(t, info.Replicas, 3)

	seen := map[string]bool{}
	for _, r := range info.Replicas {
		seen[r.ResourceName] = true
	}
	assert.True(t, seen["rescB"])
	assert.True(t, seen["rescC"])
}
