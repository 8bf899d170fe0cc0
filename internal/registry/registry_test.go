package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/pkg/condbag"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		Global: config.GlobalConfig{Zone: "tempZone"},
		Resources: []config.ResourceConfig{
			{Name: "cacheResc", Zone: "tempZone", Kind: "UNIX", Class: "CACHE", Group: "cacheGroup"},
			{Name: "cacheResc2", Zone: "tempZone", Kind: "UNIX", Class: "CACHE", Group: "cacheGroup"},
			{Name: "archiveResc", Zone: "tempZone", Kind: "S3", Class: "ARCHIVE"},
		},
	}
}

func TestResolveByName(t *testing.T) {
	r := New(testConfig())
	res, err := r.ResolveByName("archiveResc")
	require.NoError(t, err)
	assert.Equal(t, "S3", string(res.Kind))
}

func TestResolveByNameMissing(t *testing.T) {
	r := New(testConfig())
	_, err := r.ResolveByName("doesNotExist")
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeCatNoRowsFound))
}

func TestIterateGroupVisitsMembers(t *testing.T) {
	r := New(testConfig())
	var seen []string
	err := r.IterateGroup("cacheGroup", func(res model.Resource) error {
		seen = append(seen, res.Name)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cacheResc", "cacheResc2"}, seen)
}

func TestIterateGroupMissingGroup(t *testing.T) {
	r := New(testConfig())
	err := r.IterateGroup("doesNotExist", func(model.Resource) error { return nil })
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeCatNoRowsFound))
}

func TestPickDestinationHonorsDestRescName(t *testing.T) {
	r := New(testConfig())
	bag := condbag.New()
	bag.Add(condbag.DestRescName, "archiveResc")

	res, err := r.PickDestination(bag, "alice")
	require.NoError(t, err)
	assert.Equal(t, "archiveResc", res.Name)
}

func TestPickDestinationFallsBackToBackupRescName(t *testing.T) {
	r := New(testConfig())
	bag := condbag.New()
	bag.Add(condbag.BackupRescName, "cacheResc")

	res, err := r.PickDestination(bag, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cacheResc", res.Name)
}

func TestPickDestinationFallsBackToUserDefault(t *testing.T) {
	r := New(testConfig())
	r.SetUserDefault("alice", "cacheResc2")
	bag := condbag.New()

	res, err := r.PickDestination(bag, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cacheResc2", res.Name)
}

func TestPickDestinationFallsBackToZoneDefault(t *testing.T) {
	r := New(testConfig())
	bag := condbag.New()

	res, err := r.PickDestination(bag, "bob")
	require.NoError(t, err)
	assert.Equal(t, "cacheResc", res.Name) // first configured resource
}

func TestReloadReplacesContents(t *testing.T) {
	r := New(testConfig())
	newCfg := &config.Configuration{
		Global:    config.GlobalConfig{Zone: "tempZone"},
		Resources: []config.ResourceConfig{{Name: "onlyResc", Zone: "tempZone", Kind: "UNIX", Class: "CACHE"}},
	}
	r.Reload(newCfg)

	_, err := r.ResolveByName("cacheResc")
	require.Error(t, err)

	res, err := r.ResolveByName("onlyResc")
	require.NoError(t, err)
	assert.Equal(t, "onlyResc", res.Name)
}

func TestSnapshotReturnsAllResources(t *testing.T) {
	r := New(testConfig())
	snap := r.Snapshot()
	assert.Len(t, snap, 3)
}
