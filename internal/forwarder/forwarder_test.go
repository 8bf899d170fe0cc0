package forwarder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/pkg/condbag"
	"github.com/gridcore/server/pkg/model"
)

func TestClassifyLocal(t *testing.T) {
	res := model.Resource{Zone: "tempZone", Host: "localhost"}
	assert.Equal(t, Local, Classify(res, "tempZone", "localhost"))
}

func TestClassifyRemoteHost(t *testing.T) {
	res := model.Resource{Zone: "tempZone", Host: "other.example.com"}
	assert.Equal(t, RemoteHost, Classify(res, "tempZone", "localhost"))
}

func TestClassifyRemoteZone(t *testing.T) {
	res := model.Resource{Zone: "otherZone", Host: "other.example.com"}
	assert.Equal(t, RemoteZone, Classify(res, "tempZone", "localhost"))
}

func TestLocalityString(t *testing.T) {
	assert.Equal(t, "LOCAL", Local.String())
	assert.Equal(t, "REMOTE_HOST", RemoteHost.String())
	assert.Equal(t, "REMOTE_ZONE", RemoteZone.String())
}

type fakeInvoker struct {
	gotBag *condbag.Bag
}

func (f *fakeInvoker) Invoke(ctx context.Context, conn interface{}, apiNumber int, bag *condbag.Bag, operand interface{}) (interface{}, error) {
	f.gotBag = bag
	return "ok", nil
}

func TestForwardAnnotatesBagAndReusesConnection(t *testing.T) {
	invoker := &fakeInvoker{}
	pool := NewPool(config.TLSConfig{Enabled: false}, invoker)

	res := model.Resource{Name: "remoteResc", Zone: "otherZone", Host: "localhost:0", VaultPath: "/vault"}
	bag := condbag.New()
	bag.Add(condbag.ForceFlag, "")

	result, err := pool.Forward(context.Background(), res, 1, bag, nil)
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.True(t, invoker.gotBag.Has(condbag.NativeNetcdfCall))
	assert.Equal(t, "/vault", invoker.gotBag.Get(condbag.TranslatedPath))
	assert.True(t, bag.Has(condbag.ForceFlag))
	assert.False(t, bag.Has(condbag.NativeNetcdfCall))

	assert.Equal(t, 1, pool.Len())

	_, err = pool.Get(context.Background(), "otherZone", "localhost:0")
	assert.NoError(t, err)
	assert.Equal(t, 1, pool.Len())

	pool.CloseAll()
	assert.Equal(t, 0, pool.Len())
}
