package compound

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcore/server/internal/drivers/posix"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// memDriver is a trivial in-memory model.Driver used as a stand-in
// archive delegate so Stage/Sync can be exercised without a network
// dependency.
type memDriver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemDriver() *memDriver { return &memDriver{objects: map[string][]byte{}} }

func (m *memDriver) Kind() model.DriverKind { return model.KindS3 }

type memHandle struct {
	key    string
	offset int
	buf    []byte
}

func (m *memDriver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	return &memHandle{key: physPath}, nil
}
func (m *memDriver) Close(ctx context.Context, native interface{}) error {
	h := native.(*memHandle)
	if h.buf != nil {
		m.mu.Lock()
		m.objects[h.key] = h.buf
		m.mu.Unlock()
	}
	return nil
}
func (m *memDriver) Read(ctx context.Context, native interface{}, buf []byte) (int, error) {
	h := native.(*memHandle)
	m.mu.Lock()
	data := m.objects[h.key]
	m.mu.Unlock()
	if h.offset >= len(data) {
		return 0, nil
	}
	n := copy(buf, data[h.offset:])
	h.offset += n
	return n, nil
}
func (m *memDriver) Write(ctx context.Context, native interface{}, buf []byte) (int, error) {
	h := native.(*memHandle)
	h.buf = append(h.buf, buf...)
	return len(buf), nil
}
func (m *memDriver) Lseek(ctx context.Context, native interface{}, offset int64, whence int) (int64, error) {
	return 0, nil
}
func (m *memDriver) Unlink(ctx context.Context, physPath string) error {
	m.mu.Lock()
	delete(m.objects, physPath)
	m.mu.Unlock()
	return nil
}
func (m *memDriver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	m.mu.Lock()
	data, ok := m.objects[physPath]
	m.mu.Unlock()
	if !ok {
		return model.FileStat{}, ecode.New(ecode.CodeBadPath, "not found").WithComponent("drivers/compound/test")
	}
	return model.FileStat{Size: int64(len(data))}, nil
}

func TestNewRejectsUnsupportedKind(t *testing.T) {
	_, err := New(model.KindS3, posix.New(), newMemDriver())
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeDriverUnsupported))
}

func TestNewRequiresBothDelegates(t *testing.T) {
	_, err := New(model.KindCompoundCache, nil, newMemDriver())
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeInvalidOption))
}

func TestStageCopiesArchiveToCache(t *testing.T) {
	archiveDriver := newMemDriver()
	cacheDriver := posix.New()

	d, err := New(model.KindCompoundCache, cacheDriver, archiveDriver)
	require.NoError(t, err)

	ctx := context.Background()
	wh, err := archiveDriver.Open(ctx, "obj", 0, 0)
	require.NoError(t, err)
	_, err = archiveDriver.Write(ctx, wh, []byte("staged content"))
	require.NoError(t, err)
	require.NoError(t, archiveDriver.Close(ctx, wh))

	cachePath := filepath.Join(t.TempDir(), "obj")
	require.NoError(t, d.Stage(ctx,
		model.PhysicalRef{PhysicalPath: "obj"},
		model.PhysicalRef{PhysicalPath: cachePath}))

	content, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "staged content", string(content))
}

func TestSyncCopiesCacheToArchive(t *testing.T) {
	archiveDriver := newMemDriver()
	cacheDriver := posix.New()

	d, err := New(model.KindCompoundArch, cacheDriver, archiveDriver)
	require.NoError(t, err)

	ctx := context.Background()
	cachePath := filepath.Join(t.TempDir(), "obj")
	require.NoError(t, os.WriteFile(cachePath, []byte("synced content"), 0o644))

	require.NoError(t, d.Sync(ctx,
		model.PhysicalRef{PhysicalPath: cachePath},
		model.PhysicalRef{PhysicalPath: "obj"}))

	stat, err := archiveDriver.Stat(ctx, "obj")
	require.NoError(t, err)
	assert.Equal(t, int64(len("synced content")), stat.Size)
}

func TestKindSelectsDelegate(t *testing.T) {
	archiveDriver := newMemDriver()
	cacheDriver := posix.New()

	cacheRole, err := New(model.KindCompoundCache, cacheDriver, archiveDriver)
	require.NoError(t, err)
	assert.Equal(t, model.KindCompoundCache, cacheRole.Kind())
	assert.Equal(t, model.KindUnix, cacheRole.delegate().Kind())

	archiveRole, err := New(model.KindCompoundArch, cacheDriver, archiveDriver)
	require.NoError(t, err)
	assert.Equal(t, model.KindCompoundArch, archiveRole.Kind())
	assert.Equal(t, model.KindS3, archiveRole.delegate().Kind())
}
