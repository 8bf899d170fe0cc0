package posix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

func TestKindIsUnix(t *testing.T) {
	d := New()
	assert.Equal(t, model.KindUnix, d.Kind())
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	d := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "obj")

	wh, err := d.Open(ctx, path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	n, err := d.Write(ctx, wh, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, d.Close(ctx, wh))

	rh, err := d.Open(ctx, path, os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err = d.Read(ctx, rh, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, d.Close(ctx, rh))
}

func TestLseekAndStat(t *testing.T) {
	d := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "obj")

	wh, err := d.Open(ctx, path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = d.Write(ctx, wh, []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx, wh))

	stat, err := d.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stat.Size)

	rh, err := d.Open(ctx, path, os.O_RDONLY, 0)
	require.NoError(t, err)
	off, err := d.Lseek(ctx, rh, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), off)
	buf := make([]byte, 5)
	n, err := d.Read(ctx, rh, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "56789", string(buf))
	require.NoError(t, d.Close(ctx, rh))
}

func TestUnlinkRemovesFile(t *testing.T) {
	d := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "obj")

	wh, err := d.Open(ctx, path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx, wh))

	require.NoError(t, d.Unlink(ctx, path))
	_, err = d.Stat(ctx, path)
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeBadPath))
}

func TestOpenMissingFileFails(t *testing.T) {
	d := New()
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "missing"), os.O_RDONLY, 0)
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeOpenFail))
}

func TestAsFileRejectsForeignNative(t *testing.T) {
	_, err := asFile("not a file")
	require.Error(t, err)
	assert.True(t, ecode.IsCode(err, ecode.CodeInvariantViolated))
}
