// Package compound implements the COMPOUND_CACHE/COMPOUND_ARCHIVE
// resource driver pair (spec §4.3, §4.8 step 2, C3): a fast cache
// resource fronting a slow archive resource, with data staged from
// archive to cache before read and synced from cache to archive on
// close.
package compound

import (
	"context"
	"os"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Driver implements model.CompoundDriver by delegating ordinary I/O
// to an underlying cache-kind driver (e.g. UNIX) and staging/sync
// transfers to an underlying archive-kind driver (e.g. S3, TAR_BUNDLE).
// Which role (cache or archive) this Driver plays is fixed at
// construction, matching the registry's one-driver-instance-per-
// resource model (C2): a COMPOUND_CACHE resource and its paired
// COMPOUND_ARCHIVE resource are two distinct Driver values sharing the
// same underlying delegates.
type Driver struct {
	kind    model.DriverKind
	cache   model.Driver
	archive model.Driver
}

// New constructs a Driver for kind (must be KindCompoundCache or
// KindCompoundArch), wired to the cache and archive delegates that
// back it.
func New(kind model.DriverKind, cache, archive model.Driver) (*Driver, error) {
	if kind != model.KindCompoundCache && kind != model.KindCompoundArch {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "compound driver only supports COMPOUND_CACHE and COMPOUND_ARCHIVE").
			WithComponent("drivers/compound").WithDriverKind(string(kind))
	}
	if cache == nil || archive == nil {
		return nil, ecode.New(ecode.CodeInvalidOption, "compound driver requires both a cache and an archive delegate").
			WithComponent("drivers/compound")
	}
	return &Driver{kind: kind, cache: cache, archive: archive}, nil
}

// Kind implements model.Driver.
func (d *Driver) Kind() model.DriverKind { return d.kind }

// delegate returns the underlying driver ordinary I/O calls should
// reach: COMPOUND_CACHE routes to the cache delegate, COMPOUND_ARCHIVE
// to the archive delegate.
func (d *Driver) delegate() model.Driver {
	if d.kind == model.KindCompoundArch {
		return d.archive
	}
	return d.cache
}

// Open implements model.Driver by opening against the active role's
// delegate.
func (d *Driver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	return d.delegate().Open(ctx, physPath, flags, mode)
}

// Close implements model.Driver.
func (d *Driver) Close(ctx context.Context, native interface{}) error {
	return d.delegate().Close(ctx, native)
}

// Read implements model.Driver.
func (d *Driver) Read(ctx context.Context, native interface{}, buf []byte) (int, error) {
	return d.delegate().Read(ctx, native, buf)
}

// Write implements model.Driver.
func (d *Driver) Write(ctx context.Context, native interface{}, buf []byte) (int, error) {
	return d.delegate().Write(ctx, native, buf)
}

// Lseek implements model.Driver.
func (d *Driver) Lseek(ctx context.Context, native interface{}, offset int64, whence int) (int64, error) {
	return d.delegate().Lseek(ctx, native, offset, whence)
}

// Unlink implements model.Driver.
func (d *Driver) Unlink(ctx context.Context, physPath string) error {
	return d.delegate().Unlink(ctx, physPath)
}

// Stat implements model.Driver.
func (d *Driver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	return d.delegate().Stat(ctx, physPath)
}

// Stage implements model.CompoundDriver: it copies archive's object
// into cache ahead of an open, one byte range at a time so the
// archive delegate's Read semantics (which may be a ranged S3 GET)
// are honored without assuming a whole-object read is cheap.
func (d *Driver) Stage(ctx context.Context, archive, cache model.PhysicalRef) error {
	native, err := d.archive.Open(ctx, archive.PhysicalPath, readFlags, 0)
	if err != nil {
		return ecode.New(ecode.CodeStageFail, "compound stage source open failed").
			WithComponent("drivers/compound").WithDetail("archive", archive.PhysicalPath).WithCause(err)
	}
	defer d.archive.Close(ctx, native)

	dest, err := d.cache.Open(ctx, cache.PhysicalPath, createWriteFlags, 0o644)
	if err != nil {
		return ecode.New(ecode.CodeStageFail, "compound stage destination open failed").
			WithComponent("drivers/compound").WithDetail("cache", cache.PhysicalPath).WithCause(err)
	}
	defer d.cache.Close(ctx, dest)

	return copyDriverToDriver(ctx, d.archive, native, d.cache, dest)
}

// Sync implements model.CompoundDriver, the inverse transfer of
// Stage: cache contents are written back into the archive.
func (d *Driver) Sync(ctx context.Context, cache, archive model.PhysicalRef) error {
	native, err := d.cache.Open(ctx, cache.PhysicalPath, readFlags, 0)
	if err != nil {
		return ecode.New(ecode.CodeSyncFail, "compound sync source open failed").
			WithComponent("drivers/compound").WithDetail("cache", cache.PhysicalPath).WithCause(err)
	}
	defer d.cache.Close(ctx, native)

	dest, err := d.archive.Open(ctx, archive.PhysicalPath, createWriteFlags, 0o644)
	if err != nil {
		return ecode.New(ecode.CodeSyncFail, "compound sync destination open failed").
			WithComponent("drivers/compound").WithDetail("archive", archive.PhysicalPath).WithCause(err)
	}
	defer d.archive.Close(ctx, dest)

	return copyDriverToDriver(ctx, d.cache, native, d.archive, dest)
}

const (
	readFlags        = os.O_RDONLY
	createWriteFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
)

func copyDriverToDriver(ctx context.Context, src model.Driver, srcNative interface{}, dst model.Driver, dstNative interface{}) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := src.Read(ctx, srcNative, buf)
		if n > 0 {
			if _, werr := dst.Write(ctx, dstNative, buf[:n]); werr != nil {
				return ecode.New(ecode.CodeSyncFail, "compound transfer write failed").
					WithComponent("drivers/compound").WithCause(werr)
			}
		}
		if err != nil {
			return ecode.New(ecode.CodeSyncFail, "compound transfer read failed").
				WithComponent("drivers/compound").WithCause(err)
		}
		if n == 0 {
			return nil
		}
	}
}
