// Package mountedfs implements the MOUNTED_FS resource driver kind
// (spec §4.3, C3): a pre-existing directory tree — typically a
// network filesystem mounted outside the grid's control — exposed
// read-mostly, with its own enumeration used to populate the special
// collection a MOUNTED_FS resource is attached to (C10).
package mountedfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Driver implements model.Driver over an already-mounted directory
// tree. Writes are permitted (the mount itself may be read-write);
// this driver does not second-guess the underlying filesystem's
// permissions.
type Driver struct{}

// New constructs a Driver.
func New() *Driver { return &Driver{} }

// Kind implements model.Driver.
func (d *Driver) Kind() model.DriverKind { return model.KindMountedFS }

// Open implements model.Driver.
func (d *Driver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	f, err := os.OpenFile(physPath, flags, os.FileMode(mode))
	if err != nil {
		return nil, ecode.New(ecode.CodeOpenFail, "mounted filesystem open failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).
			WithDetail("path", physPath).WithCause(err)
	}
	return f, nil
}

// Close implements model.Driver.
func (d *Driver) Close(ctx context.Context, native interface{}) error {
	f, err := asFile(native)
	if err != nil {
		return err
	}
	return f.Close()
}

// Read implements model.Driver.
func (d *Driver) Read(ctx context.Context, native interface{}, buf []byte) (int, error) {
	f, err := asFile(native)
	if err != nil {
		return 0, err
	}
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return n, ecode.New(ecode.CodeReadFail, "mounted filesystem read failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).WithCause(err)
	}
	return n, nil
}

// Write implements model.Driver.
func (d *Driver) Write(ctx context.Context, native interface{}, buf []byte) (int, error) {
	f, err := asFile(native)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(buf)
	if err != nil {
		return n, ecode.New(ecode.CodeWriteFail, "mounted filesystem write failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).WithCause(err)
	}
	return n, nil
}

// Lseek implements model.Driver.
func (d *Driver) Lseek(ctx context.Context, native interface{}, offset int64, whence int) (int64, error) {
	f, err := asFile(native)
	if err != nil {
		return 0, err
	}
	off, err := f.Seek(offset, whence)
	if err != nil {
		return 0, ecode.New(ecode.CodeSeekFail, "mounted filesystem seek failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).WithCause(err)
	}
	return off, nil
}

// Unlink implements model.Driver.
func (d *Driver) Unlink(ctx context.Context, physPath string) error {
	if err := os.Remove(physPath); err != nil {
		return ecode.New(ecode.CodeUnlinkFail, "mounted filesystem unlink failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).
			WithDetail("path", physPath).WithCause(err)
	}
	return nil
}

// Stat implements model.Driver.
func (d *Driver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	info, err := os.Stat(physPath)
	if err != nil {
		return model.FileStat{}, ecode.New(ecode.CodeBadPath, "mounted filesystem stat failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).
			WithDetail("path", physPath).WithCause(err)
	}
	return model.FileStat{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Enumerate lists the immediate children of dirPhysPath, mirroring
// the shape model.BundleDriver.Enumerate returns so the collection
// cursor (C10) can walk a MOUNTED_FS special collection the same way
// it walks a bundle's member index.
func (d *Driver) Enumerate(ctx context.Context, dirPhysPath string) ([]model.BundleEntry, error) {
	entries, err := os.ReadDir(dirPhysPath)
	if err != nil {
		return nil, ecode.New(ecode.CodeBadPath, "mounted filesystem directory read failed").
			WithComponent("drivers/mountedfs").WithDriverKind(string(model.KindMountedFS)).
			WithDetail("path", dirPhysPath).WithCause(err)
	}

	out := make([]model.BundleEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, ecode.New(ecode.CodeBadPath, "mounted filesystem entry stat failed").
				WithComponent("drivers/mountedfs").WithDetail("entry", e.Name()).WithCause(err)
		}
		out = append(out, model.BundleEntry{
			RelativePath: filepath.Join(filepath.Base(dirPhysPath), e.Name()),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        e.IsDir(),
		})
	}
	return out, nil
}

func asFile(native interface{}) (*os.File, error) {
	f, ok := native.(*os.File)
	if !ok {
		return nil, ecode.New(ecode.CodeInvariantViolated, "mountedfs driver received a foreign native handle").
			WithComponent("drivers/mountedfs")
	}
	return f, nil
}
