// Package posix implements the UNIX resource driver kind (spec §4.3,
// C3): a vault-rooted ordinary filesystem tree accessed with stdlib
// os.File.
package posix

import (
	"context"
	"io"
	"os"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Driver implements model.Driver against the local filesystem.
type Driver struct{}

// New constructs a Driver. UNIX resources have no client-level state;
// each call opens the path it's given directly.
func New() *Driver { return &Driver{} }

// Kind implements model.Driver.
func (d *Driver) Kind() model.DriverKind { return model.KindUnix }

// Open implements model.Driver.
func (d *Driver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	f, err := os.OpenFile(physPath, flags, os.FileMode(mode))
	if err != nil {
		return nil, ecode.New(ecode.CodeOpenFail, "open failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).
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
		return n, ecode.New(ecode.CodeReadFail, "read failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).WithCause(err)
	}
	if err == io.EOF {
		return n, nil
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
		return n, ecode.New(ecode.CodeWriteFail, "write failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).WithCause(err)
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
		return 0, ecode.New(ecode.CodeSeekFail, "seek failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).WithCause(err)
	}
	return off, nil
}

// Unlink implements model.Driver.
func (d *Driver) Unlink(ctx context.Context, physPath string) error {
	if err := os.Remove(physPath); err != nil {
		return ecode.New(ecode.CodeUnlinkFail, "unlink failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).
			WithDetail("path", physPath).WithCause(err)
	}
	return nil
}

// Stat implements model.Driver.
func (d *Driver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	info, err := os.Stat(physPath)
	if err != nil {
		return model.FileStat{}, ecode.New(ecode.CodeBadPath, "stat failed").
			WithComponent("drivers/posix").WithDriverKind(string(model.KindUnix)).
			WithDetail("path", physPath).WithCause(err)
	}
	return model.FileStat{Size: info.Size(), ModTime: info.ModTime()}, nil
}

func asFile(native interface{}) (*os.File, error) {
	f, ok := native.(*os.File)
	if !ok {
		return nil, ecode.New(ecode.CodeInvariantViolated, "posix driver received a foreign native handle").
			WithComponent("drivers/posix")
	}
	return f, nil
}
