// Package bundle implements the TAR_BUNDLE and HAAW_BUNDLE resource
// driver kinds (spec §4.3, C3): a tar archive stored on a backing
// resource, staged to a local cache path before any member can be
// opened for read or write, and synced back on close of the staging
// session.
//
// HAAW_BUNDLE and TAR_BUNDLE differ only in the archive dialect the
// original system wraps them around; both are plain POSIX tar here,
// so a single implementation serves both kinds (selected at
// construction time).
package bundle

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Driver implements model.BundleDriver over a local tar file. Members
// are staged out to individual cache-path files before they can be
// read or written; Close on a member handle only closes the staged
// file, and the bundle's SyncFromCache call is what writes changes
// back into the archive.
type Driver struct {
	kind model.DriverKind
}

// New constructs a Driver for kind, which must be KindTarBundle or
// KindHAAWBundle.
func New(kind model.DriverKind) (*Driver, error) {
	if kind != model.KindTarBundle && kind != model.KindHAAWBundle {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "bundle driver only supports TAR_BUNDLE and HAAW_BUNDLE").
			WithComponent("drivers/bundle").WithDriverKind(string(kind))
	}
	return &Driver{kind: kind}, nil
}

// Kind implements model.Driver.
func (d *Driver) Kind() model.DriverKind { return d.kind }

// Open implements model.Driver by opening physPath directly: callers
// are expected to have staged the member out via StageToCache first
// and to pass the staged cache path here, matching how
// internal/ioengine drives compound and bundle resources.
func (d *Driver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	f, err := os.OpenFile(physPath, flags, os.FileMode(mode))
	if err != nil {
		return nil, ecode.New(ecode.CodeOpenFail, "bundle member open failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).
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
		return n, ecode.New(ecode.CodeReadFail, "bundle member read failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
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
		return n, ecode.New(ecode.CodeWriteFail, "bundle member write failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
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
		return 0, ecode.New(ecode.CodeSeekFail, "bundle member seek failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
	}
	return off, nil
}

// Unlink implements model.Driver by removing the staged cache file;
// the archive member itself is dropped on the next SyncFromCache.
func (d *Driver) Unlink(ctx context.Context, physPath string) error {
	if err := os.Remove(physPath); err != nil {
		return ecode.New(ecode.CodeUnlinkFail, "bundle member unlink failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).
			WithDetail("path", physPath).WithCause(err)
	}
	return nil
}

// Stat implements model.Driver against the staged cache file.
func (d *Driver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	info, err := os.Stat(physPath)
	if err != nil {
		return model.FileStat{}, ecode.New(ecode.CodeBadPath, "bundle member stat failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).
			WithDetail("path", physPath).WithCause(err)
	}
	return model.FileStat{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// StageToCache implements model.BundleDriver: it extracts every
// member of the tar at bundlePhysPath into cachePhysPath, preserving
// relative paths.
func (d *Driver) StageToCache(ctx context.Context, bundlePhysPath, cachePhysPath string) error {
	f, err := os.Open(bundlePhysPath)
	if err != nil {
		return ecode.New(ecode.CodeStageFail, "bundle open for staging failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).
			WithDetail("bundle", bundlePhysPath).WithCause(err)
	}
	defer f.Close()

	if err := os.MkdirAll(cachePhysPath, 0o755); err != nil {
		return ecode.New(ecode.CodeStageFail, "cache directory creation failed").
			WithComponent("drivers/bundle").WithDetail("cache", cachePhysPath).WithCause(err)
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ecode.New(ecode.CodeStageFail, "bundle tar read failed").
				WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
		}

		dest := filepath.Join(cachePhysPath, hdr.Name)
		if hdr.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return ecode.New(ecode.CodeStageFail, "bundle member directory creation failed").
					WithComponent("drivers/bundle").WithDetail("member", hdr.Name).WithCause(err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return ecode.New(ecode.CodeStageFail, "bundle member parent creation failed").
				WithComponent("drivers/bundle").WithDetail("member", hdr.Name).WithCause(err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return ecode.New(ecode.CodeStageFail, "bundle member extract failed").
				WithComponent("drivers/bundle").WithDetail("member", hdr.Name).WithCause(err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return ecode.New(ecode.CodeStageFail, "bundle member copy failed").
				WithComponent("drivers/bundle").WithDetail("member", hdr.Name).WithCause(err)
		}
		out.Close()
	}
	return nil
}

// SyncFromCache implements model.BundleDriver: it walks cachePhysPath
// and rewrites bundlePhysPath as a fresh tar containing every file
// found there. The archive is rebuilt atomically via a temp file plus
// rename, matching the "close-time propagation" contract the rest of
// the grid uses for L1 closes.
func (d *Driver) SyncFromCache(ctx context.Context, cachePhysPath, bundlePhysPath string) error {
	tmp := bundlePhysPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return ecode.New(ecode.CodeSyncFail, "bundle rewrite temp file failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
	}

	tw := tar.NewWriter(out)
	walkErr := filepath.Walk(cachePhysPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cachePhysPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if walkErr != nil {
		tw.Close()
		out.Close()
		os.Remove(tmp)
		return ecode.New(ecode.CodeSyncFail, "bundle rewrite failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(walkErr)
	}
	if err := tw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return ecode.New(ecode.CodeSyncFail, "bundle tar finalize failed").
			WithComponent("drivers/bundle").WithCause(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return ecode.New(ecode.CodeSyncFail, "bundle temp file close failed").
			WithComponent("drivers/bundle").WithCause(err)
	}
	if err := os.Rename(tmp, bundlePhysPath); err != nil {
		return ecode.New(ecode.CodeSyncFail, "bundle rename failed").
			WithComponent("drivers/bundle").WithCause(err)
	}
	return nil
}

// Enumerate implements model.BundleDriver by listing the archive's
// members without extracting them, for collection-cursor descent
// (C10).
func (d *Driver) Enumerate(ctx context.Context, bundlePhysPath string) ([]model.BundleEntry, error) {
	f, err := os.Open(bundlePhysPath)
	if err != nil {
		return nil, ecode.New(ecode.CodeBadPath, "bundle open for enumeration failed").
			WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).
			WithDetail("bundle", bundlePhysPath).WithCause(err)
	}
	defer f.Close()

	var entries []model.BundleEntry
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ecode.New(ecode.CodeReadFail, "bundle enumeration read failed").
				WithComponent("drivers/bundle").WithDriverKind(string(d.kind)).WithCause(err)
		}
		entries = append(entries, model.BundleEntry{
			RelativePath: hdr.Name,
			Size:         hdr.Size,
			ModTime:      hdr.ModTime,
			IsDir:        hdr.FileInfo().IsDir(),
		})
	}
	return entries, nil
}

func asFile(native interface{}) (*os.File, error) {
	f, ok := native.(*os.File)
	if !ok {
		return nil, ecode.New(ecode.CodeInvariantViolated, "bundle driver received a foreign native handle").
			WithComponent("drivers/bundle")
	}
	return f, nil
}
