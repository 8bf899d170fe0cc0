// Package ioengine implements the data-object open/read/write/lseek/
// close state machine (spec §4.7, C8): replica selection, ALL-mode
// multi-replica fan-out, FORCE_FLAG truncate collapse, and close-time
// catalog propagation. It is the first component that actually wires
// the registry (C2), descriptor tables (C4/C5), driver dispatch (C3),
// and catalog (C6) together into a working read/write path.
package ioengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gridcore/server/internal/descriptor"
	"github.com/gridcore/server/internal/registry"
	"github.com/gridcore/server/pkg/condbag"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Engine holds the collaborators C8 composes: the resource registry,
// the catalog, one Driver per resource, and the metrics sink.
type Engine struct {
	registry *registry.Registry
	catalog  model.Catalog
	drivers  map[string]model.Driver
	metrics  model.MetricsCollector
}

// NewEngine wires the I/O engine to its collaborators. drivers maps
// resource name to an already-constructed model.Driver (see
// internal/drivers.Build).
func NewEngine(reg *registry.Registry, cat model.Catalog, drivers map[string]model.Driver, metrics model.MetricsCollector) *Engine {
	return &Engine{registry: reg, catalog: cat, drivers: drivers, metrics: metrics}
}

func (e *Engine) driverFor(resourceName string) (model.Driver, error) {
	d, ok := e.drivers[resourceName]
	if !ok {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "no driver registered for resource").
			WithComponent("ioengine").WithDetail("resource", resourceName)
	}
	return d, nil
}

func (e *Engine) record(op string, start time.Time, size int64, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordOperation(op, time.Since(start), size, err == nil)
}

// physicalPath applies the default vault layout
// <vault>/<zone>/home/<owner>/<relative-path>, or FILE_PATH if the
// caller supplied an override (spec §6).
func physicalPath(res model.Resource, logicalPath string, bag *condbag.Bag) string {
	if bag != nil {
		if fp, ok := bag.Lookup(condbag.FilePath); ok && fp != "" {
			return fp
		}
	}
	return filepath.Join(res.VaultPath, strings.TrimPrefix(logicalPath, "/"))
}

// Open resolves path in the catalog and returns an allocated,
// in-use L1 descriptor index. flags follows os.O_* conventions.
func (e *Engine) Open(ctx context.Context, sess *descriptor.Session, owner, logicalPath string, flags int, mode uint32, bag *condbag.Bag) (l1Index int, err error) {
	start := time.Now()
	defer func() { e.record("open", start, 0, err) }()

	if bag == nil {
		bag = condbag.New()
	}

	info, resolveErr := e.catalog.Resolve(ctx, logicalPath)
	if resolveErr != nil && !ecode.IsCode(resolveErr, ecode.CodeCatNoRowsFound) {
		return -1, resolveErr
	}
	notFound := resolveErr != nil

	if notFound {
		if flags&os.O_CREATE == 0 {
			return -1, ecode.New(ecode.CodeCatNoRowsFound, "data object not found").
				WithComponent("ioengine").WithDetail("path", logicalPath)
		}
		return e.openCreate(ctx, sess, owner, logicalPath, flags, mode, bag)
	}

	// FORCE_FLAG on create collapses an existing object: truncate the
	// primary replica, mark siblings STALE-on-close (spec §4.7).
	if flags&os.O_CREATE != 0 && bag.Has(condbag.ForceFlag) {
		return e.openForceOverwrite(ctx, sess, info, flags, bag)
	}

	return e.openExisting(ctx, sess, info, flags, bag)
}

func (e *Engine) openCreate(ctx context.Context, sess *descriptor.Session, owner, logicalPath string, flags int, mode uint32, bag *condbag.Bag) (int, error) {
	res, err := e.registry.PickDestination(bag, owner)
	if err != nil {
		return -1, err
	}

	objID, err := e.catalog.CreateObject(ctx, model.DataObject{LogicalPath: logicalPath, Owner: owner})
	if err != nil {
		return -1, err
	}

	replica := model.Replica{ObjectID: objID, ReplicaNumber: 0, ResourceName: res.Name, ResourceGroup: res.Group,
		PhysicalPath: physicalPath(res, logicalPath, bag), Status: model.Stale, WriteFlag: true}
	if err := e.catalog.RegisterReplica(ctx, objID, replica); err != nil {
		return -1, err
	}

	l1, l3, err := e.allocateAndOpen(ctx, sess, res, replica, flags|os.O_CREATE, mode)
	if err != nil {
		_ = e.catalog.UnregisterReplica(ctx, objID, replica.ReplicaNumber)
		return -1, err
	}

	info := &model.DataObjectInfo{Object: model.DataObject{ObjectID: objID, LogicalPath: logicalPath, Owner: owner}, Replicas: []model.Replica{replica}}
	sess.L1.Mutate(l1, func(e *model.L1Entry) {
		e.OpType = model.OpPut
		e.OpenFlags = flags
		e.Obj = info
		e.ReplicaIdx = 0
		e.L3Index = l3
		e.StatusOnClose = model.Good
	})
	return l1, nil
}

func (e *Engine) openForceOverwrite(ctx context.Context, sess *descriptor.Session, info *model.DataObjectInfo, flags int, bag *condbag.Bag) (int, error) {
	replica, ok := selectReplica(info, bag)
	if !ok {
		// No GOOD replica to collapse: act as plain create on the
		// first replica row (spec §8 boundary: "FORCE_FLAG on a
		// non-existent object acts as plain create").
		if len(info.Replicas) == 0 {
			return -1, ecode.New(ecode.CodeCatNoRowsFound, "no replica to overwrite").WithComponent("ioengine")
		}
		replica = info.Replicas[0]
	}

	res, err := e.registry.ResolveByName(replica.ResourceName)
	if err != nil {
		return -1, err
	}

	l1, l3, err := e.allocateAndOpen(ctx, sess, res, replica, flags|os.O_TRUNC, 0)
	if err != nil {
		return -1, err
	}

	// Siblings that fail to open are marked STALE by openAllSiblings;
	// the ones that open are closed STALE by Close.
	siblings, _ := e.openAllSiblings(ctx, sess, info, replica, flags|os.O_WRONLY, bag)
	for _, sibL1 := range siblings {
		sess.L1.Mutate(sibL1, func(ent *model.L1Entry) { ent.StatusOnClose = model.Stale })
	}

	sess.L1.Mutate(l1, func(ent *model.L1Entry) {
		ent.OpType = model.OpPut
		ent.OpenFlags = flags
		ent.Obj = info
		ent.ReplicaIdx = replicaIndex(info, replica.ReplicaNumber)
		ent.L3Index = l3
		ent.StatusOnClose = model.Good
		ent.SiblingL1 = siblings
		ent.SiblingFailed = make([]bool, len(siblings))
	})
	return l1, nil
}

func (e *Engine) openExisting(ctx context.Context, sess *descriptor.Session, info *model.DataObjectInfo, flags int, bag *condbag.Bag) (int, error) {
	replica, ok := selectReplica(info, bag)
	if !ok {
		return -1, ecode.New(ecode.CodeCatNoRowsFound, "no matching GOOD replica").
			WithComponent("ioengine").WithDetail("path", info.Object.LogicalPath)
	}

	res, err := e.registry.ResolveByName(replica.ResourceName)
	if err != nil {
		return -1, err
	}

	writeIntent := flags&(os.O_WRONLY|os.O_RDWR) != 0

	l1, l3, err := e.allocateAndOpen(ctx, sess, res, replica, flags, 0)
	if err != nil {
		return -1, err
	}

	var siblings []int
	var siblingOpenFailures int
	if writeIntent && bag.Has(condbag.All) {
		siblings, siblingOpenFailures = e.openAllSiblings(ctx, sess, info, replica, flags, bag)
	}

	sess.L1.Mutate(l1, func(ent *model.L1Entry) {
		if writeIntent {
			ent.OpType = model.OpPut
		} else {
			ent.OpType = model.OpGet
		}
		ent.OpenFlags = flags
		ent.Obj = info
		ent.ReplicaIdx = replicaIndex(info, replica.ReplicaNumber)
		ent.L3Index = l3
		ent.StatusOnClose = model.Good
		ent.SiblingL1 = siblings
		ent.SiblingFailed = make([]bool, len(siblings))
		ent.SiblingOpenFailures = siblingOpenFailures
	})
	return l1, nil
}

// openAllSiblings opens one fan-out L1/L3 pair per GOOD sibling
// replica (excluding primary), chaining them into the returned slice
// of L1 indices (spec §4.7 ALL mode). A sibling whose resource can't
// be resolved or whose driver open fails never gets an L1/L3 pair, so
// it can't ride the normal close-time STALE path alongside the
// siblings that opened fine; it is marked STALE in the catalog right
// away instead, and counted so Close can still report the open as a
// partial success (spec §8 S4). ALL-mode only fails the whole
// operation if the primary itself fails.
func (e *Engine) openAllSiblings(ctx context.Context, sess *descriptor.Session, info *model.DataObjectInfo, primary model.Replica, flags int, bag *condbag.Bag) (siblingL1 []int, openFailures int) {
	for _, r := range info.Replicas {
		if r.ReplicaNumber == primary.ReplicaNumber || r.Status != model.Good {
			continue
		}
		res, rerr := e.registry.ResolveByName(r.ResourceName)
		if rerr != nil {
			e.markReplicaStale(ctx, info, r.ReplicaNumber)
			openFailures++
			continue
		}
		l1, l3, oerr := e.allocateAndOpen(ctx, sess, res, r, flags, 0)
		if oerr != nil {
			e.markReplicaStale(ctx, info, r.ReplicaNumber)
			openFailures++
			continue
		}
		sess.L1.Mutate(l1, func(ent *model.L1Entry) {
			ent.OpType = model.OpPut
			ent.OpenFlags = flags
			ent.Obj = info
			ent.ReplicaIdx = replicaIndex(info, r.ReplicaNumber)
			ent.L3Index = l3
			ent.StatusOnClose = model.Good
		})
		siblingL1 = append(siblingL1, l1)
	}
	return siblingL1, openFailures
}

// markReplicaStale marks a replica STALE immediately, for failures
// that happen before any L1/L3 descriptor exists for it and so would
// otherwise never reach the catalog.
func (e *Engine) markReplicaStale(ctx context.Context, info *model.DataObjectInfo, replicaNumber int) {
	stale := model.Stale
	_ = e.catalog.UpdateReplica(ctx, info.Object.ObjectID, replicaNumber, model.ReplicaUpdate{Status: &stale})
}

// allocateAndOpen allocates one L1 and one L3 slot and opens the
// physical file through the resource's driver.
func (e *Engine) allocateAndOpen(ctx context.Context, sess *descriptor.Session, res model.Resource, replica model.Replica, flags int, mode uint32) (l1, l3 int, err error) {
	drv, err := e.driverFor(res.Name)
	if err != nil {
		return -1, -1, err
	}

	l1, err = sess.L1.Allocate()
	if err != nil {
		return -1, -1, err
	}
	l3, err = sess.L3.Allocate()
	if err != nil {
		sess.L1.Free(l1)
		return -1, -1, err
	}

	native, err := drv.Open(ctx, replica.PhysicalPath, flags, mode)
	if err != nil {
		sess.L1.Free(l1)
		sess.L3.Free(l3)
		if e.metrics != nil {
			e.metrics.RecordDriverError(res.Kind, "open")
		}
		return -1, -1, ecode.New(ecode.CodeOpenFail, "driver open failed").
			WithCause(err).WithComponent("ioengine").WithDriverKind(string(res.Kind)).WithDetail("path", replica.PhysicalPath)
	}

	sess.L3.Set(l3, model.L3Entry{InUse: true, ResourceID: res.Name, DriverKind: res.Kind, Native: native, Flags: flags})
	return l1, l3, nil
}

// selectReplica applies §4.7's tie-break rules: REPL_NUM if given,
// else the first GOOD replica matching RESC_NAME if given, else the
// lowest-numbered GOOD replica.
func selectReplica(info *model.DataObjectInfo, bag *condbag.Bag) (model.Replica, bool) {
	if v, ok := bag.Lookup(condbag.ReplNum); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return info.ReplicaByNumber(n)
		}
	}
	rescName, wantResc := bag.Lookup(condbag.RescName)

	var best model.Replica
	found := false
	for _, r := range info.Replicas {
		if r.Status != model.Good {
			continue
		}
		if wantResc && r.ResourceName != rescName {
			continue
		}
		if !found || r.ReplicaNumber < best.ReplicaNumber {
			best = r
			found = true
		}
	}
	return best, found
}

func replicaIndex(info *model.DataObjectInfo, replicaNumber int) int {
	for i, r := range info.Replicas {
		if r.ReplicaNumber == replicaNumber {
			return i
		}
	}
	return -1
}

// Read dispatches to C3.read on the owned L3. No replica failover on
// a mid-stream read error (spec §4.7: "consistent offset semantics").
func (e *Engine) Read(ctx context.Context, sess *descriptor.Session, l1Index int, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { e.record("read", start, int64(n), err) }()

	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return 0, err
	}
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return 0, err
	}
	drv, err := e.driverFor(l3.ResourceID)
	if err != nil {
		return 0, err
	}
	n, err = drv.Read(ctx, l3.Native, buf)
	if err != nil && err != io.EOF {
		if e.metrics != nil {
			e.metrics.RecordDriverError(l3.DriverKind, "read")
		}
		return n, ecode.New(ecode.CodeReadFail, "driver read failed").WithCause(err).
			WithComponent("ioengine").WithDriverKind(string(l3.DriverKind))
	}
	return n, err
}

// Write dispatches to C3.write and fans out to every ALL-mode sibling
// (spec §4.7). The operation fails only if the primary write fails;
// sibling failures mark that sibling STALE-on-close and continue.
func (e *Engine) Write(ctx context.Context, sess *descriptor.Session, l1Index int, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { e.record("write", start, int64(n), err) }()

	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return 0, err
	}
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return 0, err
	}
	drv, err := e.driverFor(l3.ResourceID)
	if err != nil {
		return 0, err
	}

	n, err = drv.Write(ctx, l3.Native, buf)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordDriverError(l3.DriverKind, "write")
		}
		return n, ecode.New(ecode.CodeWriteFail, "driver write failed").WithCause(err).
			WithComponent("ioengine").WithDriverKind(string(l3.DriverKind))
	}

	sess.L1.Mutate(l1Index, func(e *model.L1Entry) { e.BytesWritten += int64(n) })

	for i, sibL1 := range entry.SiblingL1 {
		if i < len(entry.SiblingFailed) && entry.SiblingFailed[i] {
			continue
		}
		if werr := e.writeSibling(ctx, sess, sibL1, buf); werr != nil {
			sess.L1.Mutate(l1Index, func(e *model.L1Entry) {
				if i < len(e.SiblingFailed) {
					e.SiblingFailed[i] = true
				}
			})
		}
	}

	return n, nil
}

func (e *Engine) writeSibling(ctx context.Context, sess *descriptor.Session, l1Index int, buf []byte) error {
	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return err
	}
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return err
	}
	drv, err := e.driverFor(l3.ResourceID)
	if err != nil {
		return err
	}
	n, err := drv.Write(ctx, l3.Native, buf)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordDriverError(l3.DriverKind, "write")
		}
		return err
	}
	sess.L1.Mutate(l1Index, func(e *model.L1Entry) { e.BytesWritten += int64(n) })
	return nil
}

// Lseek dispatches to C3.lseek and, for ALL-mode fan-out, seeks every
// non-failed sibling to the same resulting absolute offset.
// SEEK_CUR detects signed 64-bit overflow (spec §8 boundary case).
func (e *Engine) Lseek(ctx context.Context, sess *descriptor.Session, l1Index int, offset int64, whence int) (newOffset int64, err error) {
	start := time.Now()
	defer func() { e.record("lseek", start, 0, err) }()

	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return -1, err
	}
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return -1, err
	}

	if whence == io.SeekCurrent {
		if offset > 0 && l3.Offset > math.MaxInt64-offset {
			return -1, ecode.New(ecode.CodeOffsetOverflow, "lseek offset overflow").WithComponent("ioengine")
		}
	}

	drv, err := e.driverFor(l3.ResourceID)
	if err != nil {
		return -1, err
	}
	newOffset, err = drv.Lseek(ctx, l3.Native, offset, whence)
	if err != nil {
		return -1, ecode.New(ecode.CodeSeekFail, "driver lseek failed").WithCause(err).
			WithComponent("ioengine").WithDriverKind(string(l3.DriverKind))
	}
	sess.L3.Mutate(entry.L3Index, func(e *model.L3Entry) { e.Offset = newOffset })

	for i, sibL1 := range entry.SiblingL1 {
		if i < len(entry.SiblingFailed) && entry.SiblingFailed[i] {
			continue
		}
		e.lseekSibling(ctx, sess, sibL1, newOffset)
	}

	return newOffset, nil
}

func (e *Engine) lseekSibling(ctx context.Context, sess *descriptor.Session, l1Index int, absoluteOffset int64) {
	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return
	}
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return
	}
	drv, err := e.driverFor(l3.ResourceID)
	if err != nil {
		return
	}
	if newOff, err := drv.Lseek(ctx, l3.Native, absoluteOffset, io.SeekStart); err == nil {
		sess.L3.Mutate(entry.L3Index, func(e *model.L3Entry) { e.Offset = newOff })
	}
}

// Close closes every L3 owned by this L1 (primary plus ALL-mode
// siblings), propagates successful writes to the catalog with
// status=GOOD, marks failed ones STALE, and releases the descriptors
// (spec §4.7). If the primary closed cleanly but one or more ALL-mode
// siblings ended up STALE (open failure or write failure), Close still
// frees every descriptor but returns a non-retryable CodeReplicaDegraded
// error so the caller can tell a degraded close from a clean one
// (spec §8 S4, "close returns partial-success").
func (e *Engine) Close(ctx context.Context, sess *descriptor.Session, l1Index int, bag *condbag.Bag) (err error) {
	start := time.Now()
	defer func() { e.record("close", start, 0, err) }()

	if bag == nil {
		bag = condbag.New()
	}

	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return err
	}

	e.closeAndCommit(ctx, sess, l1Index, entry, bag)

	// A create whose only replica ends up non-GOOD is left for garbage
	// collection rather than deleted inline (spec §4.7/§7) — no
	// explicit action needed here beyond not marking it GOOD above.
	staleSiblings := entry.SiblingOpenFailures
	for i, sibL1 := range entry.SiblingL1 {
		sibEntry, gerr := sess.L1.Get(sibL1)
		if gerr != nil {
			continue
		}
		if i < len(entry.SiblingFailed) && entry.SiblingFailed[i] {
			sibEntry.StatusOnClose = model.Stale
			staleSiblings++
		}
		e.closeAndCommit(ctx, sess, sibL1, sibEntry, bag)
	}

	sess.L1.Free(l1Index)
	for _, sibL1 := range entry.SiblingL1 {
		sess.L3.Free(mustL3Index(sess, sibL1))
		sess.L1.Free(sibL1)
	}
	sess.L3.Free(entry.L3Index)

	l1n, l3n := sess.OpenCount()
	if e.metrics != nil {
		e.metrics.SetOpenDescriptors(l1n, l3n)
	}

	if staleSiblings > 0 {
		return ecode.New(ecode.CodeReplicaDegraded, "close succeeded but some ALL-mode sibling replicas are stale").
			WithComponent("ioengine").WithDetail("stale_siblings", staleSiblings)
	}
	return nil
}

func mustL3Index(sess *descriptor.Session, l1Index int) int {
	entry, err := sess.L1.Get(l1Index)
	if err != nil {
		return -1
	}
	return entry.L3Index
}

func (e *Engine) closeAndCommit(ctx context.Context, sess *descriptor.Session, l1Index int, entry model.L1Entry, bag *condbag.Bag) {
	l3, err := sess.L3.Get(entry.L3Index)
	if err != nil {
		return
	}
	drv, derr := e.driverFor(l3.ResourceID)

	wantChecksum := derr == nil && entry.StatusOnClose == model.Good && entry.Obj != nil &&
		entry.ReplicaIdx >= 0 && entry.ReplicaIdx < len(entry.Obj.Replicas) &&
		entry.OpType.Has(model.OpPut) && (bag.Has(condbag.VerifyChksum) || bag.Has(condbag.ForceChksum))
	var checksum string
	if wantChecksum {
		if sum, serr := checksumNative(ctx, drv, entry.Obj.Replicas[entry.ReplicaIdx].PhysicalPath); serr == nil {
			checksum = sum
		}
	}

	if derr == nil {
		if cerr := drv.Close(ctx, l3.Native); cerr != nil && e.metrics != nil {
			e.metrics.RecordDriverError(l3.DriverKind, "close")
		}
	}

	if entry.Obj == nil || !entry.OpType.Has(model.OpPut) {
		return
	}
	if entry.ReplicaIdx < 0 || entry.ReplicaIdx >= len(entry.Obj.Replicas) {
		return
	}
	replica := entry.Obj.Replicas[entry.ReplicaIdx]

	if entry.StatusOnClose != model.Good {
		stale := model.Stale
		_ = e.catalog.UpdateReplica(ctx, entry.Obj.Object.ObjectID, replica.ReplicaNumber, model.ReplicaUpdate{Status: &stale})
		return
	}

	// The replica's true resulting size is whatever is now on disk,
	// not the bytes written through this handle: a write without
	// O_TRUNC to an offset inside an existing, longer file leaves the
	// file longer than BytesWritten (spec §8 S3).
	size := entry.BytesWritten
	if derr == nil {
		if st, serr := drv.Stat(ctx, replica.PhysicalPath); serr == nil {
			size = st.Size
		} else if e.metrics != nil {
			e.metrics.RecordDriverError(l3.DriverKind, "stat")
		}
	}
	upd := model.ReplicaUpdate{Size: &size, Status: statusPtr(model.Good)}
	if checksum != "" {
		upd.Checksum = &checksum
	}
	_ = e.catalog.UpdateReplica(ctx, entry.Obj.Object.ObjectID, replica.ReplicaNumber, upd)
}

func statusPtr(s model.ReplicaStatus) *model.ReplicaStatus { return &s }

// checksumNative reopens the physical file read-only and hashes it
// from the start; the caller's own handle is neither read nor moved.
func checksumNative(ctx context.Context, drv model.Driver, physPath string) (string, error) {
	native, err := drv.Open(ctx, physPath, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer drv.Close(ctx, native)
	h := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := drv.Read(ctx, native, buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
