// Package replication implements the replication engine (spec §4.8,
// C9): source resolution with compound-archive and bundle staging,
// destination selection, transfer through the C8 I/O engine, and
// ALL-mode aggregate/partial status, serialized per object through
// the catalog's advisory lock.
package replication

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gridcore/server/internal/descriptor"
	"github.com/gridcore/server/internal/drivers"
	"github.com/gridcore/server/internal/ioengine"
	golog "github.com/gridcore/server/internal/log"
	"github.com/gridcore/server/internal/registry"
	"github.com/gridcore/server/pkg/condbag"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Request names a replication operation the way
// original_source/iRODS/lib/api/include/dataObjRepl.h's option set
// does, kept as distinct fields rather than collapsed so a CLI can
// expose them as independent flags (SPEC_FULL.md §4).
type Request struct {
	LogicalPath   string
	ReplicaNumber int // -1 means unspecified
	SourceResc    string
	DestResc      string
	DestRescGroup string
	BackupResc    string
	All           bool
}

// Outcome reports how many of the targeted replicas succeeded, per
// spec §4.8 step 7's "aggregate success or partial status".
type Outcome struct {
	Attempted  int
	Replicated int
	FirstError error
}

// Engine implements C9 on top of the already-built registry, catalog,
// and C8 I/O engine. Ordinary transfer reuses the I/O engine so a
// replicated replica goes through the same open/read/write/close
// lifecycle (and close-time catalog propagation) as any other write;
// staging steps reach the underlying drivers directly since they use
// the BundleDriver/CompoundDriver capability interfaces C8 has no
// reason to expose.
type Engine struct {
	registry *registry.Registry
	catalog  model.Catalog
	io       *ioengine.Engine
	drivers  map[string]model.Driver
	scratch  string
	metrics  model.MetricsCollector
}

// NewEngine wires the replication engine. scratch is the filesystem
// directory compound/bundle staging writes scratch cache replicas
// into (spec §4.8 steps 2-3, SPEC_FULL.md §1.1's scratch directory).
func NewEngine(reg *registry.Registry, cat model.Catalog, io *ioengine.Engine, driverMap map[string]model.Driver, scratch string, metrics model.MetricsCollector) *Engine {
	return &Engine{registry: reg, catalog: cat, io: io, drivers: driverMap, scratch: scratch, metrics: metrics}
}

func (e *Engine) driverFor(resourceName string) (model.Driver, error) {
	d, ok := e.drivers[resourceName]
	if !ok {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "no driver registered for resource").
			WithComponent("replication").WithDetail("resource", resourceName)
	}
	return d, nil
}

// Replicate resolves req.LogicalPath's source replica(s), stages
// through compound/bundle resources where needed, and copies each onto
// its destination, serialized through the catalog's per-object advisory
// lock (spec §4.8).
func (e *Engine) Replicate(ctx context.Context, sess *descriptor.Session, owner string, req Request) (*Outcome, error) {
	start := time.Now()

	info, err := e.catalog.Resolve(ctx, req.LogicalPath)
	if err != nil {
		return nil, err
	}

	unlock, err := e.catalog.Lock(ctx, info.Object.ObjectID)
	if err != nil {
		return nil, ecode.New(ecode.CodeLockContention, "replication lock contention").
			WithCause(err).WithComponent("replication").WithDetail("object_id", info.Object.ObjectID)
	}
	defer unlock()

	// Re-resolve under the lock: another session may have changed
	// replica state between the first Resolve and acquiring the lock.
	info, err = e.catalog.Resolve(ctx, req.LogicalPath)
	if err != nil {
		return nil, err
	}

	var sources []model.Replica
	if req.All {
		sources = info.GoodReplicas()
		if len(sources) == 0 {
			return nil, ecode.New(ecode.CodeCatNoRowsFound, "no GOOD replica to replicate").
				WithComponent("replication").WithDetail("path", req.LogicalPath)
		}
	} else {
		src, serr := e.selectSource(info, req)
		if serr != nil {
			return nil, serr
		}
		sources = []model.Replica{src}
	}

	out := &Outcome{}
	for _, src := range sources {
		out.Attempted++
		if rerr := e.replicateOne(ctx, sess, owner, info, src, req); rerr != nil {
			if out.FirstError == nil {
				out.FirstError = rerr
			}
			continue
		}
		out.Replicated++
	}

	if e.metrics != nil {
		e.metrics.RecordOperation("replicate", time.Since(start), 0, out.FirstError == nil)
	}
	if !req.All && out.FirstError != nil {
		return out, out.FirstError
	}
	return out, nil
}

// selectSource applies spec §4.8 step 1's ordering: REPL_NUM if given,
// else prefer a GOOD replica on a non-ARCHIVE resource, else fall back
// to an ARCHIVE-resident GOOD replica (which replicateOne will stage).
func (e *Engine) selectSource(info *model.DataObjectInfo, req Request) (model.Replica, error) {
	if req.ReplicaNumber >= 0 {
		r, ok := info.ReplicaByNumber(req.ReplicaNumber)
		if !ok {
			return model.Replica{}, ecode.New(ecode.CodeCatNoRowsFound, "replica number not found").
				WithComponent("replication").WithDetail("replica_number", req.ReplicaNumber)
		}
		return r, nil
	}

	var archiveCandidate model.Replica
	haveArchive := false
	for _, r := range info.Replicas {
		if r.Status != model.Good {
			continue
		}
		if req.SourceResc != "" && r.ResourceName != req.SourceResc {
			continue
		}
		res, err := e.registry.ResolveByName(r.ResourceName)
		if err != nil {
			continue
		}
		if res.Class != model.ClassArchive {
			return r, nil
		}
		if !haveArchive {
			archiveCandidate, haveArchive = r, true
		}
	}
	if haveArchive {
		return archiveCandidate, nil
	}
	return model.Replica{}, ecode.New(ecode.CodeCatNoRowsFound, "no GOOD source replica").
		WithComponent("replication").WithDetail("path", info.Object.LogicalPath)
}

// replicateOne carries out spec §4.8 steps 2-6 for a single source
// replica.
func (e *Engine) replicateOne(ctx context.Context, sess *descriptor.Session, owner string, info *model.DataObjectInfo, src model.Replica, req Request) error {
	src, err := e.stageCompoundArchive(ctx, info, src)
	if err != nil {
		return err
	}
	src, direct, err := e.stageBundle(ctx, info, src)
	if err != nil {
		return err
	}

	dest, err := e.pickDestination(info, req, owner)
	if err != nil {
		return err
	}
	if sameResourceReplica(info, dest.Name) {
		return ecode.New(ecode.CodeHierarchyError, "destination resource already holds a replica of this object").
			WithComponent("replication").WithDetail("resource", dest.Name)
	}

	destReplica := model.Replica{
		ObjectID: info.Object.ObjectID, ReplicaNumber: info.NextReplicaNumber(),
		ResourceName: dest.Name, ResourceGroup: dest.Group,
		PhysicalPath: vaultJoin(dest.VaultPath, info.Object.LogicalPath),
		Status:       model.Stale, WriteFlag: true,
	}
	if err := e.catalog.RegisterReplica(ctx, info.Object.ObjectID, destReplica); err != nil {
		return err
	}
	// Recorded immediately (not only on transfer success) so a later
	// source in the same ALL-mode call sees this resource as taken
	// (spec §4.8 step 4's sibling-replica refusal) and step 7's fan-out
	// spreads across distinct destinations instead of colliding.
	info.Replicas = append(info.Replicas, destReplica)

	if err := e.transfer(ctx, sess, owner, info, src, destReplica, direct); err != nil {
		_ = e.catalog.UnregisterReplica(ctx, info.Object.ObjectID, destReplica.ReplicaNumber)
		return err
	}

	golog.WithComponent("replication").Info().
		Str("path", info.Object.LogicalPath).Str("destination", dest.Name).Msg("replica created")
	return nil
}

func sameResourceReplica(info *model.DataObjectInfo, resourceName string) bool {
	for _, r := range info.Replicas {
		if r.ResourceName == resourceName {
			return true
		}
	}
	return false
}

// pickDestination resolves the next replication target. For a
// resource group it skips members that already hold a replica of this
// object, so ALL-mode spreads its sources across distinct destinations
// instead of repeatedly targeting the same member.
func (e *Engine) pickDestination(info *model.DataObjectInfo, req Request, owner string) (model.Resource, error) {
	if req.DestResc != "" {
		return e.registry.ResolveByName(req.DestResc)
	}
	if req.BackupResc != "" {
		return e.registry.ResolveByName(req.BackupResc)
	}
	if req.DestRescGroup != "" {
		var picked model.Resource
		found := false
		_ = e.registry.IterateGroup(req.DestRescGroup, func(r model.Resource) error {
			if found || sameResourceReplica(info, r.Name) {
				return nil
			}
			picked, found = r, true
			return nil
		})
		if found {
			return picked, nil
		}
	}
	return e.registry.PickDestination(condbag.New(), owner)
}

// ioengineReader adapts the C8 engine's Read method to io.Reader so
// transfer can drive both ioengine-backed and direct scratch sources
// through the same copy loop.
type ioengineReader struct {
	eng  *ioengine.Engine
	ctx  context.Context
	sess *descriptor.Session
	l1   int
}

func (r *ioengineReader) Read(p []byte) (int, error) { return r.eng.Read(r.ctx, r.sess, r.l1, p) }

// transfer copies src's bytes onto dest (spec §4.8 steps 4-5), opening
// dest through the C8 I/O engine so the close-time catalog propagation
// runs as usual. The source is opened through the I/O engine by replica
// number when it is a catalog-backed replica, or read straight off the
// filesystem when direct is set (a bundle-staged scratch extraction has
// no replica row of its own, so a by-number lookup would resolve back
// to the archive member's path instead of the staged copy). Checksum is
// preserved from src when the transfer comes out the same size,
// otherwise a fresh checksum is forced at close.
func (e *Engine) transfer(ctx context.Context, sess *descriptor.Session, owner string, info *model.DataObjectInfo, src, dest model.Replica, direct bool) error {
	var srcReader io.Reader
	var closeSrc func()
	if direct {
		f, err := os.Open(src.PhysicalPath)
		if err != nil {
			return ecode.New(ecode.CodeOpenFail, "staged source open failed").
				WithCause(err).WithComponent("replication").WithDetail("path", src.PhysicalPath)
		}
		srcReader = f
		closeSrc = func() { _ = f.Close() }
	} else {
		srcBag := condbag.New()
		srcBag.Add(condbag.ReplNum, strconv.Itoa(src.ReplicaNumber))
		srcL1, err := e.io.Open(ctx, sess, owner, info.Object.LogicalPath, os.O_RDONLY, 0, srcBag)
		if err != nil {
			return err
		}
		srcReader = &ioengineReader{eng: e.io, ctx: ctx, sess: sess, l1: srcL1}
		closeSrc = func() { _ = e.io.Close(ctx, sess, srcL1, nil) }
	}
	defer closeSrc()

	destBag := condbag.New()
	destBag.Add(condbag.ReplNum, strconv.Itoa(dest.ReplicaNumber))
	destL1, err := e.io.Open(ctx, sess, owner, info.Object.LogicalPath, os.O_WRONLY|os.O_CREATE, 0o644, destBag)
	if err != nil {
		return err
	}

	buf := make([]byte, transferChunkSize)
	var written int64
	for {
		n, rerr := srcReader.Read(buf)
		if n > 0 {
			if _, werr := e.io.Write(ctx, sess, destL1, buf[:n]); werr != nil {
				_ = e.io.Close(ctx, sess, destL1, nil)
				return werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = e.io.Close(ctx, sess, destL1, nil)
			return rerr
		}
		if n == 0 {
			break
		}
	}

	closeBag := condbag.New()
	preserveChecksum := src.Checksum != "" && written == src.Size
	if !preserveChecksum {
		closeBag.Add(condbag.ForceChksum, "")
	}
	if err := e.io.Close(ctx, sess, destL1, closeBag); err != nil {
		return err
	}
	if preserveChecksum {
		checksum := src.Checksum
		return e.catalog.UpdateReplica(ctx, info.Object.ObjectID, dest.ReplicaNumber, model.ReplicaUpdate{Checksum: &checksum})
	}
	return nil
}

const transferChunkSize = 256 * 1024

func vaultJoin(vaultPath, logicalPath string) string {
	return filepath.Join(vaultPath, strings.TrimPrefix(logicalPath, "/"))
}

// stageCompoundArchive implements spec §4.8 step 2: if src sits on a
// COMPOUND_ARCHIVE resource and the paired COMPOUND_CACHE resource
// has no GOOD copy yet, stage one and treat it as the source.
func (e *Engine) stageCompoundArchive(ctx context.Context, info *model.DataObjectInfo, src model.Replica) (model.Replica, error) {
	res, err := e.registry.ResolveByName(src.ResourceName)
	if err != nil {
		return src, err
	}
	if res.Kind != model.KindCompoundArch {
		return src, nil
	}

	for _, r := range info.Replicas {
		if r.Status != model.Good {
			continue
		}
		if cr, cerr := e.registry.ResolveByName(r.ResourceName); cerr == nil && cr.Kind == model.KindCompoundCache {
			return r, nil
		}
	}

	cacheRes, ok := e.pairedCacheResource(res)
	if !ok {
		return src, ecode.New(ecode.CodeHierarchyError, "compound archive resource has no paired cache resource").
			WithComponent("replication").WithDetail("resource", res.Name)
	}

	cacheDelegateName, archiveDelegateName := drivers.ParseCompoundVaultPath(cacheRes.VaultPath)
	cacheDelegate, err := e.registry.ResolveByName(cacheDelegateName)
	if err != nil {
		return src, err
	}
	archiveDelegate, err := e.registry.ResolveByName(archiveDelegateName)
	if err != nil {
		return src, err
	}

	drv, err := e.driverFor(cacheRes.Name)
	if err != nil {
		return src, err
	}
	compoundDrv, ok := drv.(model.CompoundDriver)
	if !ok {
		return src, ecode.New(ecode.CodeDriverUnsupported, "compound resource driver does not implement staging").
			WithComponent("replication").WithDetail("resource", cacheRes.Name)
	}

	cachePhysPath := vaultJoin(cacheDelegate.VaultPath, info.Object.LogicalPath)
	archiveRef := model.PhysicalRef{ResourceName: archiveDelegate.Name, PhysicalPath: src.PhysicalPath}
	cacheRef := model.PhysicalRef{ResourceName: cacheDelegate.Name, PhysicalPath: cachePhysPath}

	newNum := info.NextReplicaNumber()
	cacheReplica := model.Replica{
		ObjectID: info.Object.ObjectID, ReplicaNumber: newNum,
		ResourceName: cacheRes.Name, PhysicalPath: cachePhysPath, Status: model.Stale,
	}
	if err := e.catalog.RegisterReplica(ctx, info.Object.ObjectID, cacheReplica); err != nil {
		return src, err
	}

	if err := compoundDrv.Stage(ctx, archiveRef, cacheRef); err != nil {
		_ = e.catalog.UnregisterReplica(ctx, info.Object.ObjectID, newNum)
		return src, ecode.New(ecode.CodeStageFail, "compound archive-to-cache staging failed").
			WithCause(err).WithComponent("replication")
	}

	good := model.Good
	size, statErr := compoundDrv.Stat(ctx, cachePhysPath)
	upd := model.ReplicaUpdate{Status: &good}
	if statErr == nil {
		upd.Size = &size.Size
		cacheReplica.Size = size.Size
	}
	if err := e.catalog.UpdateReplica(ctx, info.Object.ObjectID, newNum, upd); err != nil {
		return src, err
	}
	cacheReplica.Status = model.Good
	info.Replicas = append(info.Replicas, cacheReplica)
	return cacheReplica, nil
}

// pairedCacheResource finds the COMPOUND_CACHE resource sharing
// archiveRes's "cache=,archive=" delegate-name encoding.
func (e *Engine) pairedCacheResource(archiveRes model.Resource) (model.Resource, bool) {
	for _, r := range e.registry.Snapshot() {
		if r.Kind == model.KindCompoundCache && r.VaultPath == archiveRes.VaultPath {
			return r, true
		}
	}
	return model.Resource{}, false
}

// stageBundle implements spec §4.8 step 3: a source on a TAR/HAAW
// bundle resource is staged whole into the scratch directory and the
// object's member path within it becomes the new source. The returned
// bool reports that the replica is a bare scratch-file location with no
// catalog row of its own, so transfer must read it directly rather than
// reopen it by replica number.
func (e *Engine) stageBundle(ctx context.Context, info *model.DataObjectInfo, src model.Replica) (model.Replica, bool, error) {
	res, err := e.registry.ResolveByName(src.ResourceName)
	if err != nil {
		return src, false, err
	}
	if res.Kind != model.KindTarBundle && res.Kind != model.KindHAAWBundle {
		return src, false, nil
	}

	drv, err := e.driverFor(res.Name)
	if err != nil {
		return src, false, err
	}
	bundleDrv, ok := drv.(model.BundleDriver)
	if !ok {
		return src, false, ecode.New(ecode.CodeDriverUnsupported, "bundle resource driver does not implement staging").
			WithComponent("replication").WithDetail("resource", res.Name)
	}

	scratchDir := filepath.Join(e.scratch, "bundle-stage", res.Name)
	if err := bundleDrv.StageToCache(ctx, src.PhysicalPath, scratchDir); err != nil {
		return src, false, ecode.New(ecode.CodeStageFail, "bundle staging to scratch cache failed").
			WithCause(err).WithComponent("replication")
	}

	relPath := strings.TrimPrefix(info.Object.LogicalPath, "/")
	staged := model.Replica{
		ObjectID: src.ObjectID, ReplicaNumber: src.ReplicaNumber,
		ResourceName: src.ResourceName, PhysicalPath: filepath.Join(scratchDir, filepath.Base(relPath)),
		Status: model.Good, Size: src.Size, Checksum: src.Checksum,
	}
	return staged, true, nil
}
