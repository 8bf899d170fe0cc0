// Package cursor implements the collection cursor (spec §4.9, C10):
// paged, depth-first enumeration of a collection's data objects and
// sub-collections, descending transparently into special collections
// whose children are materialized by a driver rather than cataloged
// directly.
package cursor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/gridcore/server/internal/drivers/mountedfs"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// State names the cursor's position in its CLOSED -> OPENED ->
// (DATA_OBJ_QUERIED <-> COLL_OBJ_QUERIED) -> CLOSED lifecycle.
type State int

const (
	Closed State = iota
	Opened
	DataObjQueried
	CollObjQueried
)

func (s State) String() string {
	switch s {
	case Opened:
		return "OPENED"
	case DataObjQueried:
		return "DATA_OBJ_QUERIED"
	case CollObjQueried:
		return "COLL_OBJ_QUERIED"
	default:
		return "CLOSED"
	}
}

// childMeta carries the construction context a sub-collection entry
// produced by a special-collection frame needs to become a frame of
// its own, bypassing catalog resolution (the entry has no collection
// row of its own to resolve).
type childMeta struct {
	physRoot   string
	bundleBase string
}

// frame is one level of the depth-first descent: either an ordinary
// cataloged collection (paged through QueryCollection) or a special
// collection's materialized listing.
type frame struct {
	path string

	special    *model.SpecialCollection
	physRoot   string // MOUNTED_FS: directory this frame scans
	bundle     []model.BundleEntry
	bundleBase string // TAR/HAAW: relative-path prefix this frame exposes

	entries    []model.CollectionEntry
	childMetas []*childMeta
	idx        int
	token      string
	exhausted  bool
}

const maxLinkDepth = 16

// Cursor walks one collection tree. Not safe for concurrent use.
type Cursor struct {
	catalog model.Catalog
	drivers map[string]model.Driver
	mounted *mountedfs.Driver
	flags   model.QueryFlags
	stack   []*frame
	state   State
}

// New wires a cursor to the catalog (C6) and the resource drivers (C3)
// special-collection descent needs for bundle enumeration.
func New(cat model.Catalog, drivers map[string]model.Driver) *Cursor {
	return &Cursor{catalog: cat, drivers: drivers, mounted: mountedfs.New()}
}

// Open resolves collectionPath, descending through LINKED_COLL
// indirection if present, and readies the cursor to page through its
// children. flags honors QueryRecur for depth-first sub-collection
// descent.
func (c *Cursor) Open(ctx context.Context, collectionPath string, flags model.QueryFlags) error {
	if c.state != Closed {
		return ecode.New(ecode.CodeBadDescriptor, "cursor already open").WithComponent("cursor")
	}
	fr, err := c.newFrame(ctx, collectionPath, 0)
	if err != nil {
		return err
	}
	c.flags = flags
	c.stack = []*frame{fr}
	c.state = Opened
	return nil
}

// Close releases the cursor. A cursor may be reopened after Close.
func (c *Cursor) Close() error {
	c.stack = nil
	c.state = Closed
	return nil
}

// ReadNext returns the next entry in depth-first order. ok is false
// with a nil error once every level has been exhausted; the caller
// should call Close.
func (c *Cursor) ReadNext(ctx context.Context) (entry model.CollectionEntry, ok bool, err error) {
	if c.state == Closed {
		return model.CollectionEntry{}, false, ecode.New(ecode.CodeBadDescriptor, "cursor is not open").WithComponent("cursor")
	}
	recur := c.flags&model.QueryRecur != 0

	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]

		if top.idx >= len(top.entries) {
			if top.exhausted {
				c.stack = c.stack[:len(c.stack)-1]
				continue
			}
			if ferr := c.fetchPage(ctx, top); ferr != nil {
				return model.CollectionEntry{}, false, ferr
			}
			continue
		}

		ent := top.entries[top.idx]
		var meta *childMeta
		if top.idx < len(top.childMetas) {
			meta = top.childMetas[top.idx]
		}
		top.idx++

		if ent.Kind == model.EntryDataObject {
			c.state = DataObjQueried
		} else {
			c.state = CollObjQueried
		}

		if ent.Kind == model.EntrySubCollection && recur {
			child, cerr := c.pushChild(ctx, ent, meta)
			if cerr != nil {
				return model.CollectionEntry{}, false, cerr
			}
			c.stack = append(c.stack, child)
		}

		return ent, true, nil
	}

	return model.CollectionEntry{}, false, nil
}

// pushChild builds the next frame for a sub-collection entry just
// returned: meta != nil means the parent was itself a special-
// collection frame (MOUNTED_FS directory or bundle member), so the
// child is built directly from that context; otherwise the entry names
// an ordinary cataloged collection, resolved fresh (it may turn out to
// be special in its own right).
func (c *Cursor) pushChild(ctx context.Context, ent model.CollectionEntry, meta *childMeta) (*frame, error) {
	if meta == nil {
		return c.newFrame(ctx, ent.Collection.Path, 0)
	}
	parent := c.stack[len(c.stack)-1]
	return &frame{
		path:       ent.Collection.Path,
		special:    parent.special,
		physRoot:   meta.physRoot,
		bundle:     parent.bundle,
		bundleBase: meta.bundleBase,
	}, nil
}

// newFrame resolves path's collection row and special-collection
// status, following LINKED_COLL indirection up to maxLinkDepth.
func (c *Cursor) newFrame(ctx context.Context, path string, depth int) (*frame, error) {
	if depth > maxLinkDepth {
		return nil, ecode.New(ecode.CodeInvariantViolated, "linked collection indirection too deep").
			WithComponent("cursor").WithDetail("path", path)
	}

	collRow, err := c.catalog.ResolveCollection(ctx, path)
	if err != nil {
		return nil, err
	}

	sc, scErr := c.catalog.GetSpecialCollection(ctx, collRow.CollectionID)
	if scErr != nil {
		if !ecode.IsCode(scErr, ecode.CodeCatNoRowsFound) {
			return nil, scErr
		}
		return &frame{path: path}, nil
	}

	switch sc.Kind {
	case model.SCLinkedColl:
		return c.newFrame(ctx, sc.TargetPath, depth+1)
	case model.SCMountedFS:
		return &frame{path: path, special: sc, physRoot: sc.Path}, nil
	case model.SCTarBundle, model.SCHAAWBundle:
		entries, err := c.loadBundle(ctx, sc)
		if err != nil {
			return nil, err
		}
		return &frame{path: path, special: sc, bundle: entries}, nil
	default:
		return &frame{path: path}, nil
	}
}

// loadBundle resolves sc.BundleObjectPath's GOOD replica and
// enumerates it through the owning resource's BundleDriver.
func (c *Cursor) loadBundle(ctx context.Context, sc *model.SpecialCollection) ([]model.BundleEntry, error) {
	info, err := c.catalog.Resolve(ctx, sc.BundleObjectPath)
	if err != nil {
		return nil, err
	}
	good := info.GoodReplicas()
	if len(good) == 0 {
		return nil, ecode.New(ecode.CodeCatNoRowsFound, "bundle object has no GOOD replica").
			WithComponent("cursor").WithDetail("path", sc.BundleObjectPath)
	}
	replica := good[0]

	drv, ok := c.drivers[replica.ResourceName]
	if !ok {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "no driver registered for bundle resource").
			WithComponent("cursor").WithDetail("resource", replica.ResourceName)
	}
	bundleDrv, ok := drv.(model.BundleDriver)
	if !ok {
		return nil, ecode.New(ecode.CodeDriverUnsupported, "resource driver does not implement bundle enumeration").
			WithComponent("cursor").WithDetail("resource", replica.ResourceName)
	}
	return bundleDrv.Enumerate(ctx, replica.PhysicalPath)
}

// fetchPage fills fr's entry buffer with the next page, dispatching on
// the frame's kind: a single QueryCollection call for an ordinary
// collection, or a one-shot materialization for a special collection
// (driver enumeration has no paging concept of its own).
func (c *Cursor) fetchPage(ctx context.Context, fr *frame) error {
	if fr.special == nil {
		entries, next, err := c.catalog.QueryCollection(ctx, fr.path, c.flags, fr.token)
		if err != nil {
			return err
		}
		fr.entries = entries
		fr.childMetas = make([]*childMeta, len(entries))
		fr.token = next
		fr.exhausted = next == ""
		return nil
	}

	if fr.special.Kind == model.SCMountedFS {
		raw, err := c.mounted.Enumerate(ctx, fr.physRoot)
		if err != nil {
			return err
		}
		fr.entries, fr.childMetas = mountedChildren(raw, fr.path, fr.physRoot)
		fr.exhausted = true
		return nil
	}

	children := bundleChildren(fr.bundle, fr.bundleBase)
	fr.entries, fr.childMetas = bundleChildrenToEntries(children, fr.path, fr.bundleBase)
	fr.exhausted = true
	return nil
}

func mountedChildren(raw []model.BundleEntry, parentLogicalPath, parentPhysRoot string) ([]model.CollectionEntry, []*childMeta) {
	entries := make([]model.CollectionEntry, 0, len(raw))
	metas := make([]*childMeta, 0, len(raw))
	for _, be := range raw {
		name := filepath.Base(be.RelativePath)
		logicalPath := filepath.Join(parentLogicalPath, name)
		if be.IsDir {
			entries = append(entries, model.CollectionEntry{Kind: model.EntrySubCollection, Collection: &model.CollectionRow{Path: logicalPath}})
			metas = append(metas, &childMeta{physRoot: filepath.Join(parentPhysRoot, name)})
			continue
		}
		entries = append(entries, model.CollectionEntry{Kind: model.EntryDataObject, DataObject: &model.DataObjectInfo{
			Object: model.DataObject{LogicalPath: logicalPath, Size: be.Size, ModifyTime: be.ModTime},
		}})
		metas = append(metas, nil)
	}
	return entries, metas
}

// bundleChildren filters the full flat bundle listing down to the
// direct children of basePrefix (bundle archives list every member in
// one flat index rather than offering a per-directory enumeration
// call).
func bundleChildren(all []model.BundleEntry, basePrefix string) []model.BundleEntry {
	var out []model.BundleEntry
	for _, e := range all {
		rel, ok := trimPrefix(e.RelativePath, basePrefix)
		if !ok || rel == "" || strings.Contains(strings.Trim(rel, "/"), "/") {
			continue
		}
		out = append(out, e)
	}
	return out
}

func trimPrefix(path, base string) (string, bool) {
	if base == "" {
		return strings.Trim(path, "/"), true
	}
	prefix := strings.TrimSuffix(base, "/") + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

func bundleChildrenToEntries(children []model.BundleEntry, parentLogicalPath, basePrefix string) ([]model.CollectionEntry, []*childMeta) {
	entries := make([]model.CollectionEntry, 0, len(children))
	metas := make([]*childMeta, 0, len(children))
	for _, be := range children {
		name := filepath.Base(be.RelativePath)
		logicalPath := filepath.Join(parentLogicalPath, name)
		if be.IsDir {
			entries = append(entries, model.CollectionEntry{Kind: model.EntrySubCollection, Collection: &model.CollectionRow{Path: logicalPath}})
			childBase := strings.TrimSuffix(be.RelativePath, "/")
			metas = append(metas, &childMeta{bundleBase: childBase})
			continue
		}
		entries = append(entries, model.CollectionEntry{Kind: model.EntryDataObject, DataObject: &model.DataObjectInfo{
			Object: model.DataObject{LogicalPath: logicalPath, Size: be.Size, ModifyTime: be.ModTime},
		}})
		metas = append(metas, nil)
	}
	return entries, metas
}
