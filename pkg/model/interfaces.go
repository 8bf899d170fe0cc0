package model

import (
	"context"
	"time"

	"github.com/gridcore/server/pkg/condbag"
)

// FileStat is the minimal stat result a driver reports for a
// physical path.
type FileStat struct {
	Size   int64
	ModTime time.Time
}

// Driver is the capability every resource driver kind implements
// (spec §4.3, C3). Bundle and compound resources additionally
// implement BundleDriver / CompoundDriver; callers discover those via
// type assertion, matching the teacher's single-interface-plus-
// capability-checks idiom.
type Driver interface {
	Kind() DriverKind
	Open(ctx context.Context, physPath string, flags int, mode uint32) (native interface{}, err error)
	Close(ctx context.Context, native interface{}) error
	Read(ctx context.Context, native interface{}, buf []byte) (int, error)
	Write(ctx context.Context, native interface{}, buf []byte) (int, error)
	Lseek(ctx context.Context, native interface{}, offset int64, whence int) (int64, error)
	Unlink(ctx context.Context, physPath string) error
	Stat(ctx context.Context, physPath string) (FileStat, error)
}

// PhysicalRef names one physical-path location on one resource.
type PhysicalRef struct {
	ResourceName string
	PhysicalPath string
}

// BundleEntry is one member of a TAR/HAAW bundle's index, as
// enumerated for collection-cursor descent (C10).
type BundleEntry struct {
	RelativePath string
	Size         int64
	ModTime      time.Time
	IsDir        bool
}

// BundleDriver is implemented by HAAW_BUNDLE and TAR_BUNDLE drivers
// (spec §4.3).
type BundleDriver interface {
	Driver
	StageToCache(ctx context.Context, bundlePhysPath, cachePhysPath string) error
	SyncFromCache(ctx context.Context, cachePhysPath, bundlePhysPath string) error
	Enumerate(ctx context.Context, bundlePhysPath string) ([]BundleEntry, error)
}

// CompoundDriver is implemented by the COMPOUND_CACHE/COMPOUND_ARCHIVE
// pair (spec §4.3, §4.8 step 2).
type CompoundDriver interface {
	Driver
	Stage(ctx context.Context, archive, cache PhysicalRef) error
	Sync(ctx context.Context, cache, archive PhysicalRef) error
}

// QueryFlags controls catalog collection enumeration (spec §4.5).
type QueryFlags uint32

const (
	QueryLongMetadata QueryFlags = 1 << iota
	QueryVeryLongMetadata
	QueryRecur
	QueryNoTrimReplicas
)

// ReplicaUpdate carries the fields UpdateReplica is allowed to patch;
// nil pointers leave the corresponding column untouched.
type ReplicaUpdate struct {
	Size       *int64
	Checksum   *string
	Status     *ReplicaStatus
	ModifyTime *time.Time
}

// Catalog is the typed facade over the catalog's queries and updates
// (spec §4.5, C6). Every method is its own implicit transaction;
// Commit/Rollback exist for callers that want to group several calls
// under one request-scoped boundary.
type Catalog interface {
	Resolve(ctx context.Context, logicalPath string) (*DataObjectInfo, error)
	CreateObject(ctx context.Context, obj DataObject) (int64, error)
	RegisterReplica(ctx context.Context, objectID int64, r Replica) error
	UnregisterReplica(ctx context.Context, objectID int64, replicaNumber int) error
	UpdateReplica(ctx context.Context, objectID int64, replicaNumber int, upd ReplicaUpdate) error

	ResolveCollection(ctx context.Context, path string) (*CollectionRow, error)
	QueryCollection(ctx context.Context, collectionPath string, flags QueryFlags, token string) (entries []CollectionEntry, nextToken string, err error)
	GetSpecialCollection(ctx context.Context, collectionID int64) (*SpecialCollection, error)

	RenameObject(ctx context.Context, objectID int64, newName string) error
	MoveObject(ctx context.Context, objectID int64, targetCollectionID int64) error

	// Lock takes the per-object-id advisory lock replication (§4.8)
	// serializes on; the caller must call the returned unlock.
	Lock(ctx context.Context, objectID int64) (unlock func(), err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Close() error
}

// RemoteInvoker re-issues an already-resolved API call against a
// remote server (spec §4.6/§4.7). It is the named interface standing
// in for the wire-level request/response bus, which is out of scope
// for this core (spec §1, §6): this boundary is where a transport
// implementation plugs in.
type RemoteInvoker interface {
	Invoke(ctx context.Context, conn interface{}, apiNumber int, bag *condbag.Bag, operand interface{}) (interface{}, error)
}

// MetricsCollector is the narrow recording surface the I/O and
// replication engines use; internal/metrics.Collector implements it
// over Prometheus.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordDriverError(kind DriverKind, operation string)
	SetOpenDescriptors(l1, l3 int)
}
