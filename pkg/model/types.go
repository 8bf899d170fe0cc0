// Package model holds the data-grid's core data model (spec §3): data
// objects and their replicas, resources and resource groups, special
// collections, and the L1/L3 descriptor entries that reference them.
package model

import "time"

// ReplicaStatus reflects whether a replica's bytes are current.
type ReplicaStatus int

const (
	Stale ReplicaStatus = 0
	Good  ReplicaStatus = 1
)

func (s ReplicaStatus) String() string {
	if s == Good {
		return "GOOD"
	}
	return "STALE"
}

// DataObject is the logical file entity. Unique by LogicalPath within
// its zone; owns one or more Replicas (see DataObjectInfo).
type DataObject struct {
	ObjectID     int64     `json:"object_id"`
	LogicalPath  string    `json:"logical_path"`
	Owner        string    `json:"owner"`
	CreateTime   time.Time `json:"create_time"`
	ModifyTime   time.Time `json:"modify_time"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	DataType     string    `json:"data_type,omitempty"`
	CollectionID int64     `json:"collection_id"`
}

// Replica is one physical instantiation of a DataObject on one
// Resource. Unique by (ObjectID, ReplicaNumber).
type Replica struct {
	ObjectID      int64         `json:"object_id"`
	ReplicaNumber int           `json:"replica_number"`
	ResourceName  string        `json:"resource_name"`
	ResourceGroup string        `json:"resource_group,omitempty"`
	PhysicalPath  string        `json:"physical_path"`
	Size          int64         `json:"size"`
	Checksum      string        `json:"checksum,omitempty"`
	Status        ReplicaStatus `json:"status"`
	WriteFlag     bool          `json:"write_flag"`
	Expiry        time.Time     `json:"expiry,omitempty"`
}

// DataObjectInfo bundles a resolved DataObject with the replicas a
// catalog lookup returned, ordered GOOD-first then by replica number
// as spec §4.5 requires.
type DataObjectInfo struct {
	Object   DataObject `json:"object"`
	Replicas []Replica  `json:"replicas"`
}

// GoodReplicas returns the subset of Replicas with Status == Good, in
// existing order.
func (d *DataObjectInfo) GoodReplicas() []Replica {
	var out []Replica
	for _, r := range d.Replicas {
		if r.Status == Good {
			out = append(out, r)
		}
	}
	return out
}

// ReplicaByNumber returns the replica with the given number, if any.
func (d *DataObjectInfo) ReplicaByNumber(n int) (Replica, bool) {
	for _, r := range d.Replicas {
		if r.ReplicaNumber == n {
			return r, true
		}
	}
	return Replica{}, false
}

// NextReplicaNumber returns one past the highest replica number
// currently present, for allocating a new replica row.
func (d *DataObjectInfo) NextReplicaNumber() int {
	max := -1
	for _, r := range d.Replicas {
		if r.ReplicaNumber > max {
			max = r.ReplicaNumber
		}
	}
	return max + 1
}

// DriverKind identifies which L3 driver implementation backs a
// resource.
type DriverKind string

const (
	KindUnix          DriverKind = "UNIX"
	KindHPSS          DriverKind = "HPSS"
	KindS3            DriverKind = "S3"
	KindHAAWBundle    DriverKind = "HAAW_BUNDLE"
	KindTarBundle     DriverKind = "TAR_BUNDLE"
	KindMountedFS     DriverKind = "MOUNTED_FS"
	KindCompoundCache DriverKind = "COMPOUND_CACHE"
	KindCompoundArch  DriverKind = "COMPOUND_ARCHIVE"
)

// ResourceClass is the placement role a resource plays.
type ResourceClass string

const (
	ClassCache   ResourceClass = "CACHE"
	ClassArchive ResourceClass = "ARCHIVE"
	ClassBundle  ResourceClass = "BUNDLE"
	ClassPrimary ResourceClass = "PRIMARY"
)

// Resource is a named backing store managed by one driver kind.
type Resource struct {
	Name          string        `json:"name"`
	Zone          string        `json:"zone"`
	Host          string        `json:"host"`
	Kind          DriverKind    `json:"kind"`
	VaultPath     string        `json:"vault_path"`
	Class         ResourceClass `json:"class"`
	Group         string        `json:"group,omitempty"`
	GatewayAddr   string        `json:"gateway_addr,omitempty"`
	MaxObjectSize int64         `json:"max_object_size,omitempty"`
	FreeSpace     int64         `json:"free_space"`
}

// ResourceGroup is an ordered sequence of resource names used to
// express "any cache member" or "replicate across the group".
type ResourceGroup struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// SpecialCollectionKind identifies how a special collection's
// children are computed rather than cataloged directly.
type SpecialCollectionKind string

const (
	SCMountedFS  SpecialCollectionKind = "MOUNTED_FS"
	SCTarBundle  SpecialCollectionKind = "TAR_BUNDLE"
	SCHAAWBundle SpecialCollectionKind = "HAAW_BUNDLE"
	SCLinkedColl SpecialCollectionKind = "LINKED_COLL"
)

// SpecialCollection describes a collection whose children are
// materialized from a backing artifact instead of direct catalog rows.
type SpecialCollection struct {
	CollectionID     int64                 `json:"collection_id"`
	Kind             SpecialCollectionKind `json:"kind"`
	Path             string                `json:"path,omitempty"`               // MOUNTED_FS
	BundleObjectPath string                `json:"bundle_object_path,omitempty"` // TAR_BUNDLE / HAAW_BUNDLE
	TargetPath       string                `json:"target_path,omitempty"`        // LINKED_COLL
}

// OperationFlag replaces the original raw oprType bitfield (design
// note §9) with named, composable flags.
type OperationFlag uint32

const (
	OpPut OperationFlag = 1 << iota
	OpGet
	OpReplicate
	OpCopySrc
	OpCopyDest
	OpStage
	OpPurgeCache
)

func (f OperationFlag) Has(bit OperationFlag) bool { return f&bit != 0 }

// CollectionEntryKind distinguishes data-object rows from
// sub-collection rows in a cursor's paged enumeration.
type CollectionEntryKind int

const (
	EntryDataObject CollectionEntryKind = iota
	EntrySubCollection
)

// CollectionEntry is one row returned by the collection cursor (C10).
type CollectionEntry struct {
	Kind       CollectionEntryKind
	DataObject *DataObjectInfo
	Collection *CollectionRow
}

// CollectionRow is a cataloged collection (directory-equivalent).
type CollectionRow struct {
	CollectionID int64  `json:"collection_id"`
	Path         string `json:"path"`
	ParentID     int64  `json:"parent_id"`
}
