package model

// RemoteRef is owned by an L1 entry whose data object lives on a
// federated zone or remote host (spec §4.6/§4.7): it carries the
// server-to-server connection and the index of the corresponding L1
// entry on the remote server.
type RemoteRef struct {
	Zone           string
	Host           string
	Conn           interface{} // opaque: *grpc.ClientConn in internal/forwarder
	RemoteL1DescIdx int
}

// L3Entry is a handle to an opened physical file in a resource (spec
// §3, §4.4). Owned by exactly one L1Entry at a time.
type L3Entry struct {
	InUse      bool
	ResourceID string
	DriverKind DriverKind
	Native     interface{} // native fd, io.ReadWriteSeeker, or opaque token
	Offset     int64
	Flags      int
}

// Reset clears an L3Entry back to its free state.
func (e *L3Entry) Reset() {
	*e = L3Entry{}
}

// L1Entry is a handle to an opened logical data object (spec §3,
// §4.4, §4.7).
type L1Entry struct {
	InUse     bool
	OpType    OperationFlag
	OpenFlags int

	Obj *DataObjectInfo

	// ReplicaIdx indexes Obj.Replicas for the replica this L1 is
	// bound to (the "chosen"/authoritative replica on an open).
	ReplicaIdx int

	L3Index int // -1 if none (e.g. remote-proxied L1)

	BytesWritten int64

	// Remote is non-nil when this L1 proxies an operation performed
	// on a remote server (§4.6/§4.7). Local operations leave it nil.
	Remote *RemoteRef

	StageFlag     bool
	CopiesNeeded  int
	StatusOnClose ReplicaStatus

	// SiblingL1 holds the L1 indices opened for ALL-mode fan-out
	// writes (one per sibling GOOD replica), owned by the primary.
	SiblingL1 []int
	// SiblingFailed marks siblings (by position in SiblingL1) whose
	// write/seek failed and whose replica must be marked STALE on
	// close instead of GOOD.
	SiblingFailed []bool

	// SiblingOpenFailures counts ALL-mode sibling replicas that never
	// got an L1/L3 pair because their open failed (so they have no
	// slot in SiblingL1 at all). Those replicas are marked STALE
	// immediately rather than at close, but the count still needs to
	// reach Close so it can report a partial-success status.
	SiblingOpenFailures int

	// CopyPairL1 links a copy-source L1 to its copy-destination L1
	// (or vice versa) for replicate/copy operations (-1 if none).
	CopyPairL1 int
}

// Reset clears an L1Entry back to its free state.
func (e *L1Entry) Reset() {
	*e = L1Entry{L3Index: -1, CopyPairL1: -1}
}

// NewFreeL1 returns an L1Entry in its free-but-initialized state.
func NewFreeL1() L1Entry {
	return L1Entry{L3Index: -1, CopyPairL1: -1}
}
