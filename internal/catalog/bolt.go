// Package catalog implements the catalog client (spec §4.5, C6): the
// external query/update service of record for data objects, replicas,
// and collections. BoltCatalog is the reference implementation,
// backed by go.etcd.io/bbolt.
package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

var (
	bucketObjects            = []byte("objects")
	bucketObjectPathIndex    = []byte("object_path_index")
	bucketReplicas           = []byte("replicas")
	bucketCollections        = []byte("collections")
	bucketCollectionPathIdx  = []byte("collection_path_index")
	bucketResources          = []byte("resources")
	bucketResourceGroups     = []byte("resource_groups")
	bucketSpecialCollections = []byte("special_collections")
)

// BoltCatalog implements model.Catalog over a single bbolt database
// file. Every exported method is its own implicit transaction, as the
// catalog contract (spec §4.5) requires; Commit/Rollback exist for
// callers grouping several calls under one request-scoped boundary
// but this implementation has no multi-call transaction state to
// commit — they are no-ops kept to satisfy the interface.
type BoltCatalog struct {
	db *bolt.DB

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// Open opens (creating if absent) the bbolt database at path and
// ensures every catalog bucket exists.
func Open(path string) (*BoltCatalog, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, ecode.New(ecode.CodeCatSQLErr, "failed to open catalog database").
			WithComponent("catalog").WithDetail("path", path).WithCause(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketObjects, bucketObjectPathIndex, bucketReplicas,
			bucketCollections, bucketCollectionPathIdx,
			bucketResources, bucketResourceGroups, bucketSpecialCollections,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ecode.New(ecode.CodeCatSQLErr, "failed to initialize catalog buckets").
			WithComponent("catalog").WithCause(err)
	}

	return &BoltCatalog{db: db, locks: make(map[int64]*sync.Mutex)}, nil
}

// Close implements model.Catalog.
func (c *BoltCatalog) Close() error {
	return c.db.Close()
}

// Commit implements model.Catalog. Every call above already commits
// its own bbolt transaction, so this is a no-op.
func (c *BoltCatalog) Commit(ctx context.Context) error { return nil }

// Rollback implements model.Catalog. See Commit.
func (c *BoltCatalog) Rollback(ctx context.Context) error { return nil }

func objectKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// Resolve implements model.Catalog.
func (c *BoltCatalog) Resolve(ctx context.Context, logicalPath string) (*model.DataObjectInfo, error) {
	var info model.DataObjectInfo
	err := c.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketObjectPathIndex).Get([]byte(logicalPath))
		if idBytes == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "no data object at logical path").
				WithComponent("catalog").WithDetail("path", logicalPath)
		}
		objectID := int64(binary.BigEndian.Uint64(idBytes))

		objData := tx.Bucket(bucketObjects).Get(objectKey(objectID))
		if objData == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "dangling path index entry").
				WithComponent("catalog").WithDetail("path", logicalPath)
		}
		if err := json.Unmarshal(objData, &info.Object); err != nil {
			return ecode.New(ecode.CodeCatSQLErr, "corrupt object record").WithComponent("catalog").WithCause(err)
		}

		repData := tx.Bucket(bucketReplicas).Get(objectKey(objectID))
		if repData != nil {
			if err := json.Unmarshal(repData, &info.Replicas); err != nil {
				return ecode.New(ecode.CodeCatSQLErr, "corrupt replica record").WithComponent("catalog").WithCause(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	orderReplicas(info.Replicas)
	return &info, nil
}

// orderReplicas sorts GOOD replicas before STALE, then by replica
// number, as spec §4.5 requires of a resolved DataObjectInfo.
func orderReplicas(replicas []model.Replica) {
	for i := 1; i < len(replicas); i++ {
		for j := i; j > 0 && replicaLess(replicas[j], replicas[j-1]); j-- {
			replicas[j], replicas[j-1] = replicas[j-1], replicas[j]
		}
	}
}

func replicaLess(a, b model.Replica) bool {
	if a.Status != b.Status {
		return a.Status == model.Good
	}
	return a.ReplicaNumber < b.ReplicaNumber
}

// CreateObject implements model.Catalog, allocating a new object ID
// from the objects bucket's sequence.
func (c *BoltCatalog) CreateObject(ctx context.Context, obj model.DataObject) (int64, error) {
	var objectID int64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if obj.ObjectID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			objectID = int64(seq)
			obj.ObjectID = objectID
		} else {
			objectID = obj.ObjectID
		}

		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		if err := b.Put(objectKey(objectID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketObjectPathIndex).Put([]byte(obj.LogicalPath), objectKey(objectID))
	})
	if err != nil {
		return 0, ecode.New(ecode.CodeCatSQLErr, "create object failed").
			WithComponent("catalog").WithDetail("path", obj.LogicalPath).WithCause(err)
	}
	return objectID, nil
}

func (c *BoltCatalog) loadReplicas(tx *bolt.Tx, objectID int64) ([]model.Replica, error) {
	data := tx.Bucket(bucketReplicas).Get(objectKey(objectID))
	if data == nil {
		return nil, nil
	}
	var replicas []model.Replica
	if err := json.Unmarshal(data, &replicas); err != nil {
		return nil, err
	}
	return replicas, nil
}

func (c *BoltCatalog) storeReplicas(tx *bolt.Tx, objectID int64, replicas []model.Replica) error {
	data, err := json.Marshal(replicas)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketReplicas).Put(objectKey(objectID), data)
}

// RegisterReplica implements model.Catalog.
func (c *BoltCatalog) RegisterReplica(ctx context.Context, objectID int64, r model.Replica) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketObjects).Get(objectKey(objectID)) == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "object not found").
				WithComponent("catalog").WithDetail("object_id", strconv.FormatInt(objectID, 10))
		}
		replicas, err := c.loadReplicas(tx, objectID)
		if err != nil {
			return err
		}
		for i, existing := range replicas {
			if existing.ReplicaNumber == r.ReplicaNumber {
				replicas[i] = r
				return c.storeReplicas(tx, objectID, replicas)
			}
		}
		replicas = append(replicas, r)
		return c.storeReplicas(tx, objectID, replicas)
	})
	if err != nil {
		return ecode.New(ecode.CodeCatSQLErr, "register replica failed").WithComponent("catalog").WithCause(err)
	}
	return nil
}

// UnregisterReplica implements model.Catalog.
func (c *BoltCatalog) UnregisterReplica(ctx context.Context, objectID int64, replicaNumber int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		replicas, err := c.loadReplicas(tx, objectID)
		if err != nil {
			return ecode.New(ecode.CodeCatSQLErr, "unregister replica failed").WithComponent("catalog").WithCause(err)
		}
		out := replicas[:0]
		found := false
		for _, r := range replicas {
			if r.ReplicaNumber == replicaNumber {
				found = true
				continue
			}
			out = append(out, r)
		}
		if !found {
			return ecode.New(ecode.CodeCatNoRowsFound, "replica not found").
				WithComponent("catalog").WithDetail("object_id", strconv.FormatInt(objectID, 10))
		}
		return c.storeReplicas(tx, objectID, out)
	})
}

// UpdateReplica implements model.Catalog.
func (c *BoltCatalog) UpdateReplica(ctx context.Context, objectID int64, replicaNumber int, upd model.ReplicaUpdate) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		replicas, err := c.loadReplicas(tx, objectID)
		if err != nil {
			return ecode.New(ecode.CodeCatSQLErr, "update replica failed").WithComponent("catalog").WithCause(err)
		}
		for i := range replicas {
			if replicas[i].ReplicaNumber != replicaNumber {
				continue
			}
			if upd.Size != nil {
				replicas[i].Size = *upd.Size
			}
			if upd.Checksum != nil {
				replicas[i].Checksum = *upd.Checksum
			}
			if upd.Status != nil {
				replicas[i].Status = *upd.Status
			}
			return c.storeReplicas(tx, objectID, replicas)
		}
		return ecode.New(ecode.CodeCatNoRowsFound, "replica not found").
			WithComponent("catalog").WithDetail("object_id", strconv.FormatInt(objectID, 10))
	})
}

// RenameObject implements model.Catalog.
func (c *BoltCatalog) RenameObject(ctx context.Context, objectID int64, newName string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		data := b.Get(objectKey(objectID))
		if data == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "object not found").WithComponent("catalog")
		}
		var obj model.DataObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		oldPath := obj.LogicalPath
		obj.LogicalPath = newName

		updated, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		if err := b.Put(objectKey(objectID), updated); err != nil {
			return err
		}
		idx := tx.Bucket(bucketObjectPathIndex)
		if err := idx.Delete([]byte(oldPath)); err != nil {
			return err
		}
		return idx.Put([]byte(newName), objectKey(objectID))
	})
}

// MoveObject implements model.Catalog.
func (c *BoltCatalog) MoveObject(ctx context.Context, objectID int64, targetCollectionID int64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		data := b.Get(objectKey(objectID))
		if data == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "object not found").WithComponent("catalog")
		}
		var obj model.DataObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		obj.CollectionID = targetCollectionID
		updated, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return b.Put(objectKey(objectID), updated)
	})
}

// ResolveCollection implements model.Catalog.
func (c *BoltCatalog) ResolveCollection(ctx context.Context, path string) (*model.CollectionRow, error) {
	var row model.CollectionRow
	err := c.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketCollectionPathIdx).Get([]byte(path))
		if idBytes == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "collection not found").
				WithComponent("catalog").WithDetail("path", path)
		}
		collectionID := int64(binary.BigEndian.Uint64(idBytes))
		data := tx.Bucket(bucketCollections).Get(objectKey(collectionID))
		if data == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "dangling collection path index entry").
				WithComponent("catalog").WithDetail("path", path)
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateCollection registers a new collection row, supplementing
// model.Catalog with the write path QueryCollection's children
// implicitly depend on.
func (c *BoltCatalog) CreateCollection(ctx context.Context, row model.CollectionRow) (int64, error) {
	var collectionID int64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		collectionID = int64(seq)
		row.CollectionID = collectionID

		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(objectKey(collectionID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketCollectionPathIdx).Put([]byte(row.Path), objectKey(collectionID))
	})
	if err != nil {
		return 0, ecode.New(ecode.CodeCatSQLErr, "create collection failed").WithComponent("catalog").WithCause(err)
	}
	return collectionID, nil
}

// QueryCollection implements model.Catalog. Pagination is a simple
// offset encoded as the page token, sufficient for the bucket-scan
// access pattern bbolt gives us; QueryRecur is honored by the caller
// (internal/cursor), which issues one QueryCollection call per
// sub-collection it descends into.
func (c *BoltCatalog) QueryCollection(ctx context.Context, collectionPath string, flags model.QueryFlags, token string) ([]model.CollectionEntry, string, error) {
	const pageSize = 256

	offset := 0
	if token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil {
			return nil, "", ecode.New(ecode.CodeInvalidOption, "invalid page token").WithComponent("catalog")
		}
		offset = parsed
	}

	collRow, err := c.ResolveCollection(ctx, collectionPath)
	if err != nil {
		return nil, "", err
	}

	var entries []model.CollectionEntry
	var nextToken string
	err = c.db.View(func(tx *bolt.Tx) error {
		var subColls []model.CollectionRow
		cb := tx.Bucket(bucketCollections)
		_ = cb.ForEach(func(k, v []byte) error {
			var row model.CollectionRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.ParentID == collRow.CollectionID {
				subColls = append(subColls, row)
			}
			return nil
		})

		var dataObjs []model.DataObjectInfo
		ob := tx.Bucket(bucketObjects)
		_ = ob.ForEach(func(k, v []byte) error {
			var obj model.DataObject
			if err := json.Unmarshal(v, &obj); err != nil {
				return err
			}
			if obj.CollectionID != collRow.CollectionID {
				return nil
			}
			info := model.DataObjectInfo{Object: obj}
			repData := tx.Bucket(bucketReplicas).Get(k)
			if repData != nil {
				_ = json.Unmarshal(repData, &info.Replicas)
			}
			orderReplicas(info.Replicas)
			dataObjs = append(dataObjs, info)
			return nil
		})

		all := make([]model.CollectionEntry, 0, len(subColls)+len(dataObjs))
		for i := range subColls {
			row := subColls[i]
			all = append(all, model.CollectionEntry{Kind: model.EntrySubCollection, Collection: &row})
		}
		for i := range dataObjs {
			info := dataObjs[i]
			all = append(all, model.CollectionEntry{Kind: model.EntryDataObject, DataObject: &info})
		}

		end := offset + pageSize
		if end > len(all) {
			end = len(all)
		}
		if offset < len(all) {
			entries = all[offset:end]
		}
		if end < len(all) {
			nextToken = strconv.Itoa(end)
		}
		return nil
	})
	if err != nil {
		return nil, "", ecode.New(ecode.CodeCatSQLErr, "query collection failed").WithComponent("catalog").WithCause(err)
	}
	return entries, nextToken, nil
}

// GetSpecialCollection implements model.Catalog.
func (c *BoltCatalog) GetSpecialCollection(ctx context.Context, collectionID int64) (*model.SpecialCollection, error) {
	var sc model.SpecialCollection
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSpecialCollections).Get(objectKey(collectionID))
		if data == nil {
			return ecode.New(ecode.CodeCatNoRowsFound, "special collection not found").WithComponent("catalog")
		}
		return json.Unmarshal(data, &sc)
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// CreateSpecialCollection registers collectionID as a special
// collection, supplementing model.Catalog with the administrative
// write path GetSpecialCollection's read path depends on.
func (c *BoltCatalog) CreateSpecialCollection(ctx context.Context, sc model.SpecialCollection) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSpecialCollections).Put(objectKey(sc.CollectionID), data)
	})
}

// RemoveSpecialCollection reverts collectionID back to an ordinary
// collection, supplementing CreateSpecialCollection with the
// "unmount" half of the mount/unmount/check verb set.
func (c *BoltCatalog) RemoveSpecialCollection(ctx context.Context, collectionID int64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpecialCollections).Delete(objectKey(collectionID))
	})
}

// PutResource persists a resource definition, supplementing
// model.Catalog so a registry Reload (C2) can pull its resource set
// from the catalog instead of only from static configuration.
func (c *BoltCatalog) PutResource(ctx context.Context, res model.Resource) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketResources).Put([]byte(res.Name), data)
	})
}

// ListResources returns every resource the catalog has on file.
func (c *BoltCatalog) ListResources(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			var res model.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			out = append(out, res)
			return nil
		})
	})
	if err != nil {
		return nil, ecode.New(ecode.CodeCatSQLErr, "list resources failed").WithComponent("catalog").WithCause(err)
	}
	return out, nil
}

// PutResourceGroup persists a resource group definition.
func (c *BoltCatalog) PutResourceGroup(ctx context.Context, group model.ResourceGroup) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketResourceGroups).Put([]byte(group.Name), data)
	})
}

// ListResourceGroups returns every resource group the catalog has on
// file.
func (c *BoltCatalog) ListResourceGroups(ctx context.Context) ([]model.ResourceGroup, error) {
	var out []model.ResourceGroup
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResourceGroups).ForEach(func(k, v []byte) error {
			var g model.ResourceGroup
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, g)
			return nil
		})
	})
	if err != nil {
		return nil, ecode.New(ecode.CodeCatSQLErr, "list resource groups failed").WithComponent("catalog").WithCause(err)
	}
	return out, nil
}

// Lock implements model.Catalog's advisory per-object-id lock,
// coordinating replication's concurrency control (§4.8). The lock is
// process-local (an in-memory mutex keyed by object ID), matching the
// "advisory" qualifier: it serializes this server's own replication
// attempts, not a cluster-wide mutual exclusion.
func (c *BoltCatalog) Lock(ctx context.Context, objectID int64) (func(), error) {
	c.lockMu.Lock()
	mu, ok := c.locks[objectID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[objectID] = mu
	}
	c.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock, nil
}
