// Package checksum implements the recursive checksum-verification
// utility: it walks a collection with the cursor (C10), reads each
// data object's current replica through the I/O engine (C8), and
// aggregates per-object outcomes using the "first failure wins,
// CAT_NO_ROWS_FOUND is a clean terminator" rule.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/gridcore/server/internal/cursor"
	"github.com/gridcore/server/internal/descriptor"
	"github.com/gridcore/server/internal/ioengine"
	"github.com/gridcore/server/internal/log"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// ObjectResult is one data object's verification outcome.
type ObjectResult struct {
	LogicalPath string
	Checksum    string
	Mismatch    bool
	Err         error
}

// Report is the aggregate outcome of a VerifyCollection run.
type Report struct {
	Verified []ObjectResult
	// FirstError is the error that stopped traversal, nil if every
	// object under the collection was reached. CAT_NO_ROWS_FOUND on
	// the root collection itself is not recorded here: Open returning
	// it means there was nothing to verify, which is not a failure.
	FirstError error
	// FailedPath names the object FirstError occurred on, empty if
	// FirstError is nil.
	FailedPath string
}

// Verifier composes the cursor and I/O engine into VerifyCollection.
type Verifier struct {
	catalog model.Catalog
	drivers map[string]model.Driver
	io      *ioengine.Engine
}

// NewVerifier wires a Verifier to the catalog, the resource drivers the
// cursor needs for special-collection descent, and the I/O engine that
// performs the actual reads.
func NewVerifier(cat model.Catalog, drivers map[string]model.Driver, io *ioengine.Engine) *Verifier {
	return &Verifier{catalog: cat, drivers: drivers, io: io}
}

// VerifyCollection recurses collectionPath, checksumming the current
// replica of every data object found. It stops at the first hard
// failure (a read or open error on some object) and reports it as
// FirstError; CAT_NO_ROWS_FOUND resolving the root path is a clean,
// empty report rather than a failure, matching the original chksumUtil
// behavior of treating "nothing there" as success on zero objects.
func (v *Verifier) VerifyCollection(ctx context.Context, owner, collectionPath string) (*Report, error) {
	c := cursor.New(v.catalog, v.drivers)
	if err := c.Open(ctx, collectionPath, model.QueryRecur); err != nil {
		if ecode.IsCode(err, ecode.CodeCatNoRowsFound) {
			return &Report{}, nil
		}
		return nil, err
	}
	defer c.Close()

	report := &Report{}
	sess := descriptor.NewSession(4)

	for {
		entry, ok, err := c.ReadNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if entry.Kind != model.EntryDataObject {
			continue
		}

		path := entry.DataObject.Object.LogicalPath
		sum, err := v.verifyOne(ctx, sess, owner, path)
		if err != nil {
			report.FirstError = err
			report.FailedPath = path
			log.Logger.Error().Err(err).Str("path", path).Msg("checksum verification failed, stopping traversal")
			return report, nil
		}

		result := ObjectResult{LogicalPath: path, Checksum: sum}
		if entry.DataObject.Object.Checksum != "" && entry.DataObject.Object.Checksum != sum {
			result.Mismatch = true
		}
		report.Verified = append(report.Verified, result)

		if value, ok := model.Project("logicalPath", entry.DataObject); ok {
			log.Logger.Debug().Str("logicalPath", value).Str("checksum", sum).Msg("object verified")
		}
	}

	return report, nil
}

// verifyOne opens path's current replica read-only, hashes its full
// content, and closes without touching the catalog's recorded
// checksum (chksumUtil verifies, it does not rewrite, unless the
// caller explicitly asked to register a new sum).
func (v *Verifier) verifyOne(ctx context.Context, sess *descriptor.Session, owner, path string) (string, error) {
	l1, err := v.io.Open(ctx, sess, owner, path, os.O_RDONLY, 0, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = v.io.Close(ctx, sess, l1, nil) }()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := v.io.Read(ctx, sess, l1, buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
		if n == 0 {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
