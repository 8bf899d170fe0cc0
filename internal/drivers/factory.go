// Package drivers wires a resource's configured DriverKind to a
// concrete pkg/model.Driver implementation (spec §4.3, C3).
package drivers

import (
	"context"
	"strings"

	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/internal/drivers/bundle"
	"github.com/gridcore/server/internal/drivers/compound"
	"github.com/gridcore/server/internal/drivers/mountedfs"
	"github.com/gridcore/server/internal/drivers/posix"
	"github.com/gridcore/server/internal/drivers/s3"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Build constructs the Driver backing rc, dispatching on rc.Kind.
// COMPOUND_CACHE/COMPOUND_ARCHIVE resources require their cache and
// archive delegate resources to already have been built, since a
// compound resource has no bytes of its own.
func Build(ctx context.Context, rc config.ResourceConfig, delegates map[string]model.Driver) (model.Driver, error) {
	switch model.DriverKind(rc.Kind) {
	case model.KindUnix:
		return posix.New(), nil

	case model.KindS3:
		return s3.New(ctx, s3.Config{
			Bucket:         rc.S3Bucket,
			Region:         rc.S3Region,
			ForcePathStyle: false,
		})

	case model.KindTarBundle, model.KindHAAWBundle:
		return bundle.New(model.DriverKind(rc.Kind))

	case model.KindMountedFS:
		return mountedfs.New(), nil

	case model.KindCompoundCache, model.KindCompoundArch:
		cache, archive, err := compoundDelegates(rc, delegates)
		if err != nil {
			return nil, err
		}
		return compound.New(model.DriverKind(rc.Kind), cache, archive)

	case model.KindHPSS:
		return nil, ecode.New(ecode.CodeDriverUnsupported, "HPSS driver kind has no implementation").
			WithComponent("drivers").WithDriverKind(string(model.KindHPSS)).WithDetail("resource", rc.Name)

	default:
		return nil, ecode.New(ecode.CodeDriverUnsupported, "unrecognized driver kind").
			WithComponent("drivers").WithDetail("kind", rc.Kind).WithDetail("resource", rc.Name)
	}
}

// compoundDelegates resolves the cache and archive driver instances a
// compound resource delegates to, by resource name, out of delegates
// (already-built drivers for every other configured resource).
// Configuration is expected to name them via VaultPath as
// "cache=<resourceName>,archive=<resourceName>" — a minimal
// convention since compound resources have no standard wire format
// for delegate references.
func compoundDelegates(rc config.ResourceConfig, delegates map[string]model.Driver) (cache, archive model.Driver, err error) {
	cacheName, archiveName := ParseCompoundVaultPath(rc.VaultPath)
	if cacheName == "" || archiveName == "" {
		return nil, nil, ecode.New(ecode.CodeInvalidOption, "compound resource requires cache= and archive= delegate names in vault_path").
			WithComponent("drivers").WithDetail("resource", rc.Name)
	}
	cache, ok := delegates[cacheName]
	if !ok {
		return nil, nil, ecode.New(ecode.CodeInvalidOption, "compound cache delegate not built").
			WithComponent("drivers").WithDetail("delegate", cacheName)
	}
	archive, ok = delegates[archiveName]
	if !ok {
		return nil, nil, ecode.New(ecode.CodeInvalidOption, "compound archive delegate not built").
			WithComponent("drivers").WithDetail("delegate", archiveName)
	}
	return cache, archive, nil
}

// ParseCompoundVaultPath extracts the cache/archive delegate resource
// names from a COMPOUND_CACHE/COMPOUND_ARCHIVE resource's configured
// vault_path (the "cache=<name>,archive=<name>" convention); also used
// by internal/replication to locate a compound archive replica's
// paired cache resource during staging (spec §4.8 step 2).
func ParseCompoundVaultPath(vaultPath string) (cacheName, archiveName string) {
	for _, part := range strings.Split(vaultPath, ",") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "cache":
			cacheName = val
		case "archive":
			archiveName = val
		}
	}
	return cacheName, archiveName
}
