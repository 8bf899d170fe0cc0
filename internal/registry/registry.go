// Package registry implements the in-memory resource registry (spec
// §4.2, C2): process-wide, read-mostly state mapping resource names
// to pkg/model.Resource, populated at server start from configuration
// and refreshable afterward from the catalog.
package registry

import (
	"sync"

	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/pkg/condbag"
	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Registry holds the resolved set of resources and resource groups
// known to this server. Safe for concurrent reads; Reload takes an
// exclusive lock and assumes the caller has already quiesced any
// open L1 descriptors referencing the resources being replaced
// (spec §5) — the registry does not itself track open descriptors.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]model.Resource
	groups    map[string]model.ResourceGroup
	zoneName  string
	userDefault map[string]string // per-user default resource name
	zoneDefault string
}

// New builds a Registry seeded from cfg.Resources.
func New(cfg *config.Configuration) *Registry {
	r := &Registry{
		resources:   make(map[string]model.Resource),
		groups:      make(map[string]model.ResourceGroup),
		userDefault: make(map[string]string),
		zoneName:    cfg.Global.Zone,
	}
	r.seed(cfg)
	return r
}

func (r *Registry) seed(cfg *config.Configuration) {
	groupMembers := make(map[string][]string)
	for _, rc := range cfg.Resources {
		res := model.Resource{
			Name:          rc.Name,
			Zone:          rc.Zone,
			Host:          rc.Host,
			Kind:          model.DriverKind(rc.Kind),
			VaultPath:     rc.VaultPath,
			Class:         model.ResourceClass(rc.Class),
			Group:         rc.Group,
			GatewayAddr:   rc.GatewayAddr,
			MaxObjectSize: rc.MaxObjectSize,
		}
		if res.Zone == "" {
			res.Zone = r.zoneName
		}
		r.resources[rc.Name] = res
		if rc.Group != "" {
			groupMembers[rc.Group] = append(groupMembers[rc.Group], rc.Name)
		}
	}
	for name, members := range groupMembers {
		r.groups[name] = model.ResourceGroup{Name: name, Members: members}
	}
	if r.zoneDefault == "" && len(cfg.Resources) > 0 {
		r.zoneDefault = cfg.Resources[0].Name
	}
}

// ResolveByName returns the resource registered under name.
func (r *Registry) ResolveByName(name string) (model.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[name]
	if !ok {
		return model.Resource{}, ecode.New(ecode.CodeCatNoRowsFound, "resource not found").
			WithComponent("registry").WithDetail("resource", name)
	}
	return res, nil
}

// IterateGroup calls fn for each resource that is a member of group,
// in the group's declared order, stopping at the first error fn
// returns.
func (r *Registry) IterateGroup(group string, fn func(model.Resource) error) error {
	r.mu.RLock()
	g, ok := r.groups[group]
	if !ok {
		r.mu.RUnlock()
		return ecode.New(ecode.CodeCatNoRowsFound, "resource group not found").
			WithComponent("registry").WithDetail("group", group)
	}
	members := append([]string(nil), g.Members...)
	r.mu.RUnlock()

	for _, name := range members {
		res, err := r.ResolveByName(name)
		if err != nil {
			return err
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

// SetUserDefault records user's default resource name, as assigned
// by an administrator (analogous to the original system's
// iCAT-stored default-resource attribute).
func (r *Registry) SetUserDefault(user, resourceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userDefault[user] = resourceName
}

// SetZoneDefault overrides the zone-wide fallback resource.
func (r *Registry) SetZoneDefault(resourceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zoneDefault = resourceName
}

// PickDestination resolves the destination resource for a put/copy
// operation, honoring DEST_RESC_NAME > BACKUP_RESC_NAME > the
// operation's user's default resource > the zone default, in that
// order (spec §4.2).
func (r *Registry) PickDestination(bag *condbag.Bag, user string) (model.Resource, error) {
	if name, ok := bag.Lookup(condbag.DestRescName); ok && name != "" {
		return r.ResolveByName(name)
	}
	if name, ok := bag.Lookup(condbag.BackupRescName); ok && name != "" {
		return r.ResolveByName(name)
	}

	r.mu.RLock()
	userResc, hasUserDefault := r.userDefault[user]
	zoneResc := r.zoneDefault
	r.mu.RUnlock()

	if hasUserDefault && userResc != "" {
		return r.ResolveByName(userResc)
	}
	if zoneResc != "" {
		return r.ResolveByName(zoneResc)
	}
	return model.Resource{}, ecode.New(ecode.CodeResourceExhausted, "no destination resource resolvable").
		WithComponent("registry").WithDetail("user", user)
}

// Reload replaces the registry's contents from cfg. Callers must
// ensure every L1 descriptor referencing the current resource set has
// been closed first (spec §5); Reload itself performs no quiescence
// check.
func (r *Registry) Reload(cfg *config.Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resources = make(map[string]model.Resource)
	r.groups = make(map[string]model.ResourceGroup)
	r.zoneName = cfg.Global.Zone
	r.zoneDefault = ""
	r.seed(cfg)
}

// Snapshot returns a copy of every registered resource, for catalog
// sync or administrative listing.
func (r *Registry) Snapshot() []model.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}
