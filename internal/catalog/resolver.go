package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"shelfmark/internal/metrics"
	"shelfmark/internal/models"
	"shelfmark/internal/store"
)

// Store is the slice of the document store the resolver needs.
type Store interface {
	ListAll(ctx context.Context, kind models.EntityKind) ([]models.CatalogEntity, error)
	FindByNameExact(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error)
	Create(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error)
	ListCustomFields(ctx context.Context) ([]models.CustomFieldDefinition, error)
}

// ResolveError names one suggestion that could not be mapped to an entity.
type ResolveError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Resolution reports the outcome of resolving a batch of suggested names.
type Resolution struct {
	IDs    []int
	Errors []ResolveError
}

// Resolver maps suggested entity names onto store IDs, creating missing
// entities when the kind is not restricted. Lookups go through a TTL cache
// so a scan over hundreds of documents does not re-list the catalogs for
// every document.
type Resolver struct {
	store Store
	ttl   time.Duration

	mu    sync.Mutex
	kinds map[models.EntityKind]*entityCache

	fields        []models.CustomFieldDefinition
	fieldsRefresh time.Time
}

func NewResolver(s Store, ttl time.Duration) *Resolver {
	return &Resolver{
		store: s,
		ttl:   ttl,
		kinds: map[models.EntityKind]*entityCache{
			models.KindTag:           newEntityCache(),
			models.KindCorrespondent: newEntityCache(),
			models.KindDocumentType:  newEntityCache(),
		},
	}
}

// FindOrCreate resolves a single name to a catalog entity. A nil entity with
// a nil error means the name was dropped: either it was blank, or the kind is
// restricted and the store has no entity with that name.
func (r *Resolver) FindOrCreate(ctx context.Context, kind models.EntityKind, name string, restricted bool) (*models.CatalogEntity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(ctx, kind, name, restricted)
}

// ResolveMany resolves a batch of names, deduplicating case-insensitively by
// resolved ID. A name that fails to resolve is recorded with its reason and
// never aborts the rest of the batch. Only context cancellation stops the
// walk.
func (r *Resolver) ResolveMany(ctx context.Context, kind models.EntityKind, names []string, restricted bool) (Resolution, error) {
	var res Resolution
	seen := make(map[int]bool)

	for _, raw := range names {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}

		ent, err := r.FindOrCreate(ctx, kind, name, restricted)
		if err != nil {
			log.Printf("⚠️ [CATALOG] Could not resolve %s %q: %v", kind.Endpoint(), name, err)
			res.Errors = append(res.Errors, ResolveError{Name: name, Reason: err.Error()})
			continue
		}
		if ent == nil {
			res.Errors = append(res.Errors, ResolveError{Name: name, Reason: "not found, restricted"})
			continue
		}
		if !seen[ent.ID] {
			seen[ent.ID] = true
			res.IDs = append(res.IDs, ent.ID)
		}
	}

	return res, nil
}

// FindExisting resolves a name without ever creating it. Used for scan
// include/exclude filters and anywhere creation would be wrong.
func (r *Resolver) FindExisting(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error) {
	return r.FindOrCreate(ctx, kind, name, true)
}

// Names returns the sorted entity names of a kind, refreshing the cache
// first if it has gone stale. Schema building uses this for enum values.
func (r *Resolver) Names(ctx context.Context, kind models.EntityKind) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureFresh(ctx, kind); err != nil {
		return nil, err
	}
	return r.kinds[kind].names(), nil
}

// Definitions returns the custom field definitions, cached under the same
// TTL as the entity catalogs.
func (r *Resolver) Definitions(ctx context.Context) ([]models.CustomFieldDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.fields) > 0 && time.Since(r.fieldsRefresh) <= r.ttl {
		return r.fields, nil
	}

	fields, err := r.store.ListCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh custom field definitions: %w", err)
	}
	r.fields = fields
	r.fieldsRefresh = time.Now()
	return fields, nil
}

func (r *Resolver) resolveLocked(ctx context.Context, kind models.EntityKind, name string, restricted bool) (*models.CatalogEntity, error) {
	if err := r.ensureFresh(ctx, kind); err != nil {
		return nil, err
	}

	ec := r.kinds[kind]
	if ent, ok := ec.get(name); ok {
		return &ent, nil
	}

	// The cache can trail the store; check the source before creating.
	found, err := r.store.FindByNameExact(ctx, kind, name)
	if err != nil {
		return nil, err
	}
	if found != nil {
		ec.add(*found)
		return found, nil
	}

	if restricted {
		log.Printf("⏭️ [CATALOG] Skipping unknown %s %q: creation disabled", kind.Endpoint(), name)
		return nil, nil
	}

	created, err := r.store.Create(ctx, kind, name)
	if err == nil {
		ec.add(*created)
		metrics.RecordEntityCreated(string(kind))
		log.Printf("✨ [CATALOG] Created %s %q (id %d)", kind.Endpoint(), created.Name, created.ID)
		return created, nil
	}
	if !errors.Is(err, store.ErrEntityConflict) {
		return nil, err
	}

	// Another writer beat us to it. Refresh wholesale and look again.
	ec.invalidate()
	if err := r.ensureFresh(ctx, kind); err != nil {
		return nil, err
	}
	if ent, ok := ec.get(name); ok {
		return &ent, nil
	}
	found, err = r.store.FindByNameExact(ctx, kind, name)
	if err != nil {
		return nil, err
	}
	if found != nil {
		ec.add(*found)
		return found, nil
	}
	return nil, fmt.Errorf("%s %q: creation conflicted but no existing entity was found", kind.Endpoint(), name)
}

func (r *Resolver) ensureFresh(ctx context.Context, kind models.EntityKind) error {
	ec := r.kinds[kind]
	if !ec.stale(r.ttl) {
		return nil
	}

	entities, err := r.store.ListAll(ctx, kind)
	if err != nil {
		return fmt.Errorf("refresh %s catalog: %w", kind.Endpoint(), err)
	}
	ec.replace(entities)
	metrics.RecordCacheRefresh(string(kind))
	log.Printf("🔄 [CATALOG] Refreshed %s cache: %d entries", kind.Endpoint(), len(entities))
	return nil
}
