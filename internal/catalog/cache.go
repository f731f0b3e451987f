package catalog

import (
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"shelfmark/internal/models"
)

// entityCache holds one entity kind's catalog keyed by lowercased name.
// Entries never expire individually; the whole cache is replaced when the
// refresh watermark passes the configured TTL.
type entityCache struct {
	items       *cache.Cache
	lastRefresh time.Time
}

func newEntityCache() *entityCache {
	return &entityCache{items: cache.New(cache.NoExpiration, 0)}
}

func (e *entityCache) stale(ttl time.Duration) bool {
	return e.items.ItemCount() == 0 || time.Since(e.lastRefresh) > ttl
}

// replace swaps the full contents in one go. Names that collide after
// lowercasing keep the last entry, matching the store's iexact lookups.
func (e *entityCache) replace(entities []models.CatalogEntity) {
	e.items.Flush()
	for _, ent := range entities {
		e.items.Set(strings.ToLower(ent.Name), ent, cache.NoExpiration)
	}
	e.lastRefresh = time.Now()
}

func (e *entityCache) get(name string) (models.CatalogEntity, bool) {
	value, found := e.items.Get(strings.ToLower(name))
	if !found {
		return models.CatalogEntity{}, false
	}
	ent, ok := value.(models.CatalogEntity)
	return ent, ok
}

func (e *entityCache) add(ent models.CatalogEntity) {
	e.items.Set(strings.ToLower(ent.Name), ent, cache.NoExpiration)
}

func (e *entityCache) names() []string {
	out := make([]string, 0, e.items.ItemCount())
	for _, item := range e.items.Items() {
		if ent, ok := item.Object.(models.CatalogEntity); ok {
			out = append(out, ent.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (e *entityCache) invalidate() {
	e.items.Flush()
	e.lastRefresh = time.Time{}
}
