package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"shelfmark/internal/models"
	"shelfmark/internal/store"
)

// fakeStore backs the resolver with in-memory catalogs and call counters.
type fakeStore struct {
	entities map[models.EntityKind][]models.CatalogEntity
	fields   []models.CustomFieldDefinition
	nextID   int

	// conflictNames simulates a concurrent writer: creating one of these
	// names fails with a conflict, but the entity shows up in listings.
	conflictNames map[string]int

	listCalls   int
	findCalls   int
	createCalls int
	fieldCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:      make(map[models.EntityKind][]models.CatalogEntity),
		conflictNames: make(map[string]int),
		nextID:        100,
	}
}

func (f *fakeStore) seed(kind models.EntityKind, names ...string) {
	for _, name := range names {
		f.nextID++
		f.entities[kind] = append(f.entities[kind], models.CatalogEntity{ID: f.nextID, Name: name})
	}
}

func (f *fakeStore) ListAll(ctx context.Context, kind models.EntityKind) ([]models.CatalogEntity, error) {
	f.listCalls++
	return append([]models.CatalogEntity(nil), f.entities[kind]...), nil
}

func (f *fakeStore) FindByNameExact(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error) {
	f.findCalls++
	for _, ent := range f.entities[kind] {
		if strings.EqualFold(ent.Name, name) {
			found := ent
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error) {
	f.createCalls++
	if id, conflicted := f.conflictNames[name]; conflicted {
		f.entities[kind] = append(f.entities[kind], models.CatalogEntity{ID: id, Name: name})
		delete(f.conflictNames, name)
		return nil, &store.ConflictError{Kind: kind, Name: name}
	}
	f.nextID++
	created := models.CatalogEntity{ID: f.nextID, Name: name}
	f.entities[kind] = append(f.entities[kind], created)
	return &created, nil
}

func (f *fakeStore) ListCustomFields(ctx context.Context) ([]models.CustomFieldDefinition, error) {
	f.fieldCalls++
	return f.fields, nil
}

func TestFindOrCreateHitsCacheCaseInsensitively(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindTag, "Invoices")
	resolver := NewResolver(fs, 10*time.Minute)

	first, err := resolver.FindOrCreate(context.Background(), models.KindTag, "Invoices", false)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	second, err := resolver.FindOrCreate(context.Background(), models.KindTag, "iNVOICES", false)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	if first == nil || second == nil || first.ID != second.ID {
		t.Fatalf("Expected both lookups to resolve to the same entity, got %+v and %+v", first, second)
	}
	if fs.listCalls != 1 {
		t.Errorf("Expected one catalog listing, got %d", fs.listCalls)
	}
	if fs.findCalls != 0 {
		t.Errorf("Expected cached lookups to skip the store, got %d find calls", fs.findCalls)
	}
}

func TestFindOrCreateCreatesWhenUnrestricted(t *testing.T) {
	fs := newFakeStore()
	resolver := NewResolver(fs, 10*time.Minute)

	created, err := resolver.FindOrCreate(context.Background(), models.KindCorrespondent, "Globex", false)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if created == nil || created.Name != "Globex" {
		t.Fatalf("Expected new entity, got %+v", created)
	}
	if fs.createCalls != 1 {
		t.Errorf("Expected one create, got %d", fs.createCalls)
	}

	// The new entity is cached; nothing further hits the store.
	again, err := resolver.FindOrCreate(context.Background(), models.KindCorrespondent, "globex", false)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("Expected cached entity %d, got %d", created.ID, again.ID)
	}
	if fs.createCalls != 1 {
		t.Errorf("Expected no second create, got %d", fs.createCalls)
	}
}

func TestRestrictedMissIsDroppedWithoutCreating(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindCorrespondent, "ACME")
	resolver := NewResolver(fs, 10*time.Minute)

	ent, err := resolver.FindOrCreate(context.Background(), models.KindCorrespondent, "Globex", true)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if ent != nil {
		t.Errorf("Expected restricted miss to resolve to nothing, got %+v", ent)
	}
	if fs.createCalls != 0 {
		t.Errorf("Expected no create under restriction, got %d", fs.createCalls)
	}
}

func TestCreateConflictConvergesOnExistingEntity(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindTag, "Receipts")
	fs.conflictNames["Invoices"] = 42
	resolver := NewResolver(fs, 10*time.Minute)

	ent, err := resolver.FindOrCreate(context.Background(), models.KindTag, "Invoices", false)
	if err != nil {
		t.Fatalf("Expected conflict to converge, got error: %v", err)
	}
	if ent == nil || ent.ID != 42 {
		t.Fatalf("Expected the concurrently created entity (id 42), got %+v", ent)
	}
	if fs.listCalls != 2 {
		t.Errorf("Expected a second listing after the conflict, got %d", fs.listCalls)
	}
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindTag, "Invoices")
	resolver := NewResolver(fs, time.Millisecond)

	if _, err := resolver.FindOrCreate(context.Background(), models.KindTag, "Invoices", true); err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := resolver.FindOrCreate(context.Background(), models.KindTag, "Invoices", true); err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	if fs.listCalls != 2 {
		t.Errorf("Expected stale cache to trigger a second listing, got %d", fs.listCalls)
	}
}

func TestResolveManyDedupsAndReportsErrors(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindTag, "Invoices")
	resolver := NewResolver(fs, 10*time.Minute)

	res, err := resolver.ResolveMany(context.Background(), models.KindTag,
		[]string{"Invoices", "invoices", "Unknown", "  ", ""}, true)
	if err != nil {
		t.Fatalf("ResolveMany failed: %v", err)
	}

	if len(res.IDs) != 1 {
		t.Errorf("Expected one deduplicated id, got %v", res.IDs)
	}
	if len(res.Errors) != 1 || res.Errors[0].Name != "Unknown" {
		t.Errorf("Expected only the unknown name reported, got %v", res.Errors)
	}
	if fs.createCalls != 0 {
		t.Errorf("Expected no creates under restriction, got %d", fs.createCalls)
	}
}

func TestResolveManyRestrictedMissShape(t *testing.T) {
	fs := newFakeStore()
	resolver := NewResolver(fs, 10*time.Minute)

	res, err := resolver.ResolveMany(context.Background(), models.KindTag, []string{"Invoice"}, true)
	if err != nil {
		t.Fatalf("ResolveMany failed: %v", err)
	}

	if len(res.IDs) != 0 {
		t.Errorf("Expected no ids, got %v", res.IDs)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Expected one error, got %v", res.Errors)
	}
	if res.Errors[0].Name != "Invoice" || res.Errors[0].Reason != "not found, restricted" {
		t.Errorf("Unexpected error shape %+v", res.Errors[0])
	}
}

func TestNamesAreSorted(t *testing.T) {
	fs := newFakeStore()
	fs.seed(models.KindDocumentType, "Letter", "Contract", "Invoice")
	resolver := NewResolver(fs, 10*time.Minute)

	names, err := resolver.Names(context.Background(), models.KindDocumentType)
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}

	want := []string{"Contract", "Invoice", "Letter"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %v", len(want), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Expected %q at position %d, got %q", name, i, names[i])
		}
	}
}

func TestDefinitionsAreCached(t *testing.T) {
	fs := newFakeStore()
	fs.fields = []models.CustomFieldDefinition{{ID: 1, Name: "Reference", DataType: "string"}}
	resolver := NewResolver(fs, 10*time.Minute)

	for i := 0; i < 3; i++ {
		fields, err := resolver.Definitions(context.Background())
		if err != nil {
			t.Fatalf("Definitions failed: %v", err)
		}
		if len(fields) != 1 || fields[0].Name != "Reference" {
			t.Errorf("Unexpected definitions %+v", fields)
		}
	}

	if fs.fieldCalls != 1 {
		t.Errorf("Expected one custom field listing, got %d", fs.fieldCalls)
	}
}
