package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"shelfmark/internal/catalog"
	"shelfmark/internal/config"
	"shelfmark/internal/history"
	"shelfmark/internal/llm"
	"shelfmark/internal/metrics"
	"shelfmark/internal/models"
	"shelfmark/internal/schema"
	"shelfmark/internal/store"
	"shelfmark/internal/tokenbudget"
)

// ErrNotEditable marks documents the configured credentials may not modify.
var ErrNotEditable = errors.New("document is not editable")

// ErrNoContent marks documents with neither extractable text nor a usable
// original, depending on the content mode.
var ErrNoContent = errors.New("document has no usable content")

// StoreWriteError marks a failure after analysis already succeeded. The
// processing record is left in place so the periodic scan retries the
// document instead of burning tokens on a fresh analysis immediately.
type StoreWriteError struct {
	DocumentID int
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write back document %d: %v", e.DocumentID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Outcome classifies one pipeline run.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result reports one pipeline run back to the caller.
type Result struct {
	DocumentID int               `json:"document_id"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Title      string            `json:"title,omitempty"`
	Language   string            `json:"language,omitempty"`
	Usage      models.TokenUsage `json:"usage"`
	Duration   time.Duration     `json:"duration"`
}

// DocumentStore is the slice of the store client the processor needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int) (*models.Document, error)
	UpdateDocument(ctx context.Context, current *models.Document, up store.PartialUpdate) (*models.Document, error)
	ReplaceTags(ctx context.Context, id int, tags []int) error
	DownloadOriginal(ctx context.Context, id int) ([]byte, string, error)
	DownloadThumbnail(ctx context.Context, id int) ([]byte, string, error)
}

// Completer runs one structured completion.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (map[string]any, models.TokenUsage, error)
}

// Processor runs the full enrichment pipeline for one document at a time:
// ledger gate, content assembly, token budgeting, completion, entity
// resolution, write-back, history. A mutex serializes runs so the webhook
// queue and the scanner never race on the same document.
type Processor struct {
	cfg       *config.Config
	docs      DocumentStore
	resolver  *catalog.Resolver
	completer Completer
	ledger    *history.Store
	allocator *tokenbudget.Allocator
	builder   *schema.Builder
	prompts   *PromptSource

	mu sync.Mutex
}

// NewProcessor wires the pipeline together.
func NewProcessor(cfg *config.Config, docs DocumentStore, resolver *catalog.Resolver, completer Completer, ledger *history.Store, prompts *PromptSource) *Processor {
	return &Processor{
		cfg:       cfg,
		docs:      docs,
		resolver:  resolver,
		completer: completer,
		ledger:    ledger,
		prompts:   prompts,
		allocator: tokenbudget.NewAllocator(tokenbudget.ForModel(cfg.LLM.Model)),
		builder:   schema.NewBuilder(cfg.Capabilities(), cfg.Restrictions()),
	}
}

// Process runs one document through the pipeline. Skips are reported in the
// Result with a nil error; only analysis and write-back problems surface as
// errors. Calling Process again for a completed document is a no-op skip, so
// duplicate webhook deliveries and overlapping scans are harmless.
func (p *Processor) Process(ctx context.Context, documentID int, overridePrompt string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	result := &Result{DocumentID: documentID}

	record, err := p.ledger.Get(ctx, documentID)
	if err != nil {
		return p.failed(result, started, fmt.Errorf("read ledger: %w", err))
	}
	current := models.StatusUnseen
	if record != nil {
		current = record.Status
	}
	if IsTerminal(current) {
		return p.skipped(result, started, "already processed")
	}

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		if store.IsNotFound(err) {
			return p.skipped(result, started, "document no longer exists")
		}
		return p.failed(result, started, fmt.Errorf("fetch document: %w", err))
	}
	if !doc.Editable() {
		return p.skipped(result, started, ErrNotEditable.Error())
	}
	if reason, tooShort := p.contentTooShort(doc); tooShort {
		return p.skipped(result, started, reason)
	}

	if Transition(current, models.StatusProcessing) != models.StatusProcessing {
		return p.skipped(result, started, "already processed")
	}
	if err := p.ledger.MarkProcessing(ctx, documentID, doc.Title); err != nil {
		return p.failed(result, started, fmt.Errorf("mark processing: %w", err))
	}
	log.Printf("🔎 [PIPELINE] Processing document %d %q", documentID, doc.Title)

	suggestion, usage, err := p.analyze(ctx, doc, overridePrompt)
	result.Usage = usage
	if err != nil {
		// An aborted run leaves no record so the next scan retries cleanly.
		p.clearRecord(ctx, documentID)
		if errors.Is(err, ErrNoContent) {
			return p.skipped(result, started, "no usable content")
		}
		return p.failed(result, started, err)
	}

	updated, finalTags, err := p.apply(ctx, doc, suggestion)
	if err != nil {
		// The record stays at processing; the scan gate lets it through again.
		return p.failed(result, started, &StoreWriteError{DocumentID: documentID, Err: err})
	}

	p.finalize(ctx, doc, updated, finalTags, usage)

	result.Outcome = OutcomeProcessed
	result.Title = updated.Title
	result.Language = suggestion.Language
	result.Duration = time.Since(started)
	metrics.RecordDocumentProcessed(string(OutcomeProcessed))
	metrics.RecordTokenUsage(usage.PromptTokens, usage.CompletionTokens)
	log.Printf("✅ [PIPELINE] Document %d enriched in %v (%d tokens)",
		documentID, result.Duration.Round(time.Millisecond), usage.TotalTokens)
	return result, nil
}

// analyze assembles the model call and normalizes its reply. No network
// traffic happens when the token budget already rules the request out.
func (p *Processor) analyze(ctx context.Context, doc *models.Document, overridePrompt string) (*models.Suggestion, models.TokenUsage, error) {
	var usage models.TokenUsage

	cat, err := p.catalogs(ctx)
	if err != nil {
		return nil, usage, err
	}

	content, raw, err := p.assembleContent(ctx, doc)
	if err != nil {
		return nil, usage, err
	}

	system := overridePrompt
	if system == "" {
		system = p.prompts.Current()
	}
	fragments := promptFragments(p.cfg.Capabilities(), p.cfg.Restrictions(), cat, p.cfg.Analysis.PromptLanguage)

	alloc, err := p.allocator.Allocate(tokenbudget.Request{
		SystemPrompt: system,
		Fragments:    fragments,
		Content:      content,
		RawPayload:   raw.Data,
		MaxTokens:    p.cfg.LLM.MaxContextTokens,
		Reserved:     p.cfg.LLM.ReservedResponseTokens,
	})
	if err != nil {
		return nil, usage, err
	}
	if alloc.Truncated {
		log.Printf("✂️ [PIPELINE] Document %d content truncated to %d tokens (%s)",
			doc.ID, alloc.ContentTokens, alloc.Strategy)
	}

	parts := make([]llm.Part, 0, len(fragments)+2)
	for _, f := range fragments {
		parts = append(parts, llm.Part{Kind: "text", Text: f})
	}
	if raw.Data != "" {
		parts = append(parts, raw)
	}
	if alloc.Content != "" {
		parts = append(parts, llm.Part{Kind: "text", Text: alloc.Content})
	}

	parsed, usage, err := p.completer.CompleteJSON(ctx, llm.Request{
		System:     system,
		Parts:      parts,
		Schema:     p.builder.Build(cat),
		SchemaName: schema.Name,
		MaxTokens:  p.cfg.LLM.ReservedResponseTokens,
	})
	if err != nil {
		return nil, usage, err
	}

	return p.normalize(parsed), usage, nil
}

// catalogs gathers the store state the schema and prompt fragments embed.
// Name lists are only fetched for kinds that are both enabled and restricted;
// unrestricted kinds stay free-form.
func (p *Processor) catalogs(ctx context.Context) (schema.Catalogs, error) {
	var cat schema.Catalogs
	caps := p.cfg.Capabilities()
	policy := p.cfg.Restrictions()
	var err error

	if caps.Tags && policy.Tags {
		if cat.Tags, err = p.resolver.Names(ctx, models.KindTag); err != nil {
			return cat, fmt.Errorf("list tags: %w", err)
		}
	}
	if caps.Correspondent && policy.Correspondents {
		if cat.Correspondents, err = p.resolver.Names(ctx, models.KindCorrespondent); err != nil {
			return cat, fmt.Errorf("list correspondents: %w", err)
		}
	}
	if caps.DocumentType && policy.DocumentTypes {
		if cat.DocumentTypes, err = p.resolver.Names(ctx, models.KindDocumentType); err != nil {
			return cat, fmt.Errorf("list document types: %w", err)
		}
	}
	if caps.CustomFields {
		defs, err := p.resolver.Definitions(ctx)
		if err != nil {
			return cat, fmt.Errorf("list custom fields: %w", err)
		}
		cat.CustomFields = filterDefinitions(defs, p.cfg.Analysis.CustomFieldIDs)
	}
	return cat, nil
}

// assembleContent gathers what the content mode asks for: extracted text,
// the raw original, or both. Empty OCR text falls back to local extraction
// from the original file before giving up.
func (p *Processor) assembleContent(ctx context.Context, doc *models.Document) (string, llm.Part, error) {
	mode := p.cfg.Analysis.ContentMode
	var content string
	var raw llm.Part

	if mode == "text" || mode == "both" {
		content = strings.TrimSpace(doc.Content)
		if content == "" {
			extracted, err := p.extractFromOriginal(ctx, doc)
			if err != nil {
				log.Printf("⚠️ [PIPELINE] Text extraction failed for document %d: %v", doc.ID, err)
			} else {
				content = extracted
			}
		}
	}

	if mode == "raw" || mode == "both" {
		part, err := p.fetchRaw(ctx, doc)
		if err != nil {
			return "", llm.Part{}, fmt.Errorf("fetch original for document %d: %w", doc.ID, err)
		}
		raw = part
	}

	if content == "" && raw.Data == "" {
		return "", llm.Part{}, ErrNoContent
	}
	return content, raw, nil
}

// extractFromOriginal pulls the stored original and extracts text locally.
// Only PDFs are attempted; other types return empty without error.
func (p *Processor) extractFromOriginal(ctx context.Context, doc *models.Document) (string, error) {
	data, mime, err := p.docs.DownloadOriginal(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	if mime != "application/pdf" {
		return "", nil
	}
	text, err := store.ExtractPDFText(data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// fetchRaw downloads the payload for raw analysis: the thumbnail as an image
// part, or the original as a file part.
func (p *Processor) fetchRaw(ctx context.Context, doc *models.Document) (llm.Part, error) {
	if p.cfg.Analysis.RawMode == "image" {
		data, mime, err := p.docs.DownloadThumbnail(ctx, doc.ID)
		if err != nil {
			return llm.Part{}, err
		}
		return llm.Part{Kind: "image", MIME: mime, Data: base64.StdEncoding.EncodeToString(data)}, nil
	}

	data, mime, err := p.docs.DownloadOriginal(ctx, doc.ID)
	if err != nil {
		return llm.Part{}, err
	}
	name := doc.OriginalFileName
	if name == "" {
		name = fmt.Sprintf("document-%d", doc.ID)
	}
	return llm.Part{Kind: "file", MIME: mime, Filename: name, Data: base64.StdEncoding.EncodeToString(data)}, nil
}

// contentTooShort gates documents whose OCR text is present but too thin to
// analyze. Empty content passes so the original-file fallback can still run.
func (p *Processor) contentTooShort(doc *models.Document) (string, bool) {
	min := p.cfg.Analysis.MinContentLength
	if min <= 0 || p.cfg.Analysis.ContentMode == "raw" {
		return "", false
	}
	content := strings.TrimSpace(doc.Content)
	if content == "" || len(content) >= min {
		return "", false
	}
	return fmt.Sprintf("content shorter than %d characters", min), true
}

// apply maps the suggestion onto store IDs and PATCHes the document. Names
// that cannot be resolved are dropped by the resolver; the write proceeds
// with whatever survives. Returns the refreshed document and the final tag
// list after post-processing.
func (p *Processor) apply(ctx context.Context, doc *models.Document, s *models.Suggestion) (*models.Document, []int, error) {
	policy := p.cfg.Restrictions()
	var up store.PartialUpdate

	if s.Title != "" && s.Title != doc.Title {
		up.Title = &s.Title
	}

	if len(s.Tags) > 0 {
		res, err := p.resolver.ResolveMany(ctx, models.KindTag, s.Tags, policy.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve tags: %w", err)
		}
		up.Tags = res.IDs
	}

	if s.Correspondent != "" {
		ent, err := p.resolver.FindOrCreate(ctx, models.KindCorrespondent, s.Correspondent, policy.Correspondents)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve correspondent: %w", err)
		}
		if ent != nil {
			up.Correspondent = &ent.ID
		}
	}

	if s.DocumentType != "" {
		ent, err := p.resolver.FindOrCreate(ctx, models.KindDocumentType, s.DocumentType, policy.DocumentTypes)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve document type: %w", err)
		}
		if ent != nil {
			up.DocumentType = &ent.ID
		}
	}

	if s.CreatedDate != "" {
		up.CreatedDate = &s.CreatedDate
	}
	if s.Content != "" {
		up.Content = &s.Content
	}

	if len(s.CustomFields) > 0 {
		defs, err := p.resolver.Definitions(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve custom fields: %w", err)
		}
		up.CustomFields = customFieldValues(s.CustomFields, filterDefinitions(defs, p.cfg.Analysis.CustomFieldIDs), doc.ID)
	}

	updated, err := p.docs.UpdateDocument(ctx, doc, up)
	if err != nil {
		return nil, nil, err
	}

	finalTags := p.postProcessTags(ctx, updated)
	return updated, finalTags, nil
}

// postProcessTags adds the processed-tag marker and strips configured inbox
// tags. Failures here are logged and swallowed; the enrichment itself stands.
func (p *Processor) postProcessTags(ctx context.Context, doc *models.Document) []int {
	final := append([]int(nil), doc.Tags...)
	changed := false

	if name := p.cfg.Analysis.ProcessedTag; name != "" {
		ent, err := p.resolver.FindOrCreate(ctx, models.KindTag, name, false)
		if err != nil {
			log.Printf("⚠️ [PIPELINE] Could not resolve processed tag %q: %v", name, err)
		} else if ent != nil && !containsInt(final, ent.ID) {
			final = append(final, ent.ID)
			changed = true
		}
	}

	for _, name := range p.cfg.Analysis.RemoveTags {
		ent, err := p.resolver.FindExisting(ctx, models.KindTag, name)
		if err != nil || ent == nil {
			continue
		}
		if filtered := removeInt(final, ent.ID); len(filtered) != len(final) {
			final = filtered
			changed = true
		}
	}

	if !changed {
		return final
	}
	if err := p.docs.ReplaceTags(ctx, doc.ID, final); err != nil {
		log.Printf("⚠️ [PIPELINE] Tag post-processing failed for document %d: %v", doc.ID, err)
		return doc.Tags
	}
	return final
}

// finalize flips the ledger to complete and appends the history snapshot.
// The store write already succeeded, so problems here are logged only and
// never turn the run into a failure.
func (p *Processor) finalize(ctx context.Context, before, after *models.Document, finalTags []int, usage models.TokenUsage) {
	if err := p.ledger.MarkComplete(ctx, after.ID, after.Title, usage); err != nil {
		log.Printf("⚠️ [PIPELINE] Could not mark document %d complete: %v", after.ID, err)
	}
	if _, err := p.ledger.AddHistory(ctx, models.HistoryEntry{
		DocumentID:            after.ID,
		PreviousTitle:         before.Title,
		PreviousTags:          before.Tags,
		PreviousCorrespondent: before.Correspondent,
		NewTitle:              after.Title,
		NewTags:               finalTags,
		NewCorrespondent:      after.Correspondent,
	}); err != nil {
		log.Printf("⚠️ [PIPELINE] Could not record history for document %d: %v", after.ID, err)
	}
}

func (p *Processor) clearRecord(ctx context.Context, documentID int) {
	if err := p.ledger.Delete(ctx, documentID); err != nil {
		log.Printf("⚠️ [PIPELINE] Could not clear record for document %d: %v", documentID, err)
	}
}

func (p *Processor) skipped(result *Result, started time.Time, reason string) (*Result, error) {
	result.Outcome = OutcomeSkipped
	result.Reason = reason
	result.Duration = time.Since(started)
	metrics.RecordDocumentProcessed(string(OutcomeSkipped))
	log.Printf("⏭️ [PIPELINE] Skipping document %d: %s", result.DocumentID, reason)
	return result, nil
}

func (p *Processor) failed(result *Result, started time.Time, err error) (*Result, error) {
	result.Outcome = OutcomeFailed
	result.Reason = err.Error()
	result.Duration = time.Since(started)
	metrics.RecordDocumentProcessed(string(OutcomeFailed))
	log.Printf("❌ [PIPELINE] Document %d failed: %v", result.DocumentID, err)
	return result, err
}

func filterDefinitions(defs []models.CustomFieldDefinition, ids []int) []models.CustomFieldDefinition {
	if len(ids) == 0 {
		return defs
	}
	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make([]models.CustomFieldDefinition, 0, len(defs))
	for _, d := range defs {
		if wanted[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func containsInt(list []int, id int) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func removeInt(list []int, id int) []int {
	out := make([]int, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
