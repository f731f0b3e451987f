package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"shelfmark/internal/catalog"
	"shelfmark/internal/config"
	"shelfmark/internal/history"
	"shelfmark/internal/metrics"
	"shelfmark/internal/models"
)

// ErrScanBusy is returned when a sweep is already running.
var ErrScanBusy = errors.New("a scan is already running")

// ScanStore is the slice of the store client the scanner needs.
type ScanStore interface {
	IterDocuments(ctx context.Context, fn func(models.Document) bool) error
}

// ScanReport summarizes one full sweep over the catalog.
type ScanReport struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Seen      int           `json:"seen"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Filtered  int           `json:"filtered"` // tag filters or already complete
}

// Scanner sweeps the whole document catalog on a cron schedule and runs
// every unprocessed document through the pipeline. It is the safety net
// behind the webhook: lost deliveries, crashed runs and documents that
// predate the service all get picked up here.
type Scanner struct {
	cfg       *config.Config
	docs      ScanStore
	processor *Processor
	resolver  *catalog.Resolver
	ledger    *history.Store
	scheduler gocron.Scheduler

	busy atomic.Bool

	rootCtx context.Context
	cancel  context.CancelFunc
}

// NewScanner builds the scanner and its scheduler.
func NewScanner(cfg *config.Config, docs ScanStore, processor *Processor, resolver *catalog.Resolver, ledger *history.Store) (*Scanner, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		cfg:       cfg,
		docs:      docs,
		processor: processor,
		resolver:  resolver,
		ledger:    ledger,
		scheduler: scheduler,
		rootCtx:   ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the cron job and starts the scheduler. With scanning
// disabled the scheduler stays idle but RunNow still works for manual
// triggers.
func (s *Scanner) Start() error {
	if !s.cfg.Scan.Enabled {
		log.Println("⏸️ [SCAN] Periodic scan disabled")
		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(s.cfg.Scan.Cron, false),
		gocron.NewTask(func() {
			if _, err := s.RunNow(s.rootCtx); err != nil && !errors.Is(err, ErrScanBusy) {
				log.Printf("⚠️ [SCAN] Scheduled sweep failed: %v", err)
			}
		}),
		gocron.WithName("catalog-scan"),
	)
	if err != nil {
		return fmt.Errorf("failed to register scan job: %w", err)
	}

	s.scheduler.Start()
	log.Printf("⏰ [SCAN] Periodic scan scheduled (cron: %s)", s.cfg.Scan.Cron)
	return nil
}

// Stop cancels any sweep in flight and shuts the scheduler down.
func (s *Scanner) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}

// Busy reports whether a sweep is currently running.
func (s *Scanner) Busy() bool {
	return s.busy.Load()
}

// RunNow sweeps the catalog once. Only one sweep runs at a time; a second
// call while busy returns ErrScanBusy. A document that fails never aborts
// the sweep, it is counted and the walk continues.
func (s *Scanner) RunNow(ctx context.Context) (*ScanReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrScanBusy
	}
	defer s.busy.Store(false)

	report := &ScanReport{Started: time.Now()}

	filter, err := s.resolveTagFilter(ctx)
	if err != nil {
		return nil, err
	}

	log.Println("🔍 [SCAN] Sweeping document catalog...")
	err = s.docs.IterDocuments(ctx, func(doc models.Document) bool {
		if ctx.Err() != nil {
			return false
		}
		report.Seen++

		if !filter.matches(doc) {
			report.Filtered++
			return true
		}

		// Completed documents cost one ledger query here instead of a
		// full Process round.
		record, err := s.ledger.Get(ctx, doc.ID)
		if err == nil && record != nil && IsTerminal(record.Status) {
			report.Filtered++
			return true
		}

		result, err := s.processor.Process(ctx, doc.ID, "")
		switch {
		case err != nil:
			report.Failed++
		case result.Outcome == OutcomeProcessed:
			report.Processed++
		default:
			report.Skipped++
		}
		return true
	})

	report.Duration = time.Since(report.Started)
	metrics.ObserveScanDuration(report.Duration.Seconds())
	if err != nil {
		log.Printf("⚠️ [SCAN] Sweep aborted after %d documents: %v", report.Seen, err)
		return report, err
	}
	if cerr := ctx.Err(); cerr != nil {
		log.Printf("⚠️ [SCAN] Sweep cancelled after %d documents", report.Seen)
		return report, cerr
	}

	log.Printf("✅ [SCAN] Sweep finished in %v: %d seen, %d processed, %d skipped, %d failed, %d filtered",
		report.Duration.Round(time.Second), report.Seen, report.Processed, report.Skipped, report.Failed, report.Filtered)
	return report, nil
}

type tagFilter struct {
	include   []int
	exclude   []int
	includeOn bool
}

func (f tagFilter) matches(doc models.Document) bool {
	if f.includeOn {
		found := false
		for _, id := range f.include {
			if doc.HasTag(id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, id := range f.exclude {
		if doc.HasTag(id) {
			return false
		}
	}
	return true
}

// resolveTagFilter maps the configured include/exclude tag names to ids.
// Names that do not exist are warned about and ignored; an include list
// where nothing resolves matches no documents at all, which is the safe
// reading of a misconfigured filter.
func (s *Scanner) resolveTagFilter(ctx context.Context) (tagFilter, error) {
	filter := tagFilter{includeOn: len(s.cfg.Scan.IncludeTags) > 0}

	for _, name := range s.cfg.Scan.IncludeTags {
		ent, err := s.resolver.FindExisting(ctx, models.KindTag, name)
		if err != nil {
			return filter, fmt.Errorf("resolve include tag %q: %w", name, err)
		}
		if ent == nil {
			log.Printf("⚠️ [SCAN] Include tag %q does not exist", name)
			continue
		}
		filter.include = append(filter.include, ent.ID)
	}

	for _, name := range s.cfg.Scan.ExcludeTags {
		ent, err := s.resolver.FindExisting(ctx, models.KindTag, name)
		if err != nil {
			return filter, fmt.Errorf("resolve exclude tag %q: %w", name, err)
		}
		if ent == nil {
			log.Printf("⚠️ [SCAN] Exclude tag %q does not exist", name)
			continue
		}
		filter.exclude = append(filter.exclude, ent.ID)
	}

	return filter, nil
}
