package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
	"FeeSync/internal/textutil"
)

const (
	runLockKey         = "feesync:run"
	encounterLockKey   = "feesync:encounter:"
	defaultLockTTL     = 10 * time.Minute
	maxDigestFailures  = 20
	maxDigestMsgLength = 300
)

// PipelineDeps wires all driven adapters into the sync pipeline.
type PipelineDeps struct {
	Feed       ports.FeedSource
	Encounters ports.EncounterSource
	Extractor  *FeeExtractor
	Resolver   *ReconciliationResolver
	Composer   *OrderComposer
	Gate       *SyncLedgerGate
	Ledger     ports.SyncLedger
	Locker     ports.Locker
	Publisher  ports.OutcomePublisher
	Notifier   ports.Notifier
	Archive    ports.ReportArchive
	Workers    int
	DryRun     bool
	LockTTL    time.Duration
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Pipeline implements the encounter-to-order sync workflow.
type Pipeline struct {
	feed       ports.FeedSource
	encounters ports.EncounterSource
	extractor  *FeeExtractor
	resolver   *ReconciliationResolver
	composer   *OrderComposer
	gate       *SyncLedgerGate
	ledger     ports.SyncLedger
	locker     ports.Locker
	publisher  ports.OutcomePublisher
	notifier   ports.Notifier
	archive    ports.ReportArchive
	workers    int
	dryRun     bool
	lockTTL    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	workers := deps.Workers
	if workers < 1 {
		workers = 1
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		feed:       deps.Feed,
		encounters: deps.Encounters,
		extractor:  deps.Extractor,
		resolver:   deps.Resolver,
		composer:   deps.Composer,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		archive:    deps.Archive,
		workers:    workers,
		dryRun:     deps.DryRun,
		lockTTL:    ttl,
		logger:     logger.With("component", "pipeline"),
		now:        now,
	}
}

// Run performs one sync pass over the recent feed. Only a feed failure, a
// held run lock or cancellation yields an error; encounter failures are
// recorded in the ledger and reported in the returned RunReport.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	logger := p.logger.With("run_id", report.RunID)

	if p.locker != nil {
		token, acquired, err := p.locker.TryLock(ctx, runLockKey, p.lockTTL)
		if err != nil {
			return report, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			return report, domain.ErrRunInProgress
		}
		defer p.unlock(runLockKey, token, logger)
	}

	logger.Info("sync run started", "dry_run", p.dryRun, "workers", p.workers)

	entries, err := p.feed.FetchRecentEntries(ctx)
	if err != nil {
		logger.Error("feed fetch failed, aborting run", "error", err)
		report.FinishedAt = p.now().UTC()
		return report, fmt.Errorf("fetch feed: %w", err)
	}
	entries = dedupeEntries(entries)

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.EncounterID != "" {
			ids = append(ids, entry.EncounterID)
		}
	}

	processed, err := p.gate.Prefetch(ctx, ids)
	if err != nil {
		logger.Warn("batch gate lookup failed, checking encounters one by one", "error", err)
		processed = map[string]bool{}
	}

	report.Results = make([]domain.EncounterResult, len(entries))
	if p.workers == 1 {
		for i, entry := range entries {
			report.Results[i] = p.processEntry(ctx, logger, entry, processed[entry.EncounterID])
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.workers)
		for i, entry := range entries {
			i, entry := i, entry
			g.Go(func() error {
				report.Results[i] = p.processEntry(ctx, logger, entry, processed[entry.EncounterID])
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Tally()
	report.FinishedAt = p.now().UTC()

	logger.Info("sync run finished",
		"entries", report.Entries,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"no_fee", report.NoFee,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	p.afterRun(ctx, logger, report)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}
	return report, nil
}

func (p *Pipeline) processEntry(ctx context.Context, logger *slog.Logger, entry domain.FeedEntry, prefetched bool) domain.EncounterResult {
	res := domain.EncounterResult{EncounterID: entry.EncounterID, State: domain.StatePending}
	logger = logger.With("encounter_id", entry.EncounterID)

	if entry.EncounterID == "" {
		logger.Warn("feed entry has no encounter id", "url", entry.ContentURL)
		res.State = domain.StateSkipped
		res.Message = "feed entry has no encounter id"
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Message = "not attempted: " + err.Error()
		return res
	}
	if prefetched {
		logger.Debug("encounter already processed")
		res.State = domain.StateSkipped
		return res
	}

	if p.locker != nil {
		key := encounterLockKey + entry.EncounterID
		token, acquired, err := p.locker.TryLock(ctx, key, p.lockTTL)
		if err != nil {
			logger.Error("encounter lock failed", "error", err)
			res.State = domain.StateUnrecorded
			res.Message = fmt.Sprintf("acquire encounter lock: %v", err)
			return res
		}
		if !acquired {
			logger.Info("encounter locked by another worker")
			res.State = domain.StateSkipped
			res.Message = "locked by another worker"
			return res
		}
		defer p.unlock(key, token, logger)
	}

	done, err := p.gate.IsAlreadyProcessed(ctx, entry.EncounterID)
	if err != nil {
		logger.Error("gate check failed", "error", err)
		res.State = domain.StateUnrecorded
		res.Message = err.Error()
		return res
	}
	if done {
		logger.Debug("encounter already processed")
		res.State = domain.StateSkipped
		return res
	}

	return p.sync(ctx, logger, entry)
}

// sync runs Extracting, Resolving and Submitting for one encounter. Every
// failure, including a panic, ends in a failed outcome record.
func (p *Pipeline) sync(ctx context.Context, logger *slog.Logger, entry domain.FeedEntry) (res domain.EncounterResult) {
	var patientRef string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("encounter processing panicked", "panic", r)
			res = p.recordFailure(ctx, logger, entry.EncounterID, patientRef, fmt.Errorf("panic: %v", r))
		}
	}()

	detail, err := p.encounters.FetchDetail(ctx, entry)
	if err != nil {
		return p.recordFailure(ctx, logger, entry.EncounterID, "", err)
	}
	if detail.EncounterID == "" {
		detail.EncounterID = entry.EncounterID
	}
	patientRef = detail.PatientRef

	fees := p.extractor.Extract(detail)

	result, err := p.resolver.Resolve(ctx, detail.PatientRef, fees)
	if err != nil {
		return p.recordFailure(ctx, logger, entry.EncounterID, patientRef, err)
	}
	if result.Empty() {
		logger.Info("no billable fee found", "patient_ref", patientRef)
		return domain.EncounterResult{
			EncounterID: entry.EncounterID,
			PatientRef:  patientRef,
			State:       domain.StateNoFee,
		}
	}

	if p.dryRun {
		logger.Info("dry run, order not submitted",
			"patient_ref", patientRef,
			"fees", result.Summary())
		return domain.EncounterResult{
			EncounterID: entry.EncounterID,
			PatientRef:  patientRef,
			State:       domain.StateWouldSubmit,
			Fee:         result.Total(),
			Message:     "Order would be created with: " + result.Summary(),
		}
	}

	ref, err := p.composer.Submit(ctx, result.Customer.ID, result.Lines)
	if err != nil {
		return p.recordFailure(ctx, logger, entry.EncounterID, patientRef, err)
	}

	return p.recordSuccess(ctx, logger, entry.EncounterID, patientRef, result, ref)
}

func (p *Pipeline) recordSuccess(ctx context.Context, logger *slog.Logger, encounterID, patientRef string, result domain.ReconciliationResult, ref domain.OrderRef) domain.EncounterResult {
	rec := domain.SyncOutcomeRecord{
		ID:          uuid.NewString(),
		EncounterID: encounterID,
		PatientRef:  patientRef,
		Fee:         result.Total(),
		Status:      domain.OutcomeSuccess,
		OrderRef:    ref.String(),
		Message:     fmt.Sprintf("Order %s created with: %s", ref, result.Summary()),
		SyncedAt:    p.now().UTC(),
	}
	res := domain.EncounterResult{
		EncounterID: encounterID,
		PatientRef:  patientRef,
		OrderRef:    rec.OrderRef,
		Fee:         rec.Fee,
		Message:     rec.Message,
	}

	// The order exists at this point; a cancelled run must still record it.
	if err := p.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateSuccess) {
			logger.Error("order created for an encounter that already has a success record",
				"order", rec.OrderRef)
		} else {
			logger.Error("order created but outcome not recorded",
				"order", rec.OrderRef,
				"error", err)
		}
		res.State = domain.StateUnrecorded
		res.Message = fmt.Sprintf("%s; record outcome: %v", rec.Message, err)
		return res
	}

	logger.Info("encounter synced", "order", rec.OrderRef, "fee", rec.Fee)
	p.publish(ctx, logger, rec)

	res.State = domain.StateSucceeded
	res.Recorded = true
	return res
}

func (p *Pipeline) recordFailure(ctx context.Context, logger *slog.Logger, encounterID, patientRef string, cause error) domain.EncounterResult {
	res := domain.EncounterResult{
		EncounterID: encounterID,
		PatientRef:  patientRef,
		Message:     cause.Error(),
	}

	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		logger.Warn("encounter interrupted", "error", cause)
		res.State = domain.StateUnrecorded
		return res
	}

	logger.Error("encounter sync failed", "error", cause)

	rec := domain.SyncOutcomeRecord{
		ID:          uuid.NewString(),
		EncounterID: encounterID,
		PatientRef:  patientRef,
		Status:      domain.OutcomeFailed,
		Message:     cause.Error(),
		SyncedAt:    p.now().UTC(),
	}
	if err := p.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed outcome not recorded", "error", err)
		res.State = domain.StateUnrecorded
		return res
	}

	p.publish(ctx, logger, rec)

	res.State = domain.StateFailed
	res.Recorded = true
	return res
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, rec domain.SyncOutcomeRecord) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishOutcome(ctx, rec); err != nil {
		logger.Warn("publish outcome", "error", err)
	}
}

func (p *Pipeline) afterRun(ctx context.Context, logger *slog.Logger, report domain.RunReport) {
	ctx = context.WithoutCancel(ctx)

	if p.notifier != nil {
		if message := buildDigestMessage(report); message != "" {
			if err := p.notifier.PublishDigest(ctx, message); err != nil {
				logger.Warn("send failure digest", "error", err)
			}
		}
	}

	if p.archive != nil {
		key, err := p.archive.StoreReport(ctx, report)
		if err != nil {
			logger.Warn("archive run report", "error", err)
			return
		}
		logger.Debug("run report archived", "key", key)
	}
}

func (p *Pipeline) unlock(key, token string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.locker.Unlock(ctx, key, token); err != nil {
		logger.Warn("release lock", "key", key, "error", err)
	}
}

// dedupeEntries keeps the first occurrence of every encounter id.
func dedupeEntries(entries []domain.FeedEntry) []domain.FeedEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.FeedEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.EncounterID != "" {
			if _, dup := seen[entry.EncounterID]; dup {
				continue
			}
			seen[entry.EncounterID] = struct{}{}
		}
		out = append(out, entry)
	}
	return out
}

func buildDigestMessage(report domain.RunReport) string {
	failures := report.Failures()
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FeeSync run %s: %d of %d encounters failed\n\n", report.RunID, len(failures), report.Entries)
	for i, res := range failures {
		if i == maxDigestFailures {
			fmt.Fprintf(&b, "... and %d more\n", len(failures)-maxDigestFailures)
			break
		}
		message, cut := textutil.Truncate(res.Message, maxDigestMsgLength)
		if cut {
			message += "..."
		}
		fmt.Fprintf(&b, "- %s (%s)\n%s\n\n", res.EncounterID, res.State, message)
	}
	return b.String()
}
