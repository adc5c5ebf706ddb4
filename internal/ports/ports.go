package ports

import (
	"context"
	"time"

	"FeeSync/internal/domain"
)

// FeedSource lists the encounters recently reported by the source system.
type FeedSource interface {
	FetchRecentEntries(ctx context.Context) ([]domain.FeedEntry, error)
}

// EncounterSource retrieves the full detail document behind a feed entry.
type EncounterSource interface {
	FetchDetail(ctx context.Context, entry domain.FeedEntry) (domain.EncounterDetail, error)
}

// BillingLedger is the destination order/billing system.
// Find* methods return nil without error when nothing matches.
type BillingLedger interface {
	FindCustomer(ctx context.Context, ref string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, ref string) (domain.Customer, error)
	FindProduct(ctx context.Context, key string) (*domain.Product, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error)
}

// SyncLedger persists one append-only outcome record per processed encounter.
type SyncLedger interface {
	// Exists reports whether a record for encounterID exists; an empty status matches any outcome.
	Exists(ctx context.Context, encounterID string, status domain.OutcomeStatus) (bool, error)
	// ProcessedSet returns the subset of ids that have a record matching status.
	ProcessedSet(ctx context.Context, ids []string, status domain.OutcomeStatus) (map[string]bool, error)
	// Append stores rec; a second success for the same encounter yields domain.ErrDuplicateSuccess.
	Append(ctx context.Context, rec domain.SyncOutcomeRecord) error
	History(ctx context.Context, encounterID string) ([]domain.SyncOutcomeRecord, error)
}

// Locker provides non-blocking, owner-checked locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// OutcomePublisher streams appended outcome records to downstream consumers.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, rec domain.SyncOutcomeRecord) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// ReportArchive keeps run reports for later inspection.
type ReportArchive interface {
	StoreReport(ctx context.Context, report domain.RunReport) (string, error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
