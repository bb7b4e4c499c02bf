// Package service implements the transaction ledger: an append-only record
// of allocation-affecting events, each bound to a canonical fingerprint.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fiscus/internal/anchor"
	"fiscus/internal/integrity"
	ledgermetrics "fiscus/internal/ledger/metrics"
	"fiscus/internal/ledger/models"
	"fiscus/internal/ledger/store"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
	"fiscus/pkg/requestcontext"
)

// Store is the persistence contract the ledger service needs. Entries are
// append-only; only verification status and the anchor reference may change
// after creation.
type Store interface {
	Append(ctx context.Context, entry *models.Entry) error
	FindByID(ctx context.Context, id domain.EntryID) (*models.Entry, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Entry, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Entry, error)
	UpdateVerification(ctx context.Context, id domain.EntryID, status models.VerificationStatus) error
	SetAnchorRef(ctx context.Context, id domain.EntryID, ref anchor.Ref) error
}

// Config tunes the anomaly heuristic and the fingerprint algorithm.
type Config struct {
	// HighValueThreshold is the amount at which the anomaly score starts
	// rising. Zero disables the heuristic.
	HighValueThreshold decimal.Decimal
	// FlagScore is the score at or above which an entry is marked anomalous.
	FlagScore int
	// Algorithm selects the fingerprint digest; empty means keccak256.
	Algorithm integrity.Algorithm
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: decimal.NewFromInt(100_000),
		FlagScore:          75,
		Algorithm:          integrity.AlgorithmKeccak256,
	}
}

// Service is the transaction ledger.
type Service struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *ledgermetrics.Metrics
}

// Option configures optional service dependencies.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the ledger service.
func New(st Store, cfg Config, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("ledger store is required")
	}
	if cfg.FlagScore <= 0 {
		cfg.FlagScore = DefaultConfig().FlagScore
	}
	s := &Service{store: st, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AppendInput carries one allocation-affecting event.
type AppendInput struct {
	RequestID  domain.RequestID
	Department string
	Project    string
	VendorID   domain.VendorID
	Amount     decimal.Decimal
	Kind       models.EventKind
	Actor      domain.ActorID
	Note       string
}

// Append fingerprints the event's canonical projection and stores it.
// Replaying the same logical event reproduces the same fingerprint and is
// rejected with CodeConflict rather than duplicated.
func (s *Service) Append(ctx context.Context, input AppendInput) (*models.Entry, error) {
	start := time.Now()

	if err := s.validateAppend(input); err != nil {
		return nil, err
	}

	score := s.anomalyScore(input.Amount)
	entry := &models.Entry{
		ID:                 domain.EntryID(uuid.New()),
		RequestID:          input.RequestID,
		Department:         input.Department,
		Project:            input.Project,
		VendorID:           input.VendorID,
		Amount:             input.Amount,
		Kind:               input.Kind,
		Actor:              input.Actor,
		Note:               input.Note,
		// Microsecond precision so the projected timestamp survives a
		// TIMESTAMPTZ round trip and verification recomputes the same bytes.
		Timestamp:          requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		AnomalyScore:       score,
		IsAnomalous:        score >= s.cfg.FlagScore,
		VerificationStatus: models.VerificationPending,
	}

	fingerprint, err := integrity.Fingerprint(entry.CanonicalProjection(), s.cfg.Algorithm)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint event")
	}
	entry.Fingerprint = fingerprint

	if err := s.store.Append(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.AppendConflicts.Inc()
			}
			return nil, dErrors.New(dErrors.CodeConflict, "this exact event was already recorded")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append ledger entry")
	}

	if s.metrics != nil {
		s.metrics.EntriesAppended.WithLabelValues(string(entry.Kind)).Inc()
		if entry.IsAnomalous {
			s.metrics.AnomaliesFlagged.Inc()
		}
		s.metrics.ObserveAppend(start)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "ledger entry appended",
			"entry_id", entry.ID,
			"kind", entry.Kind,
			"fingerprint", entry.Fingerprint,
			"amount", entry.Amount,
			"anomalous", entry.IsAnomalous,
		)
	}
	return entry.Clone(), nil
}

// Verify recomputes the fingerprint from the stored projection and compares
// it to providedHash. The outcome is recorded as data (verified or tampered),
// never raised as an error: detecting tampering is a successful verification.
func (s *Service) Verify(ctx context.Context, id domain.EntryID, providedHash string) (*models.Entry, error) {
	if providedHash == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provided hash is required")
	}

	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translateLookup(err, "ledger entry")
	}

	recomputed, err := integrity.Fingerprint(entry.CanonicalProjection(), s.cfg.Algorithm)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "recompute fingerprint")
	}

	status := models.VerificationTampered
	if integrity.Compare(recomputed, providedHash) {
		status = models.VerificationVerified
	}

	if err := s.store.UpdateVerification(ctx, id, status); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record verification status")
	}

	if s.metrics != nil {
		s.metrics.VerifyOutcomes.WithLabelValues(string(status)).Inc()
	}
	if status == models.VerificationTampered && s.logger != nil {
		s.logger.WarnContext(ctx, "ledger entry failed verification",
			"entry_id", id,
			"stored_fingerprint", entry.Fingerprint,
			"recomputed", recomputed,
			"provided", integrity.Normalize(providedHash),
		)
	}

	entry.VerificationStatus = status
	return entry, nil
}

// AttachAnchor stores an anchor reference on the entry. References are
// write-once; the ledger never invents one itself.
func (s *Service) AttachAnchor(ctx context.Context, id domain.EntryID, ref anchor.Ref) error {
	if err := s.store.SetAnchorRef(ctx, id, ref); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "ledger entry not found")
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "anchor reference already set")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "attach anchor reference")
	}
	return nil
}

// Get returns one entry by ID.
func (s *Service) Get(ctx context.Context, id domain.EntryID) (*models.Entry, error) {
	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translateLookup(err, "ledger entry")
	}
	return entry, nil
}

// List returns entries matching the filter in timestamp order.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.Entry, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list ledger entries")
	}
	return entries, nil
}

func (s *Service) validateAppend(input AppendInput) error {
	if !input.Kind.Valid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown event kind %q", input.Kind)
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	// Finer than the stored scale would be silently rounded and could never
	// reproduce its own fingerprint.
	if !input.Amount.Equal(input.Amount.Truncate(4)) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount precision is limited to 4 decimal places")
	}
	if input.Department == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "department is required")
	}
	if input.Actor.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "actor is required")
	}
	return nil
}

// anomalyScore rises with the ratio of amount to the high-value threshold:
// 50 at the threshold, +10 per additional multiple, capped at 100.
func (s *Service) anomalyScore(amount decimal.Decimal) int {
	if s.cfg.HighValueThreshold.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if amount.LessThan(s.cfg.HighValueThreshold) {
		return 0
	}

	ratio := amount.Div(s.cfg.HighValueThreshold)
	score := decimal.NewFromInt(50).Add(ratio.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(10)))
	if score.GreaterThan(decimal.NewFromInt(100)) {
		return 100
	}
	return int(score.IntPart())
}

func translateLookup(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "%s not found", what)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "lookup "+what)
}
