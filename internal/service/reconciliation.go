package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var reconTracer = otel.Tracer("service/reconciliation")

// ReconciliationService drives batch matching of imported transactions
// against expected occurrences and the accept/reject workflow.
//
// Match states: Pending and AutoMatched are open; Accepted and Rejected are
// terminal. AutoMatched still awaits confirmation, so only Accepted links the
// transaction to the series.
type ReconciliationService struct {
	stores    port.Stores
	projector *RecurringInstanceProjector
	matcher   *TransactionMatcher
	now       port.Clock
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewReconciliationService creates the orchestrator. A nil clock means time.Now.
func NewReconciliationService(stores port.Stores, projector *RecurringInstanceProjector, matcher *TransactionMatcher, now port.Clock, metrics *observability.Metrics, logger *zap.Logger) *ReconciliationService {
	if now == nil {
		now = time.Now
	}
	return &ReconciliationService{
		stores:    stores,
		projector: projector,
		matcher:   matcher,
		now:       now,
		metrics:   metrics,
		logger:    logger,
	}
}

// FindMatches scores each transaction against the active series' occurrences
// in [start, end] and records a match for every result not already recorded.
// Results at or above the auto-match threshold are stored AutoMatched, the
// rest Pending. All new matches are committed together.
func (r *ReconciliationService) FindMatches(ctx context.Context, transactionIDs []string, start, end domain.Date) (*domain.FindMatchesResult, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.FindMatches")
	defer span.End()
	span.SetAttributes(attribute.Int("transactions.count", len(transactionIDs)))
	ctx = r.stores.UnitOfWork.Begin(ctx)
	began := time.Now()
	defer func() { r.metrics.RecordOperation("find_matches", time.Since(began)) }()

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not be before start"}
	}

	series, err := r.stores.Series.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active series: %w", err)
	}
	calendar, err := r.projector.GetInstancesByDateRange(ctx, series, start, end)
	if err != nil {
		return nil, err
	}
	candidates := calendar.Flatten()
	scopes := make(map[string]string, len(series))
	for _, s := range series {
		scopes[s.ID] = s.Scope
	}

	result := &domain.FindMatchesResult{
		ByTransaction: make(map[string]domain.TransactionMatchCount),
		Created:       []domain.ReconciliationMatch{},
	}
	staged := make(map[string]bool)
	now := r.now()

	for _, id := range transactionIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx, err := r.stores.Transactions.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load transaction %s: %w", id, err)
		}
		if tx == nil || tx.IsRealizedFromRecurring() || tx.IsTransfer() {
			r.logger.Debug("transaction not eligible for matching", zap.String("transaction_id", id))
			r.metrics.IncrSkipped("find_matches")
			continue
		}

		counts := domain.TransactionMatchCount{}
		for _, res := range r.matcher.FindMatches(*tx, candidates) {
			counts.Total++
			if res.Level == domain.ConfidenceHigh {
				counts.HighConfidence++
			}

			key := domain.MatchKey(tx.ID, res.Instance.SeriesID, res.Instance.OriginalDate)
			if staged[key] {
				continue
			}
			exists, err := r.stores.Matches.Exists(ctx, tx.ID, res.Instance.SeriesID, res.Instance.OriginalDate)
			if err != nil {
				return nil, fmt.Errorf("check existing match: %w", err)
			}
			if exists {
				continue
			}

			match := domain.ReconciliationMatch{
				ID:                    uuid.NewString(),
				ImportedTransactionID: tx.ID,
				RecurringSeriesID:     res.Instance.SeriesID,
				InstanceDate:          res.Instance.OriginalDate,
				ConfidenceScore:       res.ConfidenceScore,
				DateDistanceDays:      res.DateDistanceDays,
				AmountDistance:        res.AmountDistance,
				DescriptionSimilarity: res.DescriptionSimilarity,
				Status:                domain.StatusForScore(res.ConfidenceScore),
				Scope:                 scopes[res.Instance.SeriesID],
				CreatedAt:             now,
			}
			if err := r.stores.Matches.AddIfAbsent(ctx, &match); err != nil {
				return nil, fmt.Errorf("stage match: %w", err)
			}
			staged[key] = true
			result.Created = append(result.Created, match)
		}

		result.ByTransaction[tx.ID] = counts
		result.TotalMatches += counts.Total
		result.HighConfidence += counts.HighConfidence
	}

	if len(result.Created) > 0 {
		if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
			return nil, fmt.Errorf("commit matches: %w", err)
		}
		for _, m := range result.Created {
			r.metrics.IncrMatchCreated(string(m.Status))
		}
	}

	r.logger.Info("find matches complete",
		zap.Int("transactions", len(transactionIDs)),
		zap.Int("matches_found", result.TotalMatches),
		zap.Int("matches_created", len(result.Created)),
		zap.Int("high_confidence", result.HighConfidence),
	)
	return result, nil
}

// AcceptMatch accepts an open match, links the transaction to the series
// occurrence and rejects the transaction's other open matches.
// A nil result means the match does not exist.
func (r *ReconciliationService) AcceptMatch(ctx context.Context, matchID string) (*domain.ReconciliationMatch, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.AcceptMatch")
	defer span.End()
	span.SetAttributes(attribute.String("match.id", matchID))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	match, err := r.stores.Matches.GetByID(ctx, matchID)
	if err != nil || match == nil {
		return nil, err
	}
	now := r.now()
	if err := match.Accept(now); err != nil {
		return nil, err
	}

	tx, err := r.linkableTransaction(ctx, match.ImportedTransactionID, match.RecurringSeriesID, match.InstanceDate)
	if err != nil {
		return nil, err
	}
	if err := r.link(ctx, tx, match, now); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}

	r.metrics.IncrMatchDecision("accept")
	r.logger.Info("match accepted",
		zap.String("match_id", match.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("series_id", match.RecurringSeriesID),
		zap.String("instance_date", match.InstanceDate.String()),
	)
	return match, nil
}

// RejectMatch rejects an open match. The transaction stays free to match
// other candidates. A nil result means the match does not exist.
func (r *ReconciliationService) RejectMatch(ctx context.Context, matchID string) (*domain.ReconciliationMatch, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.RejectMatch")
	defer span.End()
	span.SetAttributes(attribute.String("match.id", matchID))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	match, err := r.stores.Matches.GetByID(ctx, matchID)
	if err != nil || match == nil {
		return nil, err
	}
	if err := match.Reject(r.now()); err != nil {
		return nil, err
	}
	if err := r.stores.Matches.Update(ctx, match); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit reject: %w", err)
	}

	r.metrics.IncrMatchDecision("reject")
	r.logger.Info("match rejected", zap.String("match_id", match.ID))
	return match, nil
}

// CreateManualMatch records an Accepted match with confidence 1.0 without
// scoring, and links the transaction. An existing match for the same
// (transaction, series, date) is an *ErrDuplicate. A nil result means the
// transaction or series does not exist.
func (r *ReconciliationService) CreateManualMatch(ctx context.Context, transactionID, seriesID string, instanceDate domain.Date) (*domain.ReconciliationMatch, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.CreateManualMatch")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID), attribute.String("series.id", seriesID))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	series, err := r.stores.Series.GetByID(ctx, seriesID)
	if err != nil || series == nil {
		return nil, err
	}
	if !series.Pattern.OccursOn(instanceDate) {
		return nil, &domain.ErrValidation{Field: "instance_date", Message: fmt.Sprintf("series %s has no occurrence on %s", seriesID, instanceDate)}
	}
	exists, err := r.stores.Matches.Exists(ctx, transactionID, seriesID, instanceDate)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &domain.ErrDuplicate{Key: domain.MatchKey(transactionID, seriesID, instanceDate)}
	}

	if found, err := r.stores.Transactions.GetByID(ctx, transactionID); err != nil || found == nil {
		return nil, err
	}
	tx, err := r.linkableTransaction(ctx, transactionID, seriesID, instanceDate)
	if err != nil {
		return nil, err
	}

	days := tx.Date.DaysUntil(instanceDate)
	if days < 0 {
		days = -days
	}
	now := r.now()
	match := &domain.ReconciliationMatch{
		ID:                    uuid.NewString(),
		ImportedTransactionID: tx.ID,
		RecurringSeriesID:     series.ID,
		InstanceDate:          instanceDate,
		ConfidenceScore:       1.0,
		DateDistanceDays:      days,
		AmountDistance:        tx.Amount.Decimal().Sub(series.Amount.Decimal()).Abs(),
		DescriptionSimilarity: DescriptionSimilarity(tx.Description, series.Description),
		Status:                domain.MatchAccepted,
		Scope:                 series.Scope,
		CreatedAt:             now,
		ResolvedAt:            &now,
	}
	if err := r.stores.Matches.Add(ctx, match); err != nil {
		return nil, err
	}
	if err := r.link(ctx, tx, match, now); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit manual match: %w", err)
	}

	r.metrics.IncrMatchCreated(string(domain.MatchAccepted))
	r.logger.Info("manual match created",
		zap.String("match_id", match.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("series_id", series.ID),
	)
	return match, nil
}

// BulkAcceptMatches accepts each id independently. A failure on one id does
// not undo the ones already accepted.
func (r *ReconciliationService) BulkAcceptMatches(ctx context.Context, matchIDs []string) (*domain.BulkAcceptResult, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.BulkAcceptMatches")
	defer span.End()
	span.SetAttributes(attribute.Int("matches.count", len(matchIDs)))

	result := &domain.BulkAcceptResult{Accepted: []string{}, Failed: make(map[string]string)}
	for _, id := range matchIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		match, err := r.AcceptMatch(ctx, id)
		switch {
		case err != nil:
			r.logger.Warn("bulk accept failed for match", zap.String("match_id", id), zap.Error(err))
			result.Failed[id] = err.Error()
		case match == nil:
			result.NotFound = append(result.NotFound, id)
		default:
			result.Accepted = append(result.Accepted, id)
		}
	}
	return result, nil
}

// GetPendingMatches returns every open match, auto-matched included.
func (r *ReconciliationService) GetPendingMatches(ctx context.Context) ([]domain.ReconciliationMatch, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.GetPendingMatches")
	defer span.End()

	return r.stores.Matches.GetPendingMatches(ctx)
}

// GetReconciliationStatus classifies every expected occurrence of the month:
// Skipped, Matched (accepted match or realized entry), Pending (open match)
// or Missing.
func (r *ReconciliationService) GetReconciliationStatus(ctx context.Context, year int, month time.Month) (*domain.ReconciliationStatus, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.GetReconciliationStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("year", year), attribute.Int("month", int(month)))

	if month < time.January || month > time.December {
		return nil, &domain.ErrValidation{Field: "month", Message: "must be between 1 and 12"}
	}
	start, end := domain.MonthRange(year, month)

	series, err := r.stores.Series.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active series: %w", err)
	}
	// A modified occurrence can land in this month from a neighbouring one.
	matches, err := r.stores.Matches.GetByInstanceDateRange(ctx, start.AddDays(-domain.MaxRescheduleDays), end.AddDays(domain.MaxRescheduleDays))
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}

	best := make(map[string]domain.ReconciliationMatch)
	for _, m := range matches {
		key := m.RecurringSeriesID + "|" + m.InstanceDate.String()
		cur, ok := best[key]
		switch {
		case m.Status == domain.MatchRejected:
		case !ok:
			best[key] = m
		case m.Status == domain.MatchAccepted && cur.Status != domain.MatchAccepted:
			best[key] = m
		case m.Status == cur.Status && m.ConfidenceScore > cur.ConfidenceScore:
			best[key] = m
		}
	}

	status := &domain.ReconciliationStatus{Year: year, Month: month, Instances: []domain.ReconciliationInstance{}}
	for i := range series {
		s := &series[i]
		instances, err := r.projector.ProjectSeries(ctx, s, start, end, ProjectionOptions{IncludeRealized: true, IncludeSkipped: true})
		if err != nil {
			if isValidation(err) {
				r.logger.Warn("status skipped invalid series", zap.String("series_id", s.ID), zap.Error(err))
				continue
			}
			return nil, err
		}

		for _, inst := range instances {
			row := domain.ReconciliationInstance{
				SeriesID:       s.ID,
				Description:    inst.Description,
				AccountID:      inst.AccountID,
				InstanceDate:   inst.OriginalDate,
				ExpectedAmount: inst.Amount,
			}
			m, hasMatch := best[s.ID+"|"+inst.OriginalDate.String()]
			if hasMatch {
				row.MatchID = m.ID
				row.TransactionID = m.ImportedTransactionID
				row.Confidence = m.ConfidenceScore
			}

			switch {
			case inst.IsSkipped:
				row.Status = domain.InstanceSkipped
				status.SkippedCount++
			case hasMatch && m.Status == domain.MatchAccepted, inst.IsRealized:
				row.Status = domain.InstanceMatched
				status.MatchedCount++
			case hasMatch:
				row.Status = domain.InstancePending
				status.PendingCount++
			default:
				row.Status = domain.InstanceMissing
				status.MissingCount++
			}
			status.Instances = append(status.Instances, row)
		}
	}
	status.TotalExpected = len(status.Instances)
	return status, nil
}

// linkableTransaction loads the transaction a match would link and checks
// that it is not a transfer leg and that neither it nor the occurrence is
// already taken by another link.
func (r *ReconciliationService) linkableTransaction(ctx context.Context, transactionID, seriesID string, instanceDate domain.Date) (*domain.Transaction, error) {
	tx, err := r.stores.Transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &domain.ErrValidation{Field: "imported_transaction_id", Message: fmt.Sprintf("transaction %s does not exist", transactionID)}
	}
	if tx.IsTransfer() {
		return nil, &domain.ErrValidation{Field: "imported_transaction_id", Message: "transfer legs cannot be matched"}
	}
	if tx.IsRealizedFromRecurring() && (tx.RecurringSeriesID != seriesID || !tx.RecurringInstanceDate.Equal(instanceDate)) {
		return nil, &domain.ErrValidation{Field: "imported_transaction_id", Message: "transaction is already linked to another occurrence"}
	}
	other, err := r.stores.Transactions.GetByRecurringInstance(ctx, seriesID, instanceDate)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != tx.ID {
		return nil, &domain.ErrValidation{Field: "instance_date", Message: fmt.Sprintf("occurrence already realized by transaction %s", other.ID)}
	}
	return tx, nil
}

// link stamps the recurring link on tx, stages the accepted match and
// rejects the transaction's other open matches.
func (r *ReconciliationService) link(ctx context.Context, tx *domain.Transaction, accepted *domain.ReconciliationMatch, now time.Time) error {
	tx.LinkToSeries(accepted.RecurringSeriesID, accepted.InstanceDate)
	tx.UpdatedAt = now
	if err := r.stores.Transactions.Update(ctx, tx); err != nil {
		return err
	}
	if err := r.stores.Matches.Update(ctx, accepted); err != nil {
		return err
	}

	siblings, err := r.stores.Matches.GetByTransactionID(ctx, tx.ID)
	if err != nil {
		return err
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == accepted.ID || !sib.Status.IsOpen() {
			continue
		}
		if err := sib.Reject(now); err != nil {
			return err
		}
		if err := r.stores.Matches.Update(ctx, sib); err != nil {
			return err
		}
		r.metrics.IncrMatchDecision("reject")
	}
	return nil
}
