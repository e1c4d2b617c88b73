package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultHistoryLimit = 100

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    creditdomain.Repository
	Locker  creditdomain.OrgLocker
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    creditdomain.Repository
	locker  creditdomain.OrgLocker
	metrics *metrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("credit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

// Reserve holds amount credits against the organization's available balance. The
// balance check and the reserved line are written under the organization lock, so
// concurrent reservations can never overdraw.
func (s *Service) Reserve(ctx context.Context, req creditdomain.ReserveRequest) (snowflake.ID, error) {
	if req.OrgID == 0 {
		return 0, creditdomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return 0, creditdomain.ErrInvalidAmount
	}

	unlock, err := s.locker.Lock(ctx, req.OrgID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	reservation := &creditdomain.Transaction{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		Type:        creditdomain.TransactionReserved,
		Amount:      req.Amount,
		ServiceCode: strings.TrimSpace(req.ServiceCode),
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   s.clock.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockOrg(ctx, tx, req.OrgID); err != nil {
			return err
		}
		totals, err := s.repo.Totals(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		summary := creditdomain.NewSummary(req.OrgID, totals)
		if summary.Available < req.Amount {
			return &creditdomain.InsufficientCreditsError{Required: req.Amount, Available: summary.Available}
		}
		return s.repo.Insert(ctx, tx, reservation)
	})
	if err != nil {
		if errors.Is(err, creditdomain.ErrInsufficientCredits) {
			s.metrics.RecordInsufficientCredits(ctx, reservation.ServiceCode)
		}
		return 0, err
	}

	s.metrics.RecordCreditOperation(ctx, string(creditdomain.TransactionReserved), req.Amount)
	s.log.Debug("credits reserved",
		zap.String("org_id", req.OrgID.String()),
		zap.String("reservation_id", reservation.ID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("service_code", reservation.ServiceCode),
	)
	return reservation.ID, nil
}

func (s *Service) Confirm(ctx context.Context, orgID, reservationID snowflake.ID) error {
	return s.close(ctx, orgID, reservationID, creditdomain.TransactionConsumed)
}

func (s *Service) Release(ctx context.Context, orgID, reservationID snowflake.ID) error {
	return s.close(ctx, orgID, reservationID, creditdomain.TransactionReleased)
}

// close appends the line that ends a reservation. Repeating the same close is a
// no-op; closing the other way afterwards is ErrReservationClosed.
func (s *Service) close(ctx context.Context, orgID, reservationID snowflake.ID, kind creditdomain.TransactionType) error {
	reservation, err := s.repo.FindReservation(ctx, s.db, orgID, reservationID)
	if err != nil {
		return err
	}
	if reservation == nil {
		return creditdomain.ErrReservationNotFound
	}

	rid := reservation.ID
	line := &creditdomain.Transaction{
		ID:            s.genID.Generate(),
		OrgID:         reservation.OrgID,
		Type:          kind,
		Amount:        reservation.Amount,
		ServiceCode:   reservation.ServiceCode,
		ReferenceID:   reservation.ReferenceID,
		ReservationID: &rid,
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertUnique(ctx, s.db, line)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindClosing(ctx, s.db, rid)
		if err != nil {
			return err
		}
		if existing != nil && existing.Type == kind {
			return nil
		}
		return creditdomain.ErrReservationClosed
	}

	s.metrics.RecordCreditOperation(ctx, string(kind), reservation.Amount)
	return nil
}

func (s *Service) Balance(ctx context.Context, orgID snowflake.ID) (int64, error) {
	summary, err := s.Summary(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return summary.Available, nil
}

func (s *Service) Summary(ctx context.Context, orgID snowflake.ID) (*creditdomain.Summary, error) {
	if orgID == 0 {
		return nil, creditdomain.ErrInvalidOrganization
	}
	totals, err := s.repo.Totals(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	summary := creditdomain.NewSummary(orgID, totals)
	return &summary, nil
}

// Grant appends earned credits. With an idempotency key a repeated grant returns the
// original line and false.
func (s *Service) Grant(ctx context.Context, req creditdomain.GrantRequest) (*creditdomain.Transaction, bool, error) {
	if req.OrgID == 0 {
		return nil, false, creditdomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return nil, false, creditdomain.ErrInvalidAmount
	}

	line := &creditdomain.Transaction{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		Type:        creditdomain.TransactionEarned,
		Amount:      req.Amount,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   s.clock.Now().UTC(),
	}
	if line.Metadata == nil {
		line.Metadata = datatypes.JSONMap{}
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		if err := s.repo.Insert(ctx, s.db, line); err != nil {
			return nil, false, err
		}
		s.metrics.RecordCreditOperation(ctx, string(creditdomain.TransactionEarned), req.Amount)
		return line, true, nil
	}

	line.IdempotencyKey = &key
	inserted, err := s.repo.InsertUnique(ctx, s.db, line)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.metrics.RecordCreditOperation(ctx, string(creditdomain.TransactionEarned), req.Amount)
	s.log.Info("credits granted",
		zap.String("org_id", req.OrgID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("idempotency_key", key),
	)
	return line, true, nil
}

func (s *Service) HasGrant(ctx context.Context, idempotencyKey string) (bool, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return false, nil
	}
	return s.repo.ExistsByIdempotencyKey(ctx, s.db, key)
}

func (s *Service) History(ctx context.Context, orgID snowflake.ID, limit int) ([]creditdomain.Transaction, error) {
	if orgID == 0 {
		return nil, creditdomain.ErrInvalidOrganization
	}
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return s.repo.List(ctx, s.db, orgID, limit)
}

// ReleaseStale releases reservations whose operation never reported back, e.g.
// because the process crashed between Reserve and Confirm.
func (s *Service) ReleaseStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	open, err := s.repo.ListOpenReservations(ctx, s.db, olderThan, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, reservation := range open {
		err := s.Release(ctx, reservation.OrgID, reservation.ID)
		switch {
		case err == nil:
			released++
		case errors.Is(err, creditdomain.ErrReservationClosed):
		default:
			return released, err
		}
	}
	if released > 0 {
		s.log.Warn("released stale credit reservations", zap.Int("count", released))
	}
	return released, nil
}

var _ creditdomain.Service = (*Service)(nil)
