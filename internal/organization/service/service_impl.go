package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/organization/domain"
	"github.com/smallbiznis/settlement/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &service{
		log:   p.Log.Named("organization.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country != "" && len(country) != 2 {
		return nil, domain.ErrInvalidCountry
	}

	now := s.clock.Now().UTC()
	org := domain.Organization{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         slug.Make(name),
		BillingEmail: strings.TrimSpace(req.BillingEmail),
		CountryCode:  country,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, org); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrOrganizationExists
		}
		return nil, err
	}

	s.log.Info("organization created", zap.String("org_id", org.ID.String()), zap.String("slug", org.Slug))
	return &org, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return org, nil
}
