package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Create(ctx context.Context, p Product) (int64, error)
	Update(ctx context.Context, id int64, in UpdateInput) error
	SoftDelete(ctx context.Context, id int64) error
	SetSpoilState(ctx context.Context, id int64, state SpoilState) error
	GetByID(ctx context.Context, id int64) (Product, error)
	FindByIdentity(ctx context.Context, name, brand string) (Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, error)
}

// AuditPort records catalog mutations, best-effort.
type AuditPort interface {
	RecordAction(ctx context.Context, action, entity string, entityID int64, meta map[string]any) error
}

// Service exposes catalog operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs the catalog service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		audit:    audit,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create registers a product, rejecting duplicates by folded name and brand.
func (s *Service) Create(ctx context.Context, in CreateInput) (Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return Product{}, err
	}
	if !in.SalePrice.IsPositive() {
		return Product{}, ErrInvalidPrice
	}
	if in.MinStock != nil && in.MaxStock != nil && in.MinStock.GreaterThan(*in.MaxStock) {
		return Product{}, ErrStockBounds
	}

	// The unique index catches races, but a lookup first gives callers a
	// clean error without burning a failed insert.
	if _, err := s.repo.FindByIdentity(ctx, in.Name, in.Brand); err == nil {
		return Product{}, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return Product{}, err
	}

	p := Product{
		Name:        in.Name,
		Brand:       in.Brand,
		Description: in.Description,
		Category:    in.Category,
		StockUnit:   in.StockUnit,
		SaleUnit:    in.SaleUnit,
		SalePrice:   in.SalePrice,
		Qty:         in.Qty,
		MinStock:    in.MinStock,
		MaxStock:    in.MaxStock,
		ExpiresOn:   in.ExpiresOn,
		MadeOn:      in.MadeOn,
		SpoilState:  SpoilActive,
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "product.create", id, map[string]any{"name": in.Name, "brand": in.Brand})
	return s.repo.GetByID(ctx, id)
}

// Update edits descriptive fields.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return Product{}, err
	}
	if !in.SalePrice.IsPositive() {
		return Product{}, ErrInvalidPrice
	}
	if in.MinStock != nil && in.MaxStock != nil && in.MinStock.GreaterThan(*in.MaxStock) {
		return Product{}, ErrStockBounds
	}
	if existing, err := s.repo.FindByIdentity(ctx, in.Name, in.Brand); err == nil && existing.ID != id {
		return Product{}, ErrDuplicate
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return Product{}, err
	}
	if err := s.repo.Update(ctx, id, in); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, "product.update", id, nil)
	return s.repo.GetByID(ctx, id)
}

// Delete soft-deletes a product.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "product.delete", id, nil)
	return nil
}

// Get fetches one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns products matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAction(ctx, action, "product", id, meta); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
