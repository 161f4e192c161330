package lots

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var nowFunc = time.Now

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetLot(ctx context.Context, lotID int64) (Lot, error)
	ListByProduct(ctx context.Context, productID int64, filter ListFilter) ([]Lot, error)
	Available(ctx context.Context, productID int64) (decimal.Decimal, StockMode, error)
}

// Reactivator flips a product out of its spoiled state once stock returns.
// Wired to the spoilage tracker; called best-effort after lot creation.
type Reactivator interface {
	ReactivateIfStocked(ctx context.Context, productID int64) (bool, error)
}

// Service exposes the lot ledger.
type Service struct {
	repo        RepositoryPort
	reactivator Reactivator
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewService constructs the ledger service. reactivator may be nil.
func NewService(repo RepositoryPort, reactivator Reactivator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		reactivator: reactivator,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create registers a new lot and refreshes the owning product's projection.
func (s *Service) Create(ctx context.Context, in CreateInput) (Lot, error) {
	if err := s.validate.Struct(in); err != nil {
		return Lot{}, err
	}
	var lot Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lot, err = CreateInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	s.reactivate(ctx, in.ProductID)
	return lot, nil
}

// Consume takes qty from the product's stock in FIFO order. Availability is
// checked twice: here before the transaction for a fast rejection, and again
// under row locks inside ConsumeInTx.
func (s *Service) Consume(ctx context.Context, productID int64, qty decimal.Decimal) ([]LotTake, error) {
	if qty.LessThan(MinQty) {
		return nil, ErrInvalidQuantity
	}
	available, _, err := s.repo.Available(ctx, productID)
	if err != nil {
		return nil, err
	}
	if available.LessThan(qty) {
		return nil, ErrInsufficientStock
	}

	var takes []LotTake
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		takes, err = ConsumeInTx(ctx, tx, productID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return takes, nil
}

// ReduceSpecific removes qty from one lot, clamping oversized requests.
func (s *Service) ReduceSpecific(ctx context.Context, lotID int64, qty decimal.Decimal) (ReduceOutcome, error) {
	var out ReduceOutcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = ReduceSpecificInTx(ctx, tx, lotID, qty)
		return err
	})
	if err != nil {
		return ReduceOutcome{}, err
	}
	if out.Clamped {
		s.logger.Warn("lot reduction clamped to available quantity",
			slog.Int64("lot_id", out.LotID),
			slog.String("requested", out.Requested.String()),
			slog.String("applied", out.Applied.String()))
	}
	return out, nil
}

// Recompute rebuilds the product projection from its lots. Exposed as a
// self-healing entry point for rows that drifted.
func (s *Service) Recompute(ctx context.Context, productID int64) (Projection, error) {
	var proj Projection
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		proj, err = RecomputeInTx(ctx, tx, productID)
		return err
	})
	if err != nil {
		return Projection{}, err
	}
	return proj, nil
}

// Get fetches a lot by id.
func (s *Service) Get(ctx context.Context, lotID int64) (Lot, error) {
	return s.repo.GetLot(ctx, lotID)
}

// ListByProduct lists a product's lots in FIFO order.
func (s *Service) ListByProduct(ctx context.Context, productID int64, filter ListFilter) ([]Lot, error) {
	return s.repo.ListByProduct(ctx, productID, filter)
}

// Available reports how much stock a consume call could take right now.
func (s *Service) Available(ctx context.Context, productID int64) (decimal.Decimal, StockMode, error) {
	return s.repo.Available(ctx, productID)
}

func (s *Service) reactivate(ctx context.Context, productID int64) {
	if s.reactivator == nil {
		return
	}
	if _, err := s.reactivator.ReactivateIfStocked(ctx, productID); err != nil {
		s.logger.Warn("product reactivation failed",
			slog.Int64("product_id", productID),
			slog.Any("error", err))
	}
}
