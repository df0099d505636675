package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransferService manages two-phase warehouse-to-warehouse stock moves.
// Creating a transfer is a request only; stock moves at completion, in one
// atomic unit that re-validates source availability, applies both quantity
// changes, and writes the paired OUT/IN audit rows.
type TransferService interface {
	CreateStockTransfer(ctx context.Context, input TransferInput) (*StockTransfer, error)
	// DispatchStockTransfer marks a PENDING transfer IN_TRANSIT.
	DispatchStockTransfer(ctx context.Context, id int) (*StockTransfer, error)
	// CancelStockTransfer cancels a transfer that has not completed yet.
	CancelStockTransfer(ctx context.Context, id int) (*StockTransfer, error)
	CompleteStockTransfer(ctx context.Context, id int, completedBy string) (*StockTransfer, error)
	GetStockTransfer(ctx context.Context, id int) (*StockTransfer, error)
	GetStockTransfers(ctx context.Context, filter TransferFilter, page, limit int) (*TransferPage, error)
}

// TransferInput carries the fields for CreateStockTransfer.
type TransferInput struct {
	FromWarehouseID int             `json:"from_warehouse_id"`
	ToWarehouseID   int             `json:"to_warehouse_id"`
	ProductID       int             `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	RequestedBy     string          `json:"requested_by"`
	Notes           string          `json:"notes,omitempty"`
}

type transferService struct {
	pool *pgxpool.Pool
}

func NewTransferService(pool *pgxpool.Pool) TransferService {
	return &transferService{pool: pool}
}

const transferColumns = `id, from_warehouse_id, to_warehouse_id, product_id, quantity, status,
	requested_by, notes, completed_by, completed_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (*StockTransfer, error) {
	var t StockTransfer
	err := row.Scan(&t.ID, &t.FromWarehouseID, &t.ToWarehouseID, &t.ProductID,
		&t.Quantity, &t.Status, &t.RequestedBy, &t.Notes, &t.CompletedBy,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *transferService) CreateStockTransfer(ctx context.Context, input TransferInput) (*StockTransfer, error) {
	if input.FromWarehouseID == input.ToWarehouseID {
		return nil, ErrSameWarehouse
	}
	if input.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("transfer quantity must be positive, got %s", input.Quantity)
	}
	if input.RequestedBy == "" {
		return nil, fmt.Errorf("requested_by is required")
	}

	for _, whID := range []int{input.FromWarehouseID, input.ToWarehouseID} {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, whID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check warehouse: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("warehouse %d: %w", whID, ErrNotFound)
		}
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, input.ProductID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("product %d: %w", input.ProductID, ErrNotFound)
	}

	// Request-phase availability check. Completion re-validates under lock,
	// so a plain read is enough here.
	available, err := s.sourceAvailable(ctx, s.pool, input.FromWarehouseID, input.ProductID)
	if err != nil {
		return nil, err
	}
	if available.LessThan(input.Quantity) {
		return nil, &InsufficientStockError{ProductID: input.ProductID, Available: available, Requested: input.Quantity}
	}

	t, err := scanTransfer(s.pool.QueryRow(ctx, `
		INSERT INTO stock_transfers (from_warehouse_id, to_warehouse_id, product_id, quantity, status, requested_by, notes)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6)
		RETURNING `+transferColumns,
		input.FromWarehouseID, input.ToWarehouseID, input.ProductID,
		input.Quantity, input.RequestedBy, input.Notes))
	if err != nil {
		return nil, fmt.Errorf("failed to create stock transfer: %w", err)
	}
	return t, nil
}

// sourceAvailable returns on-hand minus active holds at the source location,
// or zero when no location exists.
func (s *transferService) sourceAvailable(ctx context.Context, q pgxQuerier, warehouseID, productID int) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT il.quantity - COALESCE((
			SELECT SUM(r.quantity) FROM stock_reservations r
			WHERE r.location_id = il.id AND r.status = 'ACTIVE' AND r.expires_at > NOW()
		), 0)
		FROM inventory_locations il
		WHERE il.warehouse_id = $1 AND il.product_id = $2
	`, warehouseID, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute source availability: %w", err)
	}
	return available, nil
}

func (s *transferService) DispatchStockTransfer(ctx context.Context, id int) (*StockTransfer, error) {
	return s.transition(ctx, id, TransferInTransit, []TransferStatus{TransferPending})
}

func (s *transferService) CancelStockTransfer(ctx context.Context, id int) (*StockTransfer, error) {
	return s.transition(ctx, id, TransferCancelled, []TransferStatus{TransferPending, TransferInTransit})
}

// transition applies a status-guarded update; stock is untouched.
func (s *transferService) transition(ctx context.Context, id int, to TransferStatus, from []TransferStatus) (*StockTransfer, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	t, err := scanTransfer(s.pool.QueryRow(ctx, `
		UPDATE stock_transfers SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+transferColumns, id, to, allowed))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update transfer %d: %w", id, err)
	}

	// Guarded update matched nothing: missing row or wrong state.
	current, getErr := s.GetStockTransfer(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &InvalidStateError{Entity: "transfer", ID: id, Status: string(current.Status), Allowed: joinStatuses(allowed)}
}

func joinStatuses(statuses []string) string {
	out := ""
	for i, st := range statuses {
		if i > 0 {
			out += " or "
		}
		out += st
	}
	return out
}

func (s *transferService) CompleteStockTransfer(ctx context.Context, id int, completedBy string) (*StockTransfer, error) {
	if completedBy == "" {
		return nil, fmt.Errorf("completed_by is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTransfer(tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transfer %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock transfer %d: %w", id, err)
	}
	if t.Status != TransferPending && t.Status != TransferInTransit {
		return nil, &InvalidStateError{Entity: "transfer", ID: id, Status: string(t.Status),
			Allowed: string(TransferPending) + " or " + string(TransferInTransit)}
	}

	var sourceID int
	err = tx.QueryRow(ctx, `
		SELECT id FROM inventory_locations WHERE warehouse_id = $1 AND product_id = $2
	`, t.FromWarehouseID, t.ProductID).Scan(&sourceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &InsufficientStockError{ProductID: t.ProductID, Available: decimal.Zero, Requested: t.Quantity}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source location: %w", err)
	}

	// Create the destination location if it does not exist yet. DO NOTHING
	// leaves an existing row unlocked, so the FOR UPDATE pass below is the
	// only place row locks are taken and ascending id order holds.
	var destID int
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_locations (warehouse_id, product_id, quantity)
		VALUES ($1, $2, 0)
		ON CONFLICT (warehouse_id, product_id) DO NOTHING
		RETURNING id
	`, t.ToWarehouseID, t.ProductID).Scan(&destID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			SELECT id FROM inventory_locations WHERE warehouse_id = $1 AND product_id = $2
		`, t.ToWarehouseID, t.ProductID).Scan(&destID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination location: %w", err)
	}

	first, second := sourceID, destID
	if destID < sourceID {
		first, second = destID, sourceID
	}
	if _, err := lockLocation(ctx, tx, first); err != nil {
		return nil, err
	}
	if _, err := lockLocation(ctx, tx, second); err != nil {
		return nil, err
	}

	source, err := scanLocation(tx.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM inventory_locations WHERE id = $1`, sourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to re-read source location: %w", err)
	}
	reservedSum, err := activeReservedSum(ctx, tx, sourceID)
	if err != nil {
		return nil, err
	}
	available := source.Quantity.Sub(reservedSum)
	if available.LessThan(t.Quantity) {
		return nil, &InsufficientStockError{ProductID: t.ProductID, Available: available, Requested: t.Quantity}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations SET quantity = quantity - $1, updated_at = NOW() WHERE id = $2
	`, t.Quantity, sourceID); err != nil {
		return nil, fmt.Errorf("failed to decrement source quantity: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2
	`, t.Quantity, destID); err != nil {
		return nil, fmt.Errorf("failed to increment destination quantity: %w", err)
	}

	refType := "TRANSFER"
	refID := strconv.Itoa(t.ID)
	note := fmt.Sprintf("Transfer %d: warehouse %d → warehouse %d", t.ID, t.FromWarehouseID, t.ToWarehouseID)
	if _, err := insertMovement(ctx, tx, sourceID, t.ProductID, t.Quantity.Neg(),
		MovementOut, &refType, &refID, &completedBy, note); err != nil {
		return nil, err
	}
	if _, err := insertMovement(ctx, tx, destID, t.ProductID, t.Quantity,
		MovementIn, &refType, &refID, &completedBy, note); err != nil {
		return nil, err
	}

	t, err = scanTransfer(tx.QueryRow(ctx, `
		UPDATE stock_transfers
		SET status = 'COMPLETED', completed_by = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+transferColumns, id, completedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to mark transfer completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer completion: %w", err)
	}
	return t, nil
}

func (s *transferService) GetStockTransfer(ctx context.Context, id int) (*StockTransfer, error) {
	t, err := scanTransfer(s.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transfer %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transfer: %w", err)
	}
	return t, nil
}

func (s *transferService) GetStockTransfers(ctx context.Context, filter TransferFilter, page, limit int) (*TransferPage, error) {
	page, limit = normalizePage(page, limit)

	var status *string
	if filter.Status != nil {
		st := string(*filter.Status)
		status = &st
	}
	where := ` WHERE ($1::int IS NULL OR from_warehouse_id = $1 OR to_warehouse_id = $1)
		AND ($2::int IS NULL OR product_id = $2)
		AND ($3::text IS NULL OR status = $3)`
	args := []any{filter.WarehouseID, filter.ProductID, status}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_transfers`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count stock transfers: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM stock_transfers`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock transfers: %w", err)
	}
	defer rows.Close()

	result := &TransferPage{Pagination: paginate(page, limit, total)}
	for rows.Next() {
		var t StockTransfer
		if err := rows.Scan(&t.ID, &t.FromWarehouseID, &t.ToWarehouseID, &t.ProductID,
			&t.Quantity, &t.Status, &t.RequestedBy, &t.Notes, &t.CompletedBy,
			&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock transfer: %w", err)
		}
		result.Transfers = append(result.Transfers, t)
	}
	return result, rows.Err()
}
