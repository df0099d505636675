package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryService manages inventory locations, the product-level stock view,
// low-stock alerting, and the append-only movement ledger.
type InventoryService interface {
	// UpsertInventoryLocation creates or replaces the quantity record for
	// (warehouse, product). Threshold is optional: nil keeps the existing
	// value (or the default on first insert).
	UpsertInventoryLocation(ctx context.Context, warehouseID, productID int,
		quantity decimal.Decimal, lowStockThreshold *decimal.Decimal) (*InventoryLocation, error)

	GetInventoryLocation(ctx context.Context, id int) (*InventoryLocation, error)
	GetProductInventory(ctx context.Context, productID int) (*ProductInventory, error)
	GetLowStockAlerts(ctx context.Context, warehouseID *int) ([]LowStockAlert, error)

	// RecordStockMovement validates the product against the location, applies
	// the signed on-hand delta, and writes the audit row in one transaction.
	RecordStockMovement(ctx context.Context, input MovementInput) (*StockMovement, error)
	GetStockMovements(ctx context.Context, filter MovementFilter, page, limit int) (*MovementPage, error)
}

// MovementInput carries the fields for RecordStockMovement. Quantity is the
// positive magnitude for IN/OUT/RESERVE/RELEASE and the signed delta for
// ADJUST.
type MovementInput struct {
	LocationID    int             `json:"location_id"`
	ProductID     int             `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Type          MovementType    `json:"movement_type"`
	ReferenceType *string         `json:"reference_type,omitempty"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	PerformedBy   *string         `json:"performed_by,omitempty"`
}

type inventoryService struct {
	pool *pgxpool.Pool
}

func NewInventoryService(pool *pgxpool.Pool) InventoryService {
	return &inventoryService{pool: pool}
}

const locationColumns = `id, warehouse_id, product_id, quantity, reserved, low_stock_threshold, created_at, updated_at`

func scanLocation(row pgx.Row) (*InventoryLocation, error) {
	var l InventoryLocation
	err := row.Scan(&l.ID, &l.WarehouseID, &l.ProductID, &l.Quantity, &l.Reserved,
		&l.LowStockThreshold, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// lockLocation fetches an inventory location with FOR UPDATE, holding the row
// lock for the remainder of the transaction.
func lockLocation(ctx context.Context, tx pgx.Tx, id int) (*InventoryLocation, error) {
	loc, err := scanLocation(tx.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM inventory_locations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("inventory location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock inventory location %d: %w", id, err)
	}
	return loc, nil
}

// activeReservedSum recomputes the authoritative held quantity for a location
// from its ACTIVE, non-expired reservation rows. Callers holding the location
// row lock get a race-free availability check.
func activeReservedSum(ctx context.Context, q pgxQuerier, locationID int) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_reservations
		WHERE location_id = $1 AND status = 'ACTIVE' AND expires_at > NOW()
	`, locationID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum active reservations for location %d: %w", locationID, err)
	}
	return sum, nil
}

// insertMovement appends an audit row within the caller's transaction.
func insertMovement(ctx context.Context, tx pgx.Tx, locationID, productID int,
	quantity decimal.Decimal, mtype MovementType,
	refType, refID, performedBy *string, notes string) (*StockMovement, error) {

	var m StockMovement
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_movements (location_id, product_id, quantity, movement_type, reference_type, reference_id, performed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, location_id, product_id, quantity, movement_type, reference_type, reference_id, performed_by, notes, created_at
	`, locationID, productID, quantity, mtype, refType, refID, performedBy, notes).Scan(
		&m.ID, &m.LocationID, &m.ProductID, &m.Quantity, &m.Type,
		&m.ReferenceType, &m.ReferenceID, &m.PerformedBy, &m.Notes, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return &m, nil
}

func (s *inventoryService) UpsertInventoryLocation(ctx context.Context, warehouseID, productID int,
	quantity decimal.Decimal, lowStockThreshold *decimal.Decimal) (*InventoryLocation, error) {

	if quantity.IsNegative() {
		return nil, fmt.Errorf("quantity cannot be negative, got %s", quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, warehouseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check warehouse: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("warehouse %d: %w", warehouseID, ErrNotFound)
	}
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	// Lock any existing row so the held-quantity check and the write are
	// atomic. Setting quantity below the reserved counter would make
	// available negative.
	var reserved decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT reserved FROM inventory_locations
		WHERE warehouse_id = $1 AND product_id = $2
		FOR UPDATE
	`, warehouseID, productID).Scan(&reserved)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock inventory location: %w", err)
	}
	if err == nil && quantity.LessThan(reserved) {
		return nil, &InsufficientStockError{ProductID: productID, Available: quantity, Requested: reserved}
	}

	loc, err := scanLocation(tx.QueryRow(ctx, `
		INSERT INTO inventory_locations (warehouse_id, product_id, quantity, low_stock_threshold)
		VALUES ($1, $2, $3, COALESCE($4::numeric, 10))
		ON CONFLICT (warehouse_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    low_stock_threshold = COALESCE($4::numeric, inventory_locations.low_stock_threshold),
		    updated_at = NOW()
		RETURNING `+locationColumns,
		warehouseID, productID, quantity, lowStockThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert inventory location: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit inventory upsert: %w", err)
	}
	return loc, nil
}

func (s *inventoryService) GetInventoryLocation(ctx context.Context, id int) (*InventoryLocation, error) {
	loc, err := scanLocation(s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM inventory_locations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("inventory location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch inventory location: %w", err)
	}
	return loc, nil
}

func (s *inventoryService) GetProductInventory(ctx context.Context, productID int) (*ProductInventory, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT il.id, il.warehouse_id, il.product_id, il.quantity, il.reserved,
		       il.low_stock_threshold, il.created_at, il.updated_at,
		       w.code, w.name, w.is_active
		FROM inventory_locations il
		JOIN warehouses w ON w.id = il.warehouse_id
		WHERE il.product_id = $1
		ORDER BY w.code
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query product inventory: %w", err)
	}
	defer rows.Close()

	inv := &ProductInventory{ProductID: productID}
	for rows.Next() {
		var pl ProductLocation
		if err := rows.Scan(&pl.ID, &pl.WarehouseID, &pl.ProductID, &pl.Quantity, &pl.Reserved,
			&pl.LowStockThreshold, &pl.CreatedAt, &pl.UpdatedAt,
			&pl.WarehouseCode, &pl.WarehouseName, &pl.WarehouseActive); err != nil {
			return nil, fmt.Errorf("failed to scan product location: %w", err)
		}
		pl.AvailableQty = pl.Available()
		inv.Locations = append(inv.Locations, pl)
		inv.TotalQuantity = inv.TotalQuantity.Add(pl.Quantity)
		inv.TotalReserved = inv.TotalReserved.Add(pl.Reserved)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product locations: %w", err)
	}
	inv.TotalAvailable = inv.TotalQuantity.Sub(inv.TotalReserved)
	return inv, nil
}

func (s *inventoryService) GetLowStockAlerts(ctx context.Context, warehouseID *int) ([]LowStockAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.code, w.name, p.id, p.name, p.sku,
		       il.quantity - il.reserved AS available, il.low_stock_threshold
		FROM inventory_locations il
		JOIN warehouses w ON w.id = il.warehouse_id
		JOIN products p   ON p.id = il.product_id
		WHERE il.quantity - il.reserved <= il.low_stock_threshold
		  AND ($1::int IS NULL OR w.id = $1)
		ORDER BY available, w.code, p.sku
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock alerts: %w", err)
	}
	defer rows.Close()

	var alerts []LowStockAlert
	for rows.Next() {
		var a LowStockAlert
		if err := rows.Scan(&a.WarehouseID, &a.WarehouseCode, &a.WarehouseName,
			&a.ProductID, &a.ProductName, &a.SKU, &a.CurrentStock, &a.Threshold); err != nil {
			return nil, fmt.Errorf("failed to scan low stock alert: %w", err)
		}
		if a.CurrentStock.Sign() <= 0 {
			a.Status = "OUT_OF_STOCK"
		} else {
			a.Status = "LOW_STOCK"
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *inventoryService) RecordStockMovement(ctx context.Context, input MovementInput) (*StockMovement, error) {
	if input.Quantity.IsZero() {
		return nil, fmt.Errorf("movement quantity cannot be zero")
	}
	switch input.Type {
	case MovementIn, MovementOut, MovementAdjust, MovementReserve, MovementRelease:
	default:
		return nil, fmt.Errorf("unknown movement type %q", input.Type)
	}
	if input.Type != MovementAdjust && input.Quantity.IsNegative() {
		return nil, fmt.Errorf("%s movement quantity must be positive, got %s", input.Type, input.Quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	loc, err := lockLocation(ctx, tx, input.LocationID)
	if err != nil {
		return nil, err
	}
	if loc.ProductID != input.ProductID {
		return nil, fmt.Errorf("product %d, location %d: %w", input.ProductID, input.LocationID, ErrProductMismatch)
	}

	// Signed on-hand delta; RESERVE/RELEASE never touch on-hand stock.
	var delta decimal.Decimal
	switch input.Type {
	case MovementIn:
		delta = input.Quantity
	case MovementOut:
		delta = input.Quantity.Neg()
	case MovementAdjust:
		delta = input.Quantity
	}

	if input.Type == MovementOut {
		reservedSum, err := activeReservedSum(ctx, tx, loc.ID)
		if err != nil {
			return nil, err
		}
		available := loc.Quantity.Sub(reservedSum)
		if available.LessThan(input.Quantity) {
			return nil, &InsufficientStockError{ProductID: loc.ProductID, Available: available, Requested: input.Quantity}
		}
	}

	if !delta.IsZero() {
		newQty := loc.Quantity.Add(delta)
		if newQty.IsNegative() {
			return nil, &InsufficientStockError{ProductID: loc.ProductID, Available: loc.Quantity, Requested: delta.Abs()}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE inventory_locations SET quantity = $1, updated_at = NOW() WHERE id = $2
		`, newQty, loc.ID); err != nil {
			return nil, fmt.Errorf("failed to update location quantity: %w", err)
		}
	}

	stored := delta
	if input.Type == MovementReserve || input.Type == MovementRelease {
		stored = input.Quantity
	}
	m, err := insertMovement(ctx, tx, loc.ID, loc.ProductID, stored, input.Type,
		input.ReferenceType, input.ReferenceID, input.PerformedBy, input.Notes)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock movement: %w", err)
	}
	return m, nil
}

func (s *inventoryService) GetStockMovements(ctx context.Context, filter MovementFilter, page, limit int) (*MovementPage, error) {
	page, limit = normalizePage(page, limit)

	var mtype *string
	if filter.Type != nil {
		t := string(*filter.Type)
		mtype = &t
	}
	where := ` WHERE ($1::int IS NULL OR location_id = $1)
		AND ($2::int IS NULL OR product_id = $2)
		AND ($3::text IS NULL OR movement_type = $3)`
	args := []any{filter.LocationID, filter.ProductID, mtype}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count stock movements: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, product_id, quantity, movement_type, reference_type, reference_id, performed_by, notes, created_at
		FROM stock_movements`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	result := &MovementPage{Pagination: paginate(page, limit, total)}
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.LocationID, &m.ProductID, &m.Quantity, &m.Type,
			&m.ReferenceType, &m.ReferenceID, &m.PerformedBy, &m.Notes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		result.Movements = append(result.Movements, m)
	}
	return result, rows.Err()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func paginate(page, limit, total int) Pagination {
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
