package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReservationService manages time-bounded holds on inventory locations.
//
// Every transition runs in a single transaction with the location row locked,
// so the cached reserved counter and the reservation rows can never be
// observed out of sync. The availability check in ReserveStock recomputes the
// held sum from reservation rows while holding the row lock; two concurrent
// reservations against the same location serialize on that lock and cannot
// jointly oversell.
type ReservationService interface {
	ReserveStock(ctx context.Context, input ReservationInput) (*StockReservation, error)
	ConfirmReservation(ctx context.Context, id int, orderID string) (*StockReservation, error)
	CancelReservation(ctx context.Context, id int) (*StockReservation, error)
	GetReservation(ctx context.Context, id int) (*StockReservation, error)

	// CleanupExpiredReservations sweeps ACTIVE reservations past their expiry
	// to EXPIRED and releases their hold. Idempotent per reservation; meant
	// to run on a recurring timer.
	CleanupExpiredReservations(ctx context.Context) (int, error)

	// ReconcileReservedCounters recomputes every location's reserved counter
	// from its ACTIVE, non-expired reservation rows and repairs drift.
	// Returns the number of corrected locations.
	ReconcileReservedCounters(ctx context.Context) (int, error)
}

// ReservationInput carries the fields for ReserveStock. ExpiresAt nil means
// now + DefaultReservationTTL.
type ReservationInput struct {
	LocationID int             `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderID    *string         `json:"order_id,omitempty"`
	CartID     *string         `json:"cart_id,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

type reservationService struct {
	pool *pgxpool.Pool
}

func NewReservationService(pool *pgxpool.Pool) ReservationService {
	return &reservationService{pool: pool}
}

const reservationColumns = `id, location_id, quantity, status, order_id, cart_id, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (*StockReservation, error) {
	var r StockReservation
	err := row.Scan(&r.ID, &r.LocationID, &r.Quantity, &r.Status, &r.OrderID,
		&r.CartID, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *reservationService) ReserveStock(ctx context.Context, input ReservationInput) (*StockReservation, error) {
	if input.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %s", input.Quantity)
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

	reservedSum, err := activeReservedSum(ctx, tx, loc.ID)
	if err != nil {
		return nil, err
	}
	available := loc.Quantity.Sub(reservedSum)
	if available.LessThan(input.Quantity) {
		return nil, &InsufficientStockError{ProductID: loc.ProductID, Available: available, Requested: input.Quantity}
	}

	expiresAt := time.Now().Add(DefaultReservationTTL)
	if input.ExpiresAt != nil {
		expiresAt = *input.ExpiresAt
	}

	res, err := scanReservation(tx.QueryRow(ctx, `
		INSERT INTO stock_reservations (location_id, quantity, status, order_id, cart_id, expires_at)
		VALUES ($1, $2, 'ACTIVE', $3, $4, $5)
		RETURNING `+reservationColumns,
		loc.ID, input.Quantity, input.OrderID, input.CartID, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	// Re-anchor the cached counter to the authoritative sum while the row
	// lock is held; any drift disappears here instead of compounding.
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations SET reserved = $1, updated_at = NOW() WHERE id = $2
	`, reservedSum.Add(input.Quantity), loc.ID); err != nil {
		return nil, fmt.Errorf("failed to update reserved counter: %w", err)
	}

	refID := strconv.Itoa(res.ID)
	refType := "RESERVATION"
	if _, err := insertMovement(ctx, tx, loc.ID, loc.ProductID, input.Quantity,
		MovementReserve, &refType, &refID, nil,
		fmt.Sprintf("Stock reserved: %s units held on location %d", input.Quantity.String(), loc.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return res, nil
}

// lockReservation fetches a reservation with FOR UPDATE.
func lockReservation(ctx context.Context, tx pgx.Tx, id int) (*StockReservation, error) {
	res, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock reservation %d: %w", id, err)
	}
	return res, nil
}

func (s *reservationService) ConfirmReservation(ctx context.Context, id int, orderID string) (*StockReservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := lockReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != ReservationActive {
		return nil, &InvalidStateError{Entity: "reservation", ID: id, Status: string(res.Status), Allowed: string(ReservationActive)}
	}

	loc, err := lockLocation(ctx, tx, res.LocationID)
	if err != nil {
		return nil, err
	}

	// Hold becomes a real decrement: quantity and reserved drop together,
	// available is unchanged.
	res, err = scanReservation(tx.QueryRow(ctx, `
		UPDATE stock_reservations
		SET status = 'CONFIRMED', order_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+reservationColumns, id, orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to confirm reservation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations
		SET quantity = quantity - $1, reserved = reserved - $1, updated_at = NOW()
		WHERE id = $2
	`, res.Quantity, loc.ID); err != nil {
		return nil, fmt.Errorf("failed to apply confirmed reservation to location: %w", err)
	}

	refType := "ORDER"
	if _, err := insertMovement(ctx, tx, loc.ID, loc.ProductID, res.Quantity.Neg(),
		MovementOut, &refType, &orderID, nil,
		fmt.Sprintf("Reservation %d confirmed for order %s", id, orderID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return res, nil
}

func (s *reservationService) CancelReservation(ctx context.Context, id int) (*StockReservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := lockReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != ReservationActive {
		return nil, &InvalidStateError{Entity: "reservation", ID: id, Status: string(res.Status), Allowed: string(ReservationActive)}
	}

	loc, err := lockLocation(ctx, tx, res.LocationID)
	if err != nil {
		return nil, err
	}

	res, err = scanReservation(tx.QueryRow(ctx, `
		UPDATE stock_reservations
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1
		RETURNING `+reservationColumns, id))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations SET reserved = reserved - $1, updated_at = NOW() WHERE id = $2
	`, res.Quantity, loc.ID); err != nil {
		return nil, fmt.Errorf("failed to release reserved counter: %w", err)
	}

	refID := strconv.Itoa(id)
	refType := "RESERVATION"
	if _, err := insertMovement(ctx, tx, loc.ID, loc.ProductID, res.Quantity,
		MovementRelease, &refType, &refID, nil,
		fmt.Sprintf("Reservation %d cancelled, %s units released", id, res.Quantity.String())); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return res, nil
}

func (s *reservationService) GetReservation(ctx context.Context, id int) (*StockReservation, error) {
	res, err := scanReservation(s.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch reservation: %w", err)
	}
	return res, nil
}

func (s *reservationService) CleanupExpiredReservations(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM stock_reservations
		WHERE status = 'ACTIVE' AND expires_at < NOW()
		ORDER BY id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating expired reservations: %w", err)
	}

	cleaned := 0
	for _, id := range ids {
		swept, err := s.sweepOne(ctx, id)
		if err != nil {
			return cleaned, err
		}
		if swept {
			cleaned++
		}
	}
	return cleaned, nil
}

// sweepOne expires a single reservation in its own transaction. The
// status-guarded update makes the sweep idempotent and lets a racing
// confirm/cancel win by precondition: if the row is no longer ACTIVE or no
// longer expired, nothing happens.
func (s *reservationService) sweepOne(ctx context.Context, id int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin sweep transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := scanReservation(tx.QueryRow(ctx, `
		UPDATE stock_reservations
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND expires_at < NOW()
		RETURNING `+reservationColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil // lost the race to a confirm/cancel
		}
		return false, fmt.Errorf("failed to expire reservation %d: %w", id, err)
	}

	loc, err := lockLocation(ctx, tx, res.LocationID)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_locations SET reserved = reserved - $1, updated_at = NOW() WHERE id = $2
	`, res.Quantity, loc.ID); err != nil {
		return false, fmt.Errorf("failed to release expired hold: %w", err)
	}

	refID := strconv.Itoa(id)
	refType := "RESERVATION"
	if _, err := insertMovement(ctx, tx, loc.ID, loc.ProductID, res.Quantity,
		MovementRelease, &refType, &refID, nil,
		fmt.Sprintf("Reservation %d expired, %s units released", id, res.Quantity.String())); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit sweep of reservation %d: %w", id, err)
	}
	return true, nil
}

func (s *reservationService) ReconcileReservedCounters(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory_locations il
		SET reserved = sub.actual, updated_at = NOW()
		FROM (
			SELECT il2.id,
			       COALESCE(SUM(r.quantity) FILTER (
			           WHERE r.status = 'ACTIVE' AND r.expires_at > NOW()
			       ), 0) AS actual
			FROM inventory_locations il2
			LEFT JOIN stock_reservations r ON r.location_id = il2.id
			GROUP BY il2.id
		) sub
		WHERE sub.id = il.id AND il.reserved <> sub.actual
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile reserved counters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
