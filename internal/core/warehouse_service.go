package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WarehouseService manages the reference data the stock ledger hangs off:
// warehouses, the minimal product catalog mirror, and fulfillment centers.
type WarehouseService interface {
	CreateWarehouse(ctx context.Context, input WarehouseInput) (*Warehouse, error)
	GetWarehouse(ctx context.Context, id int) (*Warehouse, error)
	GetWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error)
	// SetWarehouseActive toggles routing eligibility. Inventory rows are
	// never touched.
	SetWarehouseActive(ctx context.Context, id int, active bool) (*Warehouse, error)

	CreateProduct(ctx context.Context, sku, name string) (*Product, error)
	GetProducts(ctx context.Context) ([]Product, error)

	GetFulfillmentCenters(ctx context.Context) ([]FulfillmentCenter, error)
}

type warehouseService struct {
	pool *pgxpool.Pool
}

func NewWarehouseService(pool *pgxpool.Pool) WarehouseService {
	return &warehouseService{pool: pool}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const warehouseColumns = `id, code, name, address_line, city, state, country, postal_code,
	latitude, longitude, is_active, created_at, updated_at`

func scanWarehouse(row pgx.Row) (*Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.AddressLine, &w.City, &w.State,
		&w.Country, &w.PostalCode, &w.Latitude, &w.Longitude, &w.IsActive,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *warehouseService) CreateWarehouse(ctx context.Context, input WarehouseInput) (*Warehouse, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, fmt.Errorf("warehouse name and code are required")
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	w, err := scanWarehouse(s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, address_line, city, state, country, postal_code, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+warehouseColumns,
		code, name, input.AddressLine, input.City, input.State, input.Country,
		input.PostalCode, input.Latitude, input.Longitude, active))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("warehouse code %s: %w", code, ErrDuplicateCode)
		}
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}
	return w, nil
}

func (s *warehouseService) GetWarehouse(ctx context.Context, id int) (*Warehouse, error) {
	w, err := scanWarehouse(s.pool.QueryRow(ctx,
		`SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch warehouse: %w", err)
	}
	return w, nil
}

func (s *warehouseService) GetWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error) {
	query := `SELECT ` + warehouseColumns + ` FROM warehouses`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY code`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.AddressLine, &w.City, &w.State,
			&w.Country, &w.PostalCode, &w.Latitude, &w.Longitude, &w.IsActive,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *warehouseService) SetWarehouseActive(ctx context.Context, id int, active bool) (*Warehouse, error) {
	w, err := scanWarehouse(s.pool.QueryRow(ctx, `
		UPDATE warehouses SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+warehouseColumns, id, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update warehouse: %w", err)
	}
	return w, nil
}

func (s *warehouseService) CreateProduct(ctx context.Context, sku, name string) (*Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("product sku and name are required")
	}

	var p Product
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (sku, name)
		VALUES ($1, $2)
		RETURNING id, sku, name, is_active, created_at
	`, sku, name).Scan(&p.ID, &p.SKU, &p.Name, &p.IsActive, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("product sku %s: %w", sku, ErrDuplicateCode)
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return &p, nil
}

func (s *warehouseService) GetProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, name, is_active, created_at FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *warehouseService) GetFulfillmentCenters(ctx context.Context) ([]FulfillmentCenter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, latitude, longitude, is_active
		FROM fulfillment_centers
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillment centers: %w", err)
	}
	defer rows.Close()

	var centers []FulfillmentCenter
	for rows.Next() {
		var fc FulfillmentCenter
		if err := rows.Scan(&fc.ID, &fc.Code, &fc.Name, &fc.Latitude, &fc.Longitude, &fc.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan fulfillment center: %w", err)
		}
		centers = append(centers, fc)
	}
	return centers, rows.Err()
}
