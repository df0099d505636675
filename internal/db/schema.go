package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the full DDL for the inventory core. Every statement is
// idempotent so Migrate can run on every startup and in test bootstrap.
const schema = `
CREATE TABLE IF NOT EXISTS warehouses (
	id            SERIAL PRIMARY KEY,
	code          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	address_line  TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	postal_code   TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
	id         SERIAL PRIMARY KEY,
	sku        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_locations (
	id                  SERIAL PRIMARY KEY,
	warehouse_id        INT NOT NULL REFERENCES warehouses(id),
	product_id          INT NOT NULL REFERENCES products(id),
	quantity            NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	reserved            NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (reserved >= 0),
	low_stock_threshold NUMERIC(14,4) NOT NULL DEFAULT 10,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (warehouse_id, product_id)
);

CREATE TABLE IF NOT EXISTS stock_reservations (
	id          SERIAL PRIMARY KEY,
	location_id INT NOT NULL REFERENCES inventory_locations(id),
	quantity    NUMERIC(14,4) NOT NULL CHECK (quantity > 0),
	status      TEXT NOT NULL DEFAULT 'ACTIVE',
	order_id    TEXT,
	cart_id     TEXT,
	expires_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stock_reservations_location_status
	ON stock_reservations (location_id, status);
CREATE INDEX IF NOT EXISTS idx_stock_reservations_expiry
	ON stock_reservations (status, expires_at);

CREATE TABLE IF NOT EXISTS stock_transfers (
	id                SERIAL PRIMARY KEY,
	from_warehouse_id INT NOT NULL REFERENCES warehouses(id),
	to_warehouse_id   INT NOT NULL REFERENCES warehouses(id),
	product_id        INT NOT NULL REFERENCES products(id),
	quantity          NUMERIC(14,4) NOT NULL CHECK (quantity > 0),
	status            TEXT NOT NULL DEFAULT 'PENDING',
	requested_by      TEXT NOT NULL,
	notes             TEXT NOT NULL DEFAULT '',
	completed_by      TEXT,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stock_transfers_status
	ON stock_transfers (status);

CREATE TABLE IF NOT EXISTS stock_movements (
	id             SERIAL PRIMARY KEY,
	location_id    INT NOT NULL REFERENCES inventory_locations(id),
	product_id     INT NOT NULL REFERENCES products(id),
	quantity       NUMERIC(14,4) NOT NULL,
	movement_type  TEXT NOT NULL,
	reference_type TEXT,
	reference_id   TEXT,
	performed_by   TEXT,
	notes          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stock_movements_location
	ON stock_movements (location_id, created_at);
CREATE INDEX IF NOT EXISTS idx_stock_movements_product
	ON stock_movements (product_id, created_at);

CREATE TABLE IF NOT EXISTS fulfillment_centers (
	id         SERIAL PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the schema. Safe to call repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
