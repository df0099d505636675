package core_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"fulfillment-core/internal/core"
	"fulfillment-core/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set - skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := db.NewPoolFromURL(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_movements, stock_reservations, stock_transfers,
			inventory_locations, fulfillment_centers, products, warehouses
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool, ctx
}

func floatPtr(v float64) *float64 { return &v }

func seedWarehouse(t *testing.T, ctx context.Context, pool *pgxpool.Pool,
	code, city, country string, lat, lon *float64) int {
	t.Helper()
	var id int
	err := pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, city, country, latitude, longitude)
		VALUES ($1, $1 || ' Warehouse', $2, $3, $4, $5)
		RETURNING id
	`, code, city, country, lat, lon).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed warehouse %s: %v", code, err)
	}
	return id
}

func seedProduct(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sku, name string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(ctx, `
		INSERT INTO products (sku, name) VALUES ($1, $2) RETURNING id
	`, sku, name).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed product %s: %v", sku, err)
	}
	return id
}

func seedLocation(t *testing.T, ctx context.Context, pool *pgxpool.Pool,
	warehouseID, productID int, quantity, threshold int64) int {
	t.Helper()
	var id int
	err := pool.QueryRow(ctx, `
		INSERT INTO inventory_locations (warehouse_id, product_id, quantity, low_stock_threshold)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, warehouseID, productID, quantity, threshold).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed inventory location: %v", err)
	}
	return id
}

// locationState reads quantity and reserved straight from the table, bypassing
// the service layer, so tests can assert on persisted counters.
func locationState(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id int) (quantity, reserved decimal.Decimal) {
	t.Helper()
	err := pool.QueryRow(ctx,
		`SELECT quantity, reserved FROM inventory_locations WHERE id = $1`, id).Scan(&quantity, &reserved)
	if err != nil {
		t.Fatalf("Failed to read location %d state: %v", id, err)
	}
	return quantity, reserved
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestInventory_UpsertLocation(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	invSvc := core.NewInventoryService(pool)

	threshold := decimal.NewFromInt(5)
	loc, err := invSvc.UpsertInventoryLocation(ctx, whID, prodID, decimal.NewFromInt(100), &threshold)
	if err != nil {
		t.Fatalf("UpsertInventoryLocation failed: %v", err)
	}
	if !loc.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected quantity 100, got %s", loc.Quantity)
	}
	if !loc.LowStockThreshold.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected threshold 5, got %s", loc.LowStockThreshold)
	}

	// Second upsert replaces quantity; nil threshold keeps the stored value.
	loc2, err := invSvc.UpsertInventoryLocation(ctx, whID, prodID, decimal.NewFromInt(40), nil)
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if loc2.ID != loc.ID {
		t.Errorf("Expected same location row, got %d vs %d", loc2.ID, loc.ID)
	}
	if !loc2.Quantity.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected quantity replaced with 40, got %s", loc2.Quantity)
	}
	if !loc2.LowStockThreshold.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected threshold preserved at 5, got %s", loc2.LowStockThreshold)
	}
}

func TestInventory_UpsertLocation_CannotDropBelowReserved(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	locID := seedLocation(t, ctx, pool, whID, prodID, 10, 2)

	resSvc := core.NewReservationService(pool)
	if _, err := resSvc.ReserveStock(ctx, core.ReservationInput{
		LocationID: locID, Quantity: decimal.NewFromInt(8),
	}); err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}

	// Shrinking on-hand below the 8 units on hold would make available
	// negative; the upsert must refuse and leave the row untouched.
	invSvc := core.NewInventoryService(pool)
	_, err := invSvc.UpsertInventoryLocation(ctx, whID, prodID, decimal.NewFromInt(5), nil)
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	qty, reserved := locationState(t, ctx, pool, locID)
	if !qty.Equal(decimal.NewFromInt(10)) || !reserved.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected row untouched at 10/8, got %s/%s", qty, reserved)
	}

	// Setting quantity to exactly the held amount is allowed.
	loc, err := invSvc.UpsertInventoryLocation(ctx, whID, prodID, decimal.NewFromInt(8), nil)
	if err != nil {
		t.Fatalf("Upsert to reserved floor failed: %v", err)
	}
	if !loc.Quantity.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected quantity 8, got %s", loc.Quantity)
	}
	if !loc.Reserved.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected reserved intact at 8, got %s", loc.Reserved)
	}
}

func TestInventory_UpsertLocation_UnknownWarehouse(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	invSvc := core.NewInventoryService(pool)

	_, err := invSvc.UpsertInventoryLocation(ctx, 9999, prodID, decimal.NewFromInt(10), nil)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown warehouse, got %v", err)
	}
}

func TestInventory_ProductInventoryTotals(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	locLon := seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	seedLocation(t, ctx, pool, whLeeds, prodID, 50, 10)

	resSvc := core.NewReservationService(pool)
	if _, err := resSvc.ReserveStock(ctx, core.ReservationInput{
		LocationID: locLon, Quantity: decimal.NewFromInt(20),
	}); err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}

	invSvc := core.NewInventoryService(pool)
	inv, err := invSvc.GetProductInventory(ctx, prodID)
	if err != nil {
		t.Fatalf("GetProductInventory failed: %v", err)
	}
	if len(inv.Locations) != 2 {
		t.Fatalf("Expected 2 locations, got %d", len(inv.Locations))
	}
	if !inv.TotalQuantity.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected total quantity 150, got %s", inv.TotalQuantity)
	}
	if !inv.TotalReserved.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected total reserved 20, got %s", inv.TotalReserved)
	}
	if !inv.TotalAvailable.Equal(decimal.NewFromInt(130)) {
		t.Errorf("Expected total available 130, got %s", inv.TotalAvailable)
	}
}

func TestInventory_LowStockAlerts(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodLow := seedProduct(t, ctx, pool, "SKU-LOW", "Low Widget")
	prodOut := seedProduct(t, ctx, pool, "SKU-OUT", "Out Widget")
	prodOK := seedProduct(t, ctx, pool, "SKU-OK", "Healthy Widget")

	seedLocation(t, ctx, pool, whLon, prodLow, 5, 10)   // LOW_STOCK
	seedLocation(t, ctx, pool, whLon, prodOut, 0, 10)   // OUT_OF_STOCK
	seedLocation(t, ctx, pool, whLon, prodOK, 500, 10)  // healthy
	seedLocation(t, ctx, pool, whLeeds, prodLow, 3, 10) // LOW_STOCK, other warehouse

	invSvc := core.NewInventoryService(pool)
	alerts, err := invSvc.GetLowStockAlerts(ctx, nil)
	if err != nil {
		t.Fatalf("GetLowStockAlerts failed: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("Expected 3 alerts, got %d", len(alerts))
	}

	byStatus := map[string]int{}
	for _, a := range alerts {
		byStatus[a.Status]++
	}
	if byStatus["OUT_OF_STOCK"] != 1 || byStatus["LOW_STOCK"] != 2 {
		t.Errorf("Unexpected status mix: %+v", byStatus)
	}

	// Warehouse filter narrows to the London rows.
	alerts, err = invSvc.GetLowStockAlerts(ctx, &whLon)
	if err != nil {
		t.Fatalf("GetLowStockAlerts with filter failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Errorf("Expected 2 alerts for London warehouse, got %d", len(alerts))
	}
}

func TestInventory_RecordMovement_RoundTrip(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	locID := seedLocation(t, ctx, pool, whID, prodID, 100, 10)
	invSvc := core.NewInventoryService(pool)

	out, err := invSvc.RecordStockMovement(ctx, core.MovementInput{
		LocationID: locID, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), Type: core.MovementOut,
	})
	if err != nil {
		t.Fatalf("OUT movement failed: %v", err)
	}
	if !out.Quantity.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("Expected OUT movement to store -40, got %s", out.Quantity)
	}
	qty, _ := locationState(t, ctx, pool, locID)
	if !qty.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected on-hand 60 after OUT, got %s", qty)
	}

	in, err := invSvc.RecordStockMovement(ctx, core.MovementInput{
		LocationID: locID, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), Type: core.MovementIn,
	})
	if err != nil {
		t.Fatalf("IN movement failed: %v", err)
	}
	if !in.Quantity.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected IN movement to store +40, got %s", in.Quantity)
	}
	qty, _ = locationState(t, ctx, pool, locID)
	if !qty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected on-hand restored to 100, got %s", qty)
	}
}

func TestInventory_RecordMovement_ProductMismatch(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodA := seedProduct(t, ctx, pool, "SKU-A", "Widget A")
	prodB := seedProduct(t, ctx, pool, "SKU-B", "Widget B")
	locID := seedLocation(t, ctx, pool, whID, prodA, 100, 10)
	invSvc := core.NewInventoryService(pool)

	_, err := invSvc.RecordStockMovement(ctx, core.MovementInput{
		LocationID: locID, ProductID: prodB,
		Quantity: decimal.NewFromInt(5), Type: core.MovementIn,
	})
	if !errors.Is(err, core.ErrProductMismatch) {
		t.Errorf("Expected ErrProductMismatch, got %v", err)
	}
}

func TestInventory_RecordMovement_OutBlockedByHolds(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	locID := seedLocation(t, ctx, pool, whID, prodID, 10, 2)

	resSvc := core.NewReservationService(pool)
	if _, err := resSvc.ReserveStock(ctx, core.ReservationInput{
		LocationID: locID, Quantity: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}

	invSvc := core.NewInventoryService(pool)
	_, err := invSvc.RecordStockMovement(ctx, core.MovementInput{
		LocationID: locID, ProductID: prodID,
		Quantity: decimal.NewFromInt(8), Type: core.MovementOut,
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected available=5 (10 on hand minus 5 held), got %s", insufficient.Available)
	}
}

func TestInventory_Movements_PaginationAndFilter(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	locID := seedLocation(t, ctx, pool, whID, prodID, 1000, 10)
	invSvc := core.NewInventoryService(pool)

	for i := 0; i < 5; i++ {
		if _, err := invSvc.RecordStockMovement(ctx, core.MovementInput{
			LocationID: locID, ProductID: prodID,
			Quantity: decimal.NewFromInt(int64(i + 1)), Type: core.MovementIn,
		}); err != nil {
			t.Fatalf("Movement %d failed: %v", i, err)
		}
	}

	page, err := invSvc.GetStockMovements(ctx, core.MovementFilter{LocationID: &locID}, 1, 2)
	if err != nil {
		t.Fatalf("GetStockMovements failed: %v", err)
	}
	if page.Pagination.Total != 5 {
		t.Errorf("Expected total 5, got %d", page.Pagination.Total)
	}
	if page.Pagination.TotalPages != 3 {
		t.Errorf("Expected 3 pages, got %d", page.Pagination.TotalPages)
	}
	if len(page.Movements) != 2 {
		t.Fatalf("Expected 2 movements on first page, got %d", len(page.Movements))
	}
	// Newest first.
	if !page.Movements[0].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected most recent movement (qty 5) first, got %s", page.Movements[0].Quantity)
	}

	outType := core.MovementOut
	filtered, err := invSvc.GetStockMovements(ctx, core.MovementFilter{Type: &outType}, 1, 20)
	if err != nil {
		t.Fatalf("Filtered GetStockMovements failed: %v", err)
	}
	if filtered.Pagination.Total != 0 {
		t.Errorf("Expected no OUT movements, got %d", filtered.Pagination.Total)
	}
}
