package core_test

import (
	"errors"
	"testing"

	"fulfillment-core/internal/core"

	"github.com/shopspring/decimal"
)

func TestTransfer_SameWarehouseRejected(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whID := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	xferSvc := core.NewTransferService(pool)

	_, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whID, ToWarehouseID: whID, ProductID: prodID,
		Quantity: decimal.NewFromInt(10), RequestedBy: "ops",
	})
	if !errors.Is(err, core.ErrSameWarehouse) {
		t.Errorf("Expected ErrSameWarehouse, got %v", err)
	}
}

func TestTransfer_InsufficientAtRequest(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	seedLocation(t, ctx, pool, whLon, prodID, 10, 2)
	xferSvc := core.NewTransferService(pool)

	_, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(20), RequestedBy: "ops",
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected available=10, got %s", insufficient.Available)
	}
}

func TestTransfer_Lifecycle(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	sourceLoc := seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	xferSvc := core.NewTransferService(pool)

	xfer, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("CreateStockTransfer failed: %v", err)
	}
	if xfer.Status != core.TransferPending {
		t.Errorf("Expected PENDING, got %s", xfer.Status)
	}

	// Request phase moves no stock.
	qty, _ := locationState(t, ctx, pool, sourceLoc)
	if !qty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected source untouched at request, got %s", qty)
	}

	xfer, err = xferSvc.DispatchStockTransfer(ctx, xfer.ID)
	if err != nil {
		t.Fatalf("DispatchStockTransfer failed: %v", err)
	}
	if xfer.Status != core.TransferInTransit {
		t.Errorf("Expected IN_TRANSIT, got %s", xfer.Status)
	}

	xfer, err = xferSvc.CompleteStockTransfer(ctx, xfer.ID, "warehouse-lead")
	if err != nil {
		t.Fatalf("CompleteStockTransfer failed: %v", err)
	}
	if xfer.Status != core.TransferCompleted {
		t.Errorf("Expected COMPLETED, got %s", xfer.Status)
	}
	if xfer.CompletedBy == nil || *xfer.CompletedBy != "warehouse-lead" {
		t.Errorf("Expected completed_by set, got %v", xfer.CompletedBy)
	}
	if xfer.CompletedAt == nil {
		t.Error("Expected completed_at set")
	}

	// Stock is conserved: 60 at source, 40 at the auto-created destination.
	invSvc := core.NewInventoryService(pool)
	inv, err := invSvc.GetProductInventory(ctx, prodID)
	if err != nil {
		t.Fatalf("GetProductInventory failed: %v", err)
	}
	if len(inv.Locations) != 2 {
		t.Fatalf("Expected destination location created, got %d locations", len(inv.Locations))
	}
	if !inv.TotalQuantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Transfer must conserve total stock, got %s", inv.TotalQuantity)
	}
	qty, _ = locationState(t, ctx, pool, sourceLoc)
	if !qty.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected source at 60, got %s", qty)
	}

	// Completion wrote the paired OUT/IN audit rows.
	page, err := invSvc.GetStockMovements(ctx, core.MovementFilter{ProductID: &prodID}, 1, 10)
	if err != nil {
		t.Fatalf("GetStockMovements failed: %v", err)
	}
	if len(page.Movements) != 2 {
		t.Fatalf("Expected 2 movements, got %d", len(page.Movements))
	}
	sum := decimal.Zero
	for _, m := range page.Movements {
		sum = sum.Add(m.Quantity)
		if m.ReferenceType == nil || *m.ReferenceType != "TRANSFER" {
			t.Errorf("Expected TRANSFER reference, got %v", m.ReferenceType)
		}
	}
	if !sum.IsZero() {
		t.Errorf("Paired movements must net to zero, got %s", sum)
	}

	// A completed transfer is terminal.
	var invalidState *core.InvalidStateError
	if _, err := xferSvc.CancelStockTransfer(ctx, xfer.ID); !errors.As(err, &invalidState) {
		t.Errorf("Expected InvalidStateError cancelling completed transfer, got %v", err)
	}
	if _, err := xferSvc.CompleteStockTransfer(ctx, xfer.ID, "again"); !errors.As(err, &invalidState) {
		t.Errorf("Expected InvalidStateError completing twice, got %v", err)
	}
}

func TestTransfer_CompleteIntoExistingLocation(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	sourceLoc := seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	destLoc := seedLocation(t, ctx, pool, whLeeds, prodID, 20, 10)
	xferSvc := core.NewTransferService(pool)

	xfer, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("CreateStockTransfer failed: %v", err)
	}
	if _, err := xferSvc.CompleteStockTransfer(ctx, xfer.ID, "warehouse-lead"); err != nil {
		t.Fatalf("CompleteStockTransfer failed: %v", err)
	}

	// The pre-existing destination row is topped up, not replaced.
	qty, _ := locationState(t, ctx, pool, sourceLoc)
	if !qty.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected source at 60, got %s", qty)
	}
	qty, _ = locationState(t, ctx, pool, destLoc)
	if !qty.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected destination at 60, got %s", qty)
	}

	invSvc := core.NewInventoryService(pool)
	inv, err := invSvc.GetProductInventory(ctx, prodID)
	if err != nil {
		t.Fatalf("GetProductInventory failed: %v", err)
	}
	if len(inv.Locations) != 2 {
		t.Fatalf("Expected no extra location rows, got %d", len(inv.Locations))
	}
	if !inv.TotalQuantity.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Transfer must conserve total stock, got %s", inv.TotalQuantity)
	}
}

func TestTransfer_CancelPending(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	sourceLoc := seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	xferSvc := core.NewTransferService(pool)

	xfer, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("CreateStockTransfer failed: %v", err)
	}

	xfer, err = xferSvc.CancelStockTransfer(ctx, xfer.ID)
	if err != nil {
		t.Fatalf("CancelStockTransfer failed: %v", err)
	}
	if xfer.Status != core.TransferCancelled {
		t.Errorf("Expected CANCELLED, got %s", xfer.Status)
	}

	qty, _ := locationState(t, ctx, pool, sourceLoc)
	if !qty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Cancelled transfer must not move stock, got %s", qty)
	}
}

func TestTransfer_CompleteRevalidatesAvailability(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	sourceLoc := seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	xferSvc := core.NewTransferService(pool)

	xfer, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(40), RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("CreateStockTransfer failed: %v", err)
	}

	// A reservation placed after the request eats into availability; the
	// completion check must see it.
	resSvc := core.NewReservationService(pool)
	if _, err := resSvc.ReserveStock(ctx, core.ReservationInput{
		LocationID: sourceLoc, Quantity: decimal.NewFromInt(70),
	}); err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}

	_, err = xferSvc.CompleteStockTransfer(ctx, xfer.ID, "warehouse-lead")
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError at completion, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected available=30 under the new hold, got %s", insufficient.Available)
	}

	// The failed completion left everything untouched.
	got, err := xferSvc.GetStockTransfer(ctx, xfer.ID)
	if err != nil {
		t.Fatalf("GetStockTransfer failed: %v", err)
	}
	if got.Status != core.TransferPending {
		t.Errorf("Expected transfer still PENDING, got %s", got.Status)
	}
	qty, _ := locationState(t, ctx, pool, sourceLoc)
	if !qty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected source untouched after failed completion, got %s", qty)
	}
}

func TestTransfer_ListFilters(t *testing.T) {
	pool, ctx := setupTestDB(t)
	defer pool.Close()

	whLon := seedWarehouse(t, ctx, pool, "W-LON", "London", "UK", nil, nil)
	whLeeds := seedWarehouse(t, ctx, pool, "W-LEEDS", "Leeds", "UK", nil, nil)
	whManc := seedWarehouse(t, ctx, pool, "W-MANC", "Manchester", "UK", nil, nil)
	prodID := seedProduct(t, ctx, pool, "SKU-RED", "Red Widget")
	seedLocation(t, ctx, pool, whLon, prodID, 100, 10)
	xferSvc := core.NewTransferService(pool)

	first, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whLeeds, ProductID: prodID,
		Quantity: decimal.NewFromInt(10), RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("First transfer failed: %v", err)
	}
	if _, err := xferSvc.CreateStockTransfer(ctx, core.TransferInput{
		FromWarehouseID: whLon, ToWarehouseID: whManc, ProductID: prodID,
		Quantity: decimal.NewFromInt(10), RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("Second transfer failed: %v", err)
	}
	if _, err := xferSvc.CancelStockTransfer(ctx, first.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Warehouse filter matches either end.
	page, err := xferSvc.GetStockTransfers(ctx, core.TransferFilter{WarehouseID: &whLeeds}, 1, 20)
	if err != nil {
		t.Fatalf("GetStockTransfers failed: %v", err)
	}
	if page.Pagination.Total != 1 {
		t.Errorf("Expected 1 transfer touching Leeds, got %d", page.Pagination.Total)
	}

	pending := core.TransferPending
	page, err = xferSvc.GetStockTransfers(ctx, core.TransferFilter{Status: &pending}, 1, 20)
	if err != nil {
		t.Fatalf("GetStockTransfers by status failed: %v", err)
	}
	if page.Pagination.Total != 1 {
		t.Errorf("Expected 1 PENDING transfer, got %d", page.Pagination.Total)
	}
}
