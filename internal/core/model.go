package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a stock reservation.
// ACTIVE is the only mutable state; the other three are terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// TransferStatus is the lifecycle state of a warehouse-to-warehouse transfer.
//
//	PENDING → IN_TRANSIT → COMPLETED
//	PENDING | IN_TRANSIT → CANCELLED
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferInTransit TransferStatus = "IN_TRANSIT"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// MovementType classifies a stock movement audit row.
// IN/OUT/ADJUST rows carry the signed on-hand delta in Quantity;
// RESERVE/RELEASE rows record the held quantity and never change on-hand stock.
type MovementType string

const (
	MovementIn      MovementType = "IN"
	MovementOut     MovementType = "OUT"
	MovementAdjust  MovementType = "ADJUST"
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
)

// FulfillmentMethod tags how a fulfillment source was chosen.
type FulfillmentMethod string

const (
	MethodNearestWithStock FulfillmentMethod = "NEAREST_WITH_STOCK"
	MethodNearestFC        FulfillmentMethod = "NEAREST_FC"
	MethodFallback         FulfillmentMethod = "FALLBACK"
	MethodManual           FulfillmentMethod = "MANUAL"
)

// DefaultReservationTTL is applied when ReserveStock is called without an
// explicit expiry.
const DefaultReservationTTL = 24 * time.Hour

// Warehouse is a physical stock-holding location. Deactivating a warehouse
// excludes it from routing and allocation but never deletes its inventory.
type Warehouse struct {
	ID          int       `json:"id"`
	Code        string    `json:"code"` // unique, upper-cased
	Name        string    `json:"name"`
	AddressLine string    `json:"address_line"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Country     string    `json:"country"`
	PostalCode  string    `json:"postal_code"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasCoordinates reports whether the warehouse can participate in
// distance-based routing.
func (w *Warehouse) HasCoordinates() bool {
	return w.Latitude != nil && w.Longitude != nil
}

// WarehouseInput carries the fields for creating a warehouse.
type WarehouseInput struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	AddressLine string   `json:"address_line"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Country     string   `json:"country"`
	PostalCode  string   `json:"postal_code"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty"` // nil means active
}

// Product is the minimal catalog reference this core needs: identity, SKU
// for alerts, and an active flag. Full catalog data lives elsewhere.
type Product struct {
	ID        int       `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryLocation is the quantity of one product held at one warehouse.
// Reserved caches the sum of ACTIVE, non-expired reservations on the row;
// available stock is always derived, never stored.
type InventoryLocation struct {
	ID                int             `json:"id"`
	WarehouseID       int             `json:"warehouse_id"`
	ProductID         int             `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	Reserved          decimal.Decimal `json:"reserved"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Available returns on-hand quantity minus reserved stock.
func (l *InventoryLocation) Available() decimal.Decimal {
	return l.Quantity.Sub(l.Reserved)
}

// StockReservation is a time-bounded hold on one location, linked to at most
// one order or cart.
type StockReservation struct {
	ID         int               `json:"id"`
	LocationID int               `json:"location_id"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Status     ReservationStatus `json:"status"`
	OrderID    *string           `json:"order_id,omitempty"`
	CartID     *string           `json:"cart_id,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// StockTransfer is a two-phase request to move stock between warehouses.
// Stock moves only at completion; CompletedBy/CompletedAt are set only then.
type StockTransfer struct {
	ID              int             `json:"id"`
	FromWarehouseID int             `json:"from_warehouse_id"`
	ToWarehouseID   int             `json:"to_warehouse_id"`
	ProductID       int             `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Status          TransferStatus  `json:"status"`
	RequestedBy     string          `json:"requested_by"`
	Notes           string          `json:"notes,omitempty"`
	CompletedBy     *string         `json:"completed_by,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StockMovement is an immutable audit row for a stock change.
type StockMovement struct {
	ID            int             `json:"id"`
	LocationID    int             `json:"location_id"`
	ProductID     int             `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"` // signed for IN/OUT/ADJUST
	Type          MovementType    `json:"movement_type"`
	ReferenceType *string         `json:"reference_type,omitempty"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	PerformedBy   *string         `json:"performed_by,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FulfillmentCenter is a read-only fallback shipping origin with coordinates.
type FulfillmentCenter struct {
	ID        int     `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsActive  bool    `json:"is_active"`
}

// ProductLocation is one inventory location joined with its warehouse,
// as returned by GetProductInventory.
type ProductLocation struct {
	InventoryLocation
	WarehouseCode   string          `json:"warehouse_code"`
	WarehouseName   string          `json:"warehouse_name"`
	WarehouseActive bool            `json:"warehouse_active"`
	AvailableQty    decimal.Decimal `json:"available"`
}

// ProductInventory aggregates a product's stock across all warehouses.
type ProductInventory struct {
	ProductID      int               `json:"product_id"`
	Locations      []ProductLocation `json:"locations"`
	TotalQuantity  decimal.Decimal   `json:"total_quantity"`
	TotalReserved  decimal.Decimal   `json:"total_reserved"`
	TotalAvailable decimal.Decimal   `json:"total_available"`
}

// LowStockAlert flags a location at or below its threshold.
// Status is OUT_OF_STOCK when nothing is available, otherwise LOW_STOCK.
type LowStockAlert struct {
	WarehouseID   int             `json:"warehouse_id"`
	WarehouseCode string          `json:"warehouse_code"`
	WarehouseName string          `json:"warehouse_name"`
	ProductID     int             `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SKU           string          `json:"sku"`
	CurrentStock  decimal.Decimal `json:"current_stock"` // available, not on-hand
	Threshold     decimal.Decimal `json:"threshold"`
	Status        string          `json:"status"`
}

// DemandLine is one product/quantity pair an order needs fulfilled.
type DemandLine struct {
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Allocation assigns part of a demand line to a warehouse.
type Allocation struct {
	ProductID   int             `json:"product_id"`
	WarehouseID int             `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// MovementPage is one page of stock movements.
type MovementPage struct {
	Movements  []StockMovement `json:"movements"`
	Pagination Pagination      `json:"pagination"`
}

// TransferPage is one page of stock transfers.
type TransferPage struct {
	Transfers  []StockTransfer `json:"transfers"`
	Pagination Pagination      `json:"pagination"`
}

// MovementFilter narrows GetStockMovements. Nil fields match everything.
type MovementFilter struct {
	LocationID *int
	ProductID  *int
	Type       *MovementType
}

// TransferFilter narrows GetStockTransfers. WarehouseID matches either end.
type TransferFilter struct {
	WarehouseID *int
	ProductID   *int
	Status      *TransferStatus
}

// FulfillmentSource is the routing decision for an order.
type FulfillmentSource struct {
	Method              FulfillmentMethod `json:"method"`
	WarehouseID         *int              `json:"warehouse_id,omitempty"`
	FulfillmentCenterID *int              `json:"fulfillment_center_id,omitempty"`
	DistanceKm          *float64          `json:"distance_km,omitempty"`
	EstimatedDays       *int              `json:"estimated_days,omitempty"`
	FullyStocked        bool              `json:"fully_stocked"`
	Message             string            `json:"message"`
}
