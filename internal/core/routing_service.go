package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fulfillment-core/internal/geo"
)

// RoutingService decides which warehouse or fulfillment center should serve
// an order, layering distance calculation and scored allocation on the
// reservation engine's availability view. All routing reads are
// side-effect-free over already-fetched data; reservations are created by the
// caller afterwards.
type RoutingService interface {
	// AllocateStockForOrder splits each demand line across active warehouses
	// greedily, deepest available pool first.
	AllocateStockForOrder(ctx context.Context, demands []DemandLine) ([]Allocation, error)
	// AllocateStockForOrderWithLocation is the geographically scored variant.
	AllocateStockForOrderWithLocation(ctx context.Context, demands []DemandLine, shipTo geo.Address) ([]Allocation, error)

	// FindNearestWarehouseWithStock returns the nearest active warehouse that
	// can fully satisfy every demand line alone; if none qualifies, the
	// nearest warehouse overall flagged as not fully stocked.
	FindNearestWarehouseWithStock(ctx context.Context, lat, lon float64, demands []DemandLine) (*WarehouseMatch, error)
	FindNearestFulfillmentCenter(ctx context.Context, lat, lon float64) (*FulfillmentCenterMatch, error)

	// FindOptimalFulfillmentSource resolves the shipping address and
	// orchestrates the two lookups above. A failed or empty resolution
	// degrades to MANUAL, never to an error.
	FindOptimalFulfillmentSource(ctx context.Context, shipTo geo.Address, demands []DemandLine) (*FulfillmentSource, error)
}

// WarehouseMatch is a distance-ranked routing candidate.
type WarehouseMatch struct {
	Warehouse    Warehouse `json:"warehouse"`
	DistanceKm   float64   `json:"distance_km"`
	FullyStocked bool      `json:"fully_stocked"`
}

// FulfillmentCenterMatch is a distance-ranked fallback origin.
type FulfillmentCenterMatch struct {
	Center     FulfillmentCenter `json:"fulfillment_center"`
	DistanceKm float64           `json:"distance_km"`
}

type routingService struct {
	pool     *pgxpool.Pool
	resolver geo.Resolver
}

func NewRoutingService(pool *pgxpool.Pool, resolver geo.Resolver) RoutingService {
	return &routingService{pool: pool, resolver: resolver}
}

// fetchCandidates loads every active warehouse's availability for a product,
// with holds recomputed from ACTIVE, non-expired reservations.
func (s *routingService) fetchCandidates(ctx context.Context, productID int) ([]StockCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.code, w.city, w.state, w.country, il.quantity,
		       il.quantity - COALESCE((
		           SELECT SUM(r.quantity) FROM stock_reservations r
		           WHERE r.location_id = il.id AND r.status = 'ACTIVE' AND r.expires_at > NOW()
		       ), 0) AS available
		FROM inventory_locations il
		JOIN warehouses w ON w.id = il.warehouse_id
		WHERE il.product_id = $1 AND w.is_active = true
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation candidates: %w", err)
	}
	defer rows.Close()

	var candidates []StockCandidate
	for rows.Next() {
		var c StockCandidate
		if err := rows.Scan(&c.WarehouseID, &c.WarehouseCode, &c.City, &c.State,
			&c.Country, &c.OnHand, &c.Available); err != nil {
			return nil, fmt.Errorf("failed to scan allocation candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func validateDemands(demands []DemandLine) error {
	if len(demands) == 0 {
		return fmt.Errorf("at least one demand line is required")
	}
	for _, d := range demands {
		if d.Quantity.Sign() <= 0 {
			return fmt.Errorf("demand quantity for product %d must be positive, got %s", d.ProductID, d.Quantity)
		}
	}
	return nil
}

func (s *routingService) AllocateStockForOrder(ctx context.Context, demands []DemandLine) ([]Allocation, error) {
	if err := validateDemands(demands); err != nil {
		return nil, err
	}

	var allocations []Allocation
	for _, d := range demands {
		candidates, err := s.fetchCandidates(ctx, d.ProductID)
		if err != nil {
			return nil, err
		}
		lineAllocs, err := AllocatePlain(d.ProductID, d.Quantity, candidates)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, lineAllocs...)
	}
	return allocations, nil
}

func (s *routingService) AllocateStockForOrderWithLocation(ctx context.Context, demands []DemandLine, shipTo geo.Address) ([]Allocation, error) {
	if err := validateDemands(demands); err != nil {
		return nil, err
	}

	var allocations []Allocation
	for _, d := range demands {
		candidates, err := s.fetchCandidates(ctx, d.ProductID)
		if err != nil {
			return nil, err
		}
		lineAllocs, err := AllocateScored(d.ProductID, d.Quantity, candidates, shipTo)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, lineAllocs...)
	}
	return allocations, nil
}

// availabilityByWarehouse maps productID → warehouseID → available quantity
// for every active warehouse holding any of the demanded products.
func (s *routingService) availabilityByWarehouse(ctx context.Context, demands []DemandLine) (map[int]map[int]decimal.Decimal, error) {
	productIDs := make([]int, len(demands))
	for i, d := range demands {
		productIDs[i] = d.ProductID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT il.product_id, il.warehouse_id,
		       il.quantity - COALESCE((
		           SELECT SUM(r.quantity) FROM stock_reservations r
		           WHERE r.location_id = il.id AND r.status = 'ACTIVE' AND r.expires_at > NOW()
		       ), 0) AS available
		FROM inventory_locations il
		JOIN warehouses w ON w.id = il.warehouse_id
		WHERE il.product_id = ANY($1) AND w.is_active = true
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	byProduct := make(map[int]map[int]decimal.Decimal)
	for rows.Next() {
		var productID, warehouseID int
		var available decimal.Decimal
		if err := rows.Scan(&productID, &warehouseID, &available); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		if byProduct[productID] == nil {
			byProduct[productID] = make(map[int]decimal.Decimal)
		}
		byProduct[productID][warehouseID] = available
	}
	return byProduct, rows.Err()
}

func (s *routingService) FindNearestWarehouseWithStock(ctx context.Context, lat, lon float64, demands []DemandLine) (*WarehouseMatch, error) {
	if err := validateDemands(demands); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+warehouseColumns+` FROM warehouses
		WHERE is_active = true AND latitude IS NOT NULL AND longitude IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routable warehouses: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(warehouses) == 0 {
		return nil, nil
	}

	availability, err := s.availabilityByWarehouse(ctx, demands)
	if err != nil {
		return nil, err
	}

	matches := make([]WarehouseMatch, 0, len(warehouses))
	for _, w := range warehouses {
		m := WarehouseMatch{
			Warehouse:    w,
			DistanceKm:   geo.HaversineKm(lat, lon, *w.Latitude, *w.Longitude),
			FullyStocked: true,
		}
		// No splitting at this layer: every line must fit alone.
		for _, d := range demands {
			if availability[d.ProductID][w.ID].LessThan(d.Quantity) {
				m.FullyStocked = false
				break
			}
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})

	for _, m := range matches {
		if m.FullyStocked {
			return &m, nil
		}
	}
	return &matches[0], nil
}

func (s *routingService) FindNearestFulfillmentCenter(ctx context.Context, lat, lon float64) (*FulfillmentCenterMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, latitude, longitude, is_active
		FROM fulfillment_centers
		WHERE is_active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillment centers: %w", err)
	}
	defer rows.Close()

	var best *FulfillmentCenterMatch
	for rows.Next() {
		var fc FulfillmentCenter
		if err := rows.Scan(&fc.ID, &fc.Code, &fc.Name, &fc.Latitude, &fc.Longitude, &fc.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan fulfillment center: %w", err)
		}
		dist := geo.HaversineKm(lat, lon, fc.Latitude, fc.Longitude)
		if best == nil || dist < best.DistanceKm {
			best = &FulfillmentCenterMatch{Center: fc, DistanceKm: dist}
		}
	}
	return best, rows.Err()
}

func (s *routingService) FindOptimalFulfillmentSource(ctx context.Context, shipTo geo.Address, demands []DemandLine) (*FulfillmentSource, error) {
	if err := validateDemands(demands); err != nil {
		return nil, err
	}

	coords, err := s.resolver.Resolve(ctx, shipTo)
	if err != nil || coords == nil {
		// Geocoding failures degrade to no coordinates, never fail the call.
		return &FulfillmentSource{
			Method:  MethodManual,
			Message: "customer coordinates unavailable; manual fulfillment selection required",
		}, nil
	}

	whMatch, err := s.FindNearestWarehouseWithStock(ctx, coords.Latitude, coords.Longitude, demands)
	if err != nil {
		return nil, err
	}
	if whMatch != nil && whMatch.FullyStocked {
		days := EstimateDeliveryDays(whMatch.DistanceKm)
		return &FulfillmentSource{
			Method:        MethodNearestWithStock,
			WarehouseID:   &whMatch.Warehouse.ID,
			DistanceKm:    &whMatch.DistanceKm,
			EstimatedDays: &days,
			FullyStocked:  true,
			Message:       fmt.Sprintf("warehouse %s fully stocks the order at %.1f km", whMatch.Warehouse.Code, whMatch.DistanceKm),
		}, nil
	}

	fcMatch, err := s.FindNearestFulfillmentCenter(ctx, coords.Latitude, coords.Longitude)
	if err != nil {
		return nil, err
	}
	if fcMatch != nil {
		days := EstimateDeliveryDays(fcMatch.DistanceKm)
		return &FulfillmentSource{
			Method:              MethodNearestFC,
			FulfillmentCenterID: &fcMatch.Center.ID,
			DistanceKm:          &fcMatch.DistanceKm,
			EstimatedDays:       &days,
			Message:             fmt.Sprintf("no warehouse fully stocks the order; fulfillment center %s at %.1f km", fcMatch.Center.Code, fcMatch.DistanceKm),
		}, nil
	}

	if whMatch != nil {
		days := EstimateDeliveryDays(whMatch.DistanceKm)
		return &FulfillmentSource{
			Method:        MethodFallback,
			WarehouseID:   &whMatch.Warehouse.ID,
			DistanceKm:    &whMatch.DistanceKm,
			EstimatedDays: &days,
			FullyStocked:  false,
			Message:       fmt.Sprintf("warehouse %s is nearest but cannot fully stock the order", whMatch.Warehouse.Code),
		}, nil
	}

	return &FulfillmentSource{
		Method:  MethodManual,
		Message: "no routable warehouse or fulfillment center; manual fulfillment selection required",
	}, nil
}
