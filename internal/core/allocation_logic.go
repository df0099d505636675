package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fulfillment-core/internal/geo"
)

// StockCandidate is one warehouse's availability for a single product,
// as fed into the allocation algorithms.
type StockCandidate struct {
	WarehouseID   int
	WarehouseCode string
	City          string
	State         string
	Country       string
	OnHand        decimal.Decimal
	Available     decimal.Decimal
}

// Geographic scoring tiers. The stock-depth term counts available units up to
// stockScoreCap and is scaled onto [0, stockScoreWeight], strictly below the
// smallest tier increment, so depth breaks ties within a geographic tier but
// never overrides one.
const (
	countryMatchScore = 1000.0
	stateMatchScore   = 100.0
	cityMatchScore    = 10.0
	stockScoreCap     = 100.0
	stockScoreWeight  = 9.0
)

// ScoreCandidate rates a warehouse for a destination address: +1000 for a
// country match, +100 more for state, +10 more for city, plus a stock-depth
// tie-breaker proportional to available units.
func ScoreCandidate(c StockCandidate, dest geo.Address) float64 {
	score := 0.0
	if fieldMatch(c.Country, dest.Country) {
		score += countryMatchScore
		if fieldMatch(c.State, dest.State) {
			score += stateMatchScore
		}
		if fieldMatch(c.City, dest.City) {
			score += cityMatchScore
		}
	}

	avail, _ := c.Available.Float64()
	if avail > stockScoreCap {
		avail = stockScoreCap
	}
	if avail > 0 {
		score += avail / stockScoreCap * stockScoreWeight
	}
	return score
}

func fieldMatch(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}

// AllocatePlain greedily consumes available stock for one demand line,
// preferring the deepest available pool first. One demand may split across
// several warehouses.
func AllocatePlain(productID int, quantity decimal.Decimal, candidates []StockCandidate) ([]Allocation, error) {
	sorted := make([]StockCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Available.Equal(sorted[j].Available) {
			return sorted[i].Available.GreaterThan(sorted[j].Available)
		}
		return sorted[i].WarehouseID < sorted[j].WarehouseID
	})
	return consumeCandidates(productID, quantity, sorted)
}

// AllocateScored is AllocatePlain with geographic scoring: candidates are
// ranked by ScoreCandidate against the shipping address before consumption.
func AllocateScored(productID int, quantity decimal.Decimal, candidates []StockCandidate, dest geo.Address) ([]Allocation, error) {
	type scored struct {
		StockCandidate
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{StockCandidate: c, score: ScoreCandidate(c, dest)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].WarehouseID < ranked[j].WarehouseID
	})

	ordered := make([]StockCandidate, len(ranked))
	for i, r := range ranked {
		ordered[i] = r.StockCandidate
	}
	return consumeCandidates(productID, quantity, ordered)
}

// consumeCandidates walks candidates in order, taking from each warehouse's
// available stock until the demand is met. Exhausting all eligible stock
// short of the demand fails with the shortfall.
func consumeCandidates(productID int, quantity decimal.Decimal, ordered []StockCandidate) ([]Allocation, error) {
	remaining := quantity
	var allocations []Allocation
	for _, c := range ordered {
		if remaining.Sign() <= 0 {
			break
		}
		if c.Available.Sign() <= 0 {
			continue
		}
		take := c.Available
		if take.GreaterThan(remaining) {
			take = remaining
		}
		allocations = append(allocations, Allocation{
			ProductID:   productID,
			WarehouseID: c.WarehouseID,
			Quantity:    take,
		})
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		return nil, &InsufficientStockError{
			ProductID: productID,
			Available: quantity.Sub(remaining),
			Requested: quantity,
		}
	}
	return allocations, nil
}

// EstimateDeliveryDays maps straight-line distance onto a delivery estimate.
func EstimateDeliveryDays(distanceKm float64) int {
	switch {
	case distanceKm <= 50:
		return 1
	case distanceKm <= 150:
		return 2
	case distanceKm <= 300:
		return 3
	case distanceKm <= 500:
		return 4
	default:
		return 5
	}
}
