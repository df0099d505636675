// Package web exposes the inventory core's operation surface as a thin JSON
// API. Handlers decode, delegate to the core services, and encode; all
// domain rules live below this layer.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fulfillment-core/internal/core"
	"fulfillment-core/internal/geo"
)

// Handler wires the chi router over the core services.
type Handler struct {
	warehouses   core.WarehouseService
	inventory    core.InventoryService
	reservations core.ReservationService
	transfers    core.TransferService
	routing      core.RoutingService
}

// Services groups the dependencies NewHandler needs.
type Services struct {
	Warehouses   core.WarehouseService
	Inventory    core.InventoryService
	Reservations core.ReservationService
	Transfers    core.TransferService
	Routing      core.RoutingService
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svcs Services, log *zap.Logger, allowedOrigins string) http.Handler {
	h := &Handler{
		warehouses:   svcs.Warehouses,
		inventory:    svcs.Inventory,
		reservations: svcs.Reservations,
		transfers:    svcs.Transfers,
		routing:      svcs.Routing,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Post("/warehouses", h.createWarehouse)
		r.Get("/warehouses", h.listWarehouses)
		r.Get("/warehouses/{id}", h.getWarehouse)
		r.Patch("/warehouses/{id}/active", h.setWarehouseActive)

		r.Post("/products", h.createProduct)
		r.Get("/products", h.listProducts)
		r.Get("/fulfillment-centers", h.listFulfillmentCenters)

		r.Put("/inventory/locations", h.upsertLocation)
		r.Get("/inventory/locations/{id}", h.getLocation)
		r.Get("/inventory/products/{id}", h.getProductInventory)
		r.Get("/inventory/low-stock", h.lowStockAlerts)

		r.Post("/reservations", h.reserveStock)
		r.Get("/reservations/{id}", h.getReservation)
		r.Post("/reservations/{id}/confirm", h.confirmReservation)
		r.Post("/reservations/{id}/cancel", h.cancelReservation)
		r.Post("/reservations/cleanup", h.cleanupReservations)

		r.Post("/transfers", h.createTransfer)
		r.Get("/transfers", h.listTransfers)
		r.Get("/transfers/{id}", h.getTransfer)
		r.Post("/transfers/{id}/dispatch", h.dispatchTransfer)
		r.Post("/transfers/{id}/cancel", h.cancelTransfer)
		r.Post("/transfers/{id}/complete", h.completeTransfer)

		r.Post("/movements", h.recordMovement)
		r.Get("/movements", h.listMovements)

		r.Post("/allocations", h.allocate)
		r.Post("/allocations/located", h.allocateWithLocation)
		r.Post("/routing/optimal-source", h.optimalSource)
		r.Post("/routing/nearest-warehouse", h.nearestWarehouse)
		r.Get("/routing/nearest-fulfillment-center", h.nearestFulfillmentCenter)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, "invalid request body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// ── Warehouses & products ────────────────────────────────────────────────────

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var input core.WarehouseInput
	if !decodeBody(w, r, &input) {
		return
	}
	wh, err := h.warehouses.CreateWarehouse(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.warehouses.GetWarehouses(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid warehouse id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	wh, err := h.warehouses.GetWarehouse(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) setWarehouseActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid warehouse id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body struct {
		IsActive bool `json:"is_active"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	wh, err := h.warehouses.SetWarehouseActive(r.Context(), id, body.IsActive)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SKU  string `json:"sku"`
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := h.warehouses.CreateProduct(r.Context(), body.SKU, body.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.warehouses.GetProducts(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) listFulfillmentCenters(w http.ResponseWriter, r *http.Request) {
	list, err := h.warehouses.GetFulfillmentCenters(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ── Inventory ────────────────────────────────────────────────────────────────

func (h *Handler) upsertLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WarehouseID       int              `json:"warehouse_id"`
		ProductID         int              `json:"product_id"`
		Quantity          decimal.Decimal  `json:"quantity"`
		LowStockThreshold *decimal.Decimal `json:"low_stock_threshold,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	loc, err := h.inventory.UpsertInventoryLocation(r.Context(),
		body.WarehouseID, body.ProductID, body.Quantity, body.LowStockThreshold)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid location id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	loc, err := h.inventory.GetInventoryLocation(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) getProductInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid product id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	inv, err := h.inventory.GetProductInventory(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) lowStockAlerts(w http.ResponseWriter, r *http.Request) {
	warehouseID := queryInt(r, "warehouse_id")
	alerts, err := h.inventory.GetLowStockAlerts(r.Context(), warehouseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ── Reservations ─────────────────────────────────────────────────────────────

func (h *Handler) reserveStock(w http.ResponseWriter, r *http.Request) {
	var input core.ReservationInput
	if !decodeBody(w, r, &input) {
		return
	}
	res, err := h.reservations.ReserveStock(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid reservation id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	res, err := h.reservations.GetReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid reservation id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body struct {
		OrderID string `json:"order_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.OrderID == "" {
		writeError(w, r, "order_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	res, err := h.reservations.ConfirmReservation(r.Context(), id, body.OrderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid reservation id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	res, err := h.reservations.CancelReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cleanupReservations(w http.ResponseWriter, r *http.Request) {
	count, err := h.reservations.CleanupExpiredReservations(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned_count": count})
}

// ── Transfers ────────────────────────────────────────────────────────────────

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var input core.TransferInput
	if !decodeBody(w, r, &input) {
		return
	}
	t, err := h.transfers.CreateStockTransfer(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	filter := core.TransferFilter{
		WarehouseID: queryInt(r, "warehouse_id"),
		ProductID:   queryInt(r, "product_id"),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		status := core.TransferStatus(st)
		filter.Status = &status
	}
	page, limit := queryPage(r)
	result, err := h.transfers.GetStockTransfers(r.Context(), filter, page, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid transfer id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	t, err := h.transfers.GetStockTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) dispatchTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid transfer id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	t, err := h.transfers.DispatchStockTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid transfer id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	t, err := h.transfers.CancelStockTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) completeTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid transfer id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var body struct {
		CompletedBy string `json:"completed_by"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	t, err := h.transfers.CompleteStockTransfer(r.Context(), id, body.CompletedBy)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ── Movements ────────────────────────────────────────────────────────────────

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var input core.MovementInput
	if !decodeBody(w, r, &input) {
		return
	}
	m, err := h.inventory.RecordStockMovement(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := core.MovementFilter{
		LocationID: queryInt(r, "location_id"),
		ProductID:  queryInt(r, "product_id"),
	}
	if mt := r.URL.Query().Get("type"); mt != "" {
		movementType := core.MovementType(mt)
		filter.Type = &movementType
	}
	page, limit := queryPage(r)
	result, err := h.inventory.GetStockMovements(r.Context(), filter, page, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── Allocation & routing ─────────────────────────────────────────────────────

type allocationRequest struct {
	Demands         []core.DemandLine `json:"demands"`
	ShippingAddress geo.Address       `json:"shipping_address"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	allocs, err := h.routing.AllocateStockForOrder(r.Context(), req.Demands)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": allocs})
}

func (h *Handler) allocateWithLocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	allocs, err := h.routing.AllocateStockForOrderWithLocation(r.Context(), req.Demands, req.ShippingAddress)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": allocs})
}

func (h *Handler) optimalSource(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source, err := h.routing.FindOptimalFulfillmentSource(r.Context(), req.ShippingAddress, req.Demands)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (h *Handler) nearestWarehouse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64           `json:"latitude"`
		Longitude float64           `json:"longitude"`
		Demands   []core.DemandLine `json:"demands"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	match, err := h.routing.FindNearestWarehouseWithStock(r.Context(), req.Latitude, req.Longitude, req.Demands)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if match == nil {
		writeError(w, r, "no routable warehouse available", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (h *Handler) nearestFulfillmentCenter(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, r, "lat and lon query parameters are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	match, err := h.routing.FindNearestFulfillmentCenter(r.Context(), lat, lon)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if match == nil {
		writeError(w, r, "no active fulfillment center available", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// ── Query helpers ────────────────────────────────────────────────────────────

func queryInt(r *http.Request, key string) *int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func queryPage(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
