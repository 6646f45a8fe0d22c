package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/adapter/broadcast"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/metrics"
)

// IdempotencyKeyHeader lets a client retry a purchase without settling the cart twice.
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultRequestTimeout = 10 * time.Second
	feedKeepAlive         = 15 * time.Second
)

type HTTPHandler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	checkout *service.CheckoutService
	tickets  *service.TicketService
	feed     *broadcast.Hub
	metrics  *metrics.Registry
	log      logrus.FieldLogger
	timeout  time.Duration
}

type HTTPOption func(*HTTPHandler)

func WithHTTPMetrics(m *metrics.Registry) HTTPOption {
	return func(h *HTTPHandler) { h.metrics = m }
}

func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithHTTPLogger(log logrus.FieldLogger) HTTPOption {
	return func(h *HTTPHandler) { h.log = log }
}

func NewHTTPHandler(
	catalog *service.CatalogService,
	carts *service.CartService,
	checkout *service.CheckoutService,
	tickets *service.TicketService,
	feed *broadcast.Hub,
	opts ...HTTPOption,
) *HTTPHandler {
	h := &HTTPHandler{
		catalog:  catalog,
		carts:    carts,
		checkout: checkout,
		tickets:  tickets,
		feed:     feed,
		log:      logrus.StandardLogger(),
		timeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router. The feed stream sits outside the request timeout.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(h.log, h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(identify)

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	r.Get("/api/products/feed", h.Feed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))

		r.Get("/api/products", h.ListProducts)
		r.Post("/api/products", h.CreateProduct)
		r.Get("/api/products/{pid}", h.GetProduct)
		r.Put("/api/products/{pid}", h.UpdateProduct)
		r.Delete("/api/products/{pid}", h.DeleteProduct)

		r.Get("/api/carts", h.ListCarts)
		r.Post("/api/carts", h.CreateCart)
		r.Get("/api/carts/{cid}", h.GetCart)
		r.Put("/api/carts/{cid}", h.ReplaceCart)
		r.Delete("/api/carts/{cid}", h.ClearCart)
		r.Post("/api/carts/{cid}/products/{pid}", h.AddProduct)
		r.Put("/api/carts/{cid}/products/{pid}", h.UpdateQuantity)
		r.Delete("/api/carts/{cid}/products/{pid}", h.RemoveProduct)
		r.Post("/api/carts/{cid}/purchase", h.Purchase)

		r.Get("/api/tickets", h.ListTickets)
		r.Get("/api/tickets/{tid}", h.GetTicket)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	result, err := h.catalog.ListProducts(r.Context(), page, limit)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductPageDTO(result))
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "pid"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewProductView(*product))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeBody(w, r, h.log, &req) {
		return
	}

	in := service.ProductInput{Price: decimal.Zero}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Category != nil {
		in.Category = *req.Category
	}
	if req.Price != nil {
		in.Price = *req.Price
	}
	if req.Stock != nil {
		in.Stock = *req.Stock
	}

	product, err := h.catalog.CreateProduct(r.Context(), in)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewProductView(*product))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeBody(w, r, h.log, &req) {
		return
	}

	patch := domain.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		Version:     req.Version,
	}
	product, err := h.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "pid"), patch)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewProductView(*product))
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	pid := chi.URLParam(r, "pid")
	if err := h.catalog.DeleteProduct(r.Context(), pid, page); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("product %s deleted", pid)})
}

func (h *HTTPHandler) ListCarts(w http.ResponseWriter, r *http.Request) {
	carts, err := h.carts.ListCarts(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	out := make([]cartDTO, 0, len(carts))
	for _, c := range carts {
		out = append(out, newCartDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) CreateCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.CreateCart(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCartDTO(*cart))
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartDTO(*cart))
}

func (h *HTTPHandler) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	var req replaceItemsRequest
	if !decodeBody(w, r, h.log, &req) {
		return
	}
	items := make([]domain.LineItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, domain.LineItem{ProductID: p.Product, Quantity: p.Quantity})
	}

	cart, err := h.carts.ReplaceItems(r.Context(), chi.URLParam(r, "cid"), items)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartDTO(*cart))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	prior, err := h.carts.ClearCart(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, clearCartResponse{Message: "cart cleared", ClearedCart: newCartDTO(*prior)})
}

func (h *HTTPHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.AddProduct(r.Context(), chi.URLParam(r, "cid"), chi.URLParam(r, "pid"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartDTO(*cart))
}

func (h *HTTPHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeBody(w, r, h.log, &req) {
		return
	}
	if req.Quantity == nil {
		respondError(w, r, h.log, domain.NewValidationError("missing quantity"))
		return
	}

	cart, err := h.carts.UpdateQuantity(r.Context(), chi.URLParam(r, "cid"), chi.URLParam(r, "pid"), *req.Quantity)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartDTO(*cart))
}

func (h *HTTPHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemoveProduct(r.Context(), chi.URLParam(r, "cid"), chi.URLParam(r, "pid"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartDTO(*cart))
}

// Purchase checks the cart out for the identified purchaser.
func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	settlement, err := h.checkout.Checkout(r.Context(), service.CheckoutRequest{
		CartID:         chi.URLParam(r, "cid"),
		Purchaser:      PurchaserFrom(r.Context()),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	h.countCheckout(settlement, err)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	resp := checkoutResponse{
		Message: "purchase completed",
		Ticket:  newTicketDTO(*settlement.Ticket),
	}
	if !settlement.FullySettled() {
		resp.Message = "purchase partially completed"
		resp.UnprocessedProducts = settlement.UnprocessedProductIDs()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) countCheckout(settlement *domain.Settlement, err error) {
	if h.metrics == nil {
		return
	}
	h.metrics.Checkouts.WithLabelValues(checkoutOutcome(settlement, err)).Inc()
}

func checkoutOutcome(settlement *domain.Settlement, err error) string {
	if err == nil {
		if settlement.FullySettled() {
			return "settled"
		}
		return "partial"
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return "invalid"
	case domain.KindNotFound:
		return "not_found"
	case domain.KindEmptyCart:
		return "empty_cart"
	case domain.KindNoStockAvailable:
		return "no_stock"
	case domain.KindConflict:
		return "duplicate"
	default:
		return "error"
	}
}

func (h *HTTPHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.tickets.ListTickets(r.Context(), PurchaserFrom(r.Context()))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	out := make([]ticketDTO, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, newTicketDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.GetTicket(r.Context(), chi.URLParam(r, "tid"), PurchaserFrom(r.Context()))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketDTO(*ticket))
}

// Feed streams catalog events as Server-Sent Events, starting with the first page as an init event.
func (h *HTTPHandler) Feed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	events, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	snapshot, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(feedKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.log.WithError(err).Debug("feed subscriber gone")
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event domain.CatalogEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, log, domain.NewValidationError("invalid request body"))
		return false
	}
	return true
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError("%s must be an integer", name)
	}
	return n, nil
}
