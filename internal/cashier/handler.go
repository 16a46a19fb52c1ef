package cashier

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

// IdempotencyHeader optionally carries the checkout idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires the terminal cart and order endpoints.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	catalog   *catalog.Catalog
	orders    *orders.Service
	validator *validator.Validate
}

// NewHandler constructs the cashier handler.
func NewHandler(logger *slog.Logger, registry *Registry, products *catalog.Catalog, orderService *orders.Service) *Handler {
	return &Handler{
		logger:    logger,
		registry:  registry,
		catalog:   products,
		orders:    orderService,
		validator: validator.New(),
	}
}

// MountTerminalRoutes registers routes under /terminals/{terminal}.
func (h *Handler) MountTerminalRoutes(r chi.Router) {
	r.Route("/{terminal}", func(r chi.Router) {
		r.Get("/cart", h.showCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/lines", h.addLine)
		r.Put("/cart/lines/{productID}", h.setQuantity)
		r.Delete("/cart/lines/{productID}", h.removeLine)
		r.Put("/cart/discount", h.setDiscount)
		r.Put("/cart/details", h.setDetails)
		r.Post("/cart/save", h.saveOrder)
		r.Post("/cart/checkout", h.checkout)
		r.Post("/orders/{id}/load", h.loadOrder)
	})
}

// MountOrderRoutes registers the order lookup routes.
func (h *Handler) MountOrderRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Get("/{id}", h.getOrder)
}

type addLineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=0"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type discountRequest struct {
	Kind  pricing.DiscountKind `json:"kind" validate:"required,oneof=none percent fixed"`
	Value decimal.Decimal      `json:"value"`
}

type detailsRequest struct {
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
	CustomerID *string `json:"customerId" validate:"omitempty,max=64"`
}

type checkoutRequest struct {
	Method         orders.PaymentMethod `json:"method" validate:"required,oneof=cash card qris transfer"`
	Tendered       int64                `json:"tendered" validate:"gte=0"`
	Reference      string               `json:"reference" validate:"max=120"`
	IdempotencyKey string               `json:"idempotencyKey" validate:"max=128"`
}

type cartView struct {
	TerminalID    string           `json:"terminalId"`
	Lines         []cart.Line      `json:"lines"`
	Discount      pricing.Discount `json:"discount"`
	Notes         string           `json:"notes,omitempty"`
	CustomerID    string           `json:"customerId,omitempty"`
	LoadedOrderID string           `json:"loadedOrderId,omitempty"`
	Totals        pricing.Totals   `json:"totals"`
	TotalDisplay  string           `json:"totalDisplay"`
}

type checkoutView struct {
	Order         orders.Order `json:"order"`
	Stock         stock.Report `json:"stock"`
	TotalDisplay  string       `json:"totalDisplay"`
	ChangeDisplay string       `json:"changeDisplay"`
}

func (h *Handler) view(sess *Session, c *cart.Cart) cartView {
	snap := c.Snapshot()
	totals := c.Totals(h.orders.TaxPolicy())
	if snap.Lines == nil {
		snap.Lines = []cart.Line{}
	}
	return cartView{
		TerminalID:    sess.TerminalID(),
		Lines:         snap.Lines,
		Discount:      snap.Discount,
		Notes:         snap.Notes,
		CustomerID:    snap.CustomerID,
		LoadedOrderID: snap.LoadedOrderID,
		Totals:        totals,
		TotalDisplay:  pricing.FormatAmount(totals.Total),
	}
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

// mutate runs fn against the terminal cart and responds with the cart.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, status int, op string, fn func(*cart.Cart) error) {
	sess, err := h.registry.Session(chi.URLParam(r, "terminal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var view cartView
	err = sess.Do(func(c *cart.Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		view = h.view(sess, c)
		return nil
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httpx.JSON(w, status, view)
}

func (h *Handler) showCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, "show cart", func(*cart.Cart) error { return nil })
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, "clear cart", func(c *cart.Cart) error { return c.Clear() })
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	h.mutate(w, r, http.StatusOK, "add line", func(c *cart.Cart) error {
		product, err := h.catalog.Product(req.ProductID)
		if err != nil {
			return err
		}
		_, err = c.AddLine(product, req.Quantity)
		return err
	})
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	h.mutate(w, r, http.StatusOK, "set quantity", func(c *cart.Cart) error {
		_, err := c.SetQuantity(productID, req.Quantity)
		return err
	})
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	h.mutate(w, r, http.StatusOK, "remove line", func(c *cart.Cart) error {
		return c.RemoveLine(productID)
	})
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutate(w, r, http.StatusOK, "set discount", func(c *cart.Cart) error {
		return c.SetDiscount(pricing.Discount{Kind: req.Kind, Value: req.Value})
	})
}

func (h *Handler) setDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutate(w, r, http.StatusOK, "set details", func(c *cart.Cart) error {
		if req.Notes != nil {
			if err := c.SetNotes(strings.TrimSpace(*req.Notes)); err != nil {
				return err
			}
		}
		if req.CustomerID != nil {
			return c.SetCustomer(strings.TrimSpace(*req.CustomerID))
		}
		return nil
	})
}

func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, "load order", func(c *cart.Cart) error {
		_, err := h.orders.Load(r.Context(), orderID, c)
		return err
	})
}

func (h *Handler) saveOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Session(chi.URLParam(r, "terminal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var order orders.Order
	err = sess.Do(func(c *cart.Cart) error {
		var saveErr error
		order, saveErr = h.orders.Save(r.Context(), sess.TerminalID(), c)
		return saveErr
	})
	if err != nil {
		h.fail(w, r, "save order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.registry.Session(chi.URLParam(r, "terminal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	info := orders.PaymentInfo{
		Method:         req.Method,
		Tendered:       req.Tendered,
		Reference:      strings.TrimSpace(req.Reference),
		IdempotencyKey: key,
	}
	var result orders.CheckoutResult
	err = sess.Do(func(c *cart.Cart) error {
		var payErr error
		result, payErr = h.orders.Checkout(r.Context(), sess.TerminalID(), c, info)
		return payErr
	})
	if err != nil {
		h.fail(w, r, "checkout", err)
		return
	}
	view := checkoutView{
		Order:        result.Order,
		Stock:        result.Stock,
		TotalDisplay: pricing.FormatAmount(result.Order.Totals.Total),
	}
	if result.Order.Payment != nil {
		view.ChangeDisplay = pricing.FormatAmount(result.Order.Payment.Change)
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	list, err := h.orders.List(r.Context(), orders.ListFilter{
		Status:     orders.Status(strings.TrimSpace(q.Get("status"))),
		TerminalID: strings.TrimSpace(q.Get("terminal")),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn(op+" aborted", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
