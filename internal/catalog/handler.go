package catalog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes catalog maintenance and browsing over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.upsertProduct)
	r.Delete("/products/{id}", h.deleteProduct)
	r.Post("/products/{id}/adjust", h.adjustStock)
	r.Get("/products/{id}/movements", h.listMovements)
	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.upsertCategory)
}

type recipeComponentRequest struct {
	ProductID       string `json:"productId" validate:"required"`
	QuantityPerUnit int64  `json:"quantityPerUnit" validate:"gt=0"`
}

type productRequest struct {
	ID          string                   `json:"id" validate:"omitempty,max=64"`
	Name        string                   `json:"name" validate:"required,max=120"`
	SKU         string                   `json:"sku" validate:"max=64"`
	Price       int64                    `json:"price" validate:"gte=0,lte=1000000000000"`
	CategoryID  string                   `json:"categoryId" validate:"max=64"`
	Kind        Kind                     `json:"kind" validate:"required,oneof=simple raw_material derived"`
	StoredStock int64                    `json:"storedStock" validate:"gte=0"`
	Recipe      []recipeComponentRequest `json:"recipe" validate:"dive"`
}

func (req productRequest) product() Product {
	p := Product{
		ID:          req.ID,
		Name:        req.Name,
		SKU:         req.SKU,
		Price:       req.Price,
		CategoryID:  req.CategoryID,
		Kind:        req.Kind,
		StoredStock: req.StoredStock,
	}
	for _, c := range req.Recipe {
		p.Recipe = append(p.Recipe, RecipeComponent{ProductID: c.ProductID, QuantityPerUnit: c.QuantityPerUnit})
	}
	return p
}

type adjustRequest struct {
	Delta int64  `json:"delta" validate:"ne=0"`
	Note  string `json:"note" validate:"max=255"`
}

type categoryRequest struct {
	ID   string `json:"id" validate:"omitempty,max=64"`
	Name string `json:"name" validate:"required,max=80"`
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		SearchText: strings.TrimSpace(q.Get("q")),
		CategoryID: strings.TrimSpace(q.Get("category")),
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": h.service.ListActive(filter)})
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.UpsertProduct(r.Context(), req.product(), httpx.Actor(r))
	if err != nil {
		h.fail(w, r, "upsert product", err)
		return
	}
	status := http.StatusOK
	if req.ID == "" {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id"), httpx.Actor(r)); err != nil {
		h.fail(w, r, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.AdjustStock(r.Context(), AdjustInput{
		ProductID: chi.URLParam(r, "id"),
		Delta:     req.Delta,
		Note:      req.Note,
		Actor:     httpx.Actor(r),
	})
	if err != nil {
		h.fail(w, r, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": h.service.ListCategories()})
}

func (h *Handler) upsertCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	category, err := h.service.UpsertCategory(r.Context(), Category{ID: req.ID, Name: req.Name}, httpx.Actor(r))
	if err != nil {
		h.fail(w, r, "upsert category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, category)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
