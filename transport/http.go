package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	store "gofalre.io/store"
	"gofalre.io/store/models"
)

// CartIDHeader carries the opaque cart id in both directions. The client
// replays the id it was handed; the server never interprets it beyond lookup.
const CartIDHeader = "X-Cart-ID"

type Handler struct {
	service store.Service
	logger  *zap.Logger
}

func NewHandler(service store.Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/cart", h.showCart).Methods(http.MethodGet)
	r.HandleFunc("/cart", h.createWithItem).Methods(http.MethodPost)
	r.HandleFunc("/cart/add_item", h.addItem).Methods(http.MethodPost)
	r.HandleFunc("/cart/{product_id}", h.removeItem).Methods(http.MethodDelete)

	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)

	return r
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (h *Handler) showCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetOrCreateCart(r.Context(), r.Header.Get(CartIDHeader))
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.respondCart(w, http.StatusOK, cart)
}

func (h *Handler) createWithItem(w http.ResponseWriter, r *http.Request) {
	h.handleAdd(w, r, http.StatusCreated)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	h.handleAdd(w, r, http.StatusOK)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request, okStatus int) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validated before any cart is touched, so a bad quantity never creates
	// partial state.
	if !models.ValidQuantity(req.Quantity) {
		h.writeError(w, http.StatusUnprocessableEntity, "Quantity must be greater than 0")
		return
	}

	cart, err := h.service.GetOrCreateCart(r.Context(), r.Header.Get(CartIDHeader))
	if err != nil {
		h.serverError(w, err)
		return
	}

	cart, err = h.service.AddProductToCart(r.Context(), cart.ID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "Product not found")
		case errors.Is(err, models.ErrInvalidQuantity):
			h.writeError(w, http.StatusUnprocessableEntity, "Quantity must be greater than 0")
		default:
			h.serverError(w, err)
		}
		return
	}

	h.respondCart(w, okStatus, cart)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["product_id"]

	cart, err := h.service.GetOrCreateCart(r.Context(), r.Header.Get(CartIDHeader))
	if err != nil {
		h.serverError(w, err)
		return
	}

	cart, err = h.service.RemoveProductFromCart(r.Context(), cart.ID, productID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCartItemNotFound):
			h.writeError(w, http.StatusNotFound, "Product not found in cart")
		default:
			h.serverError(w, err)
		}
		return
	}

	h.respondCart(w, http.StatusOK, cart)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			h.writeError(w, http.StatusNotFound, "Product not found")
			return
		}
		h.serverError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit := queryUint(r, "limit", 50)
	offset := queryUint(r, "offset", 0)

	products, err := h.service.ListProducts(r.Context(), limit, offset)
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) respondCart(w http.ResponseWriter, status int, cart *models.Cart) {
	w.Header().Set(CartIDHeader, cart.ID)
	h.writeJSON(w, status, cart.View())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("Request failed", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func queryUint(r *http.Request, key string, def uint64) uint64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
