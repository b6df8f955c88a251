// Package handler exposes the order, points and settings services over a
// JSON REST API.
package handler

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/xenking/pointshop/internal/domain/auth"
	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
	"github.com/xenking/pointshop/pkg/httpmiddleware"
)

// Header names read by the API.
const (
	UserHeader   = "X-User-ID"
	APIKeyHeader = "api_key"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key admin API keys are hashed with.
	APIKeyPepper []byte
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Orders   *order.Service
	Ledger   *points.Ledger
	Coupons  coupon.Evaluator
	Settings *settings.Service
	Products product.Repository
	APIKeys  auth.Repository
}

// Handler serves the REST API.
type Handler struct {
	orders   *order.Service
	ledger   *points.Ledger
	coupons  coupon.Evaluator
	settings *settings.Service
	products product.Repository
	apikeys  auth.Repository

	validate     *validator.Validate
	pepper       []byte
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		orders:       deps.Orders,
		ledger:       deps.Ledger,
		coupons:      deps.Coupons,
		settings:     deps.Settings,
		products:     deps.Products,
		apikeys:      deps.APIKeys,
		validate:     v,
		pepper:       cfg.APIKeyPepper,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
	}
}

// Router registers every route under /api.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errRouteNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errMethodNotAllowed)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet).Name("products.list")
	api.HandleFunc("/settings/point-price", h.GetPointPrice).Methods(http.MethodGet).Name("settings.point_price")

	user := api.NewRoute().Subrouter()
	user.Use(h.RequireUser)
	user.HandleFunc("/orders/quote", h.QuoteOrder).Methods(http.MethodPost).Name("orders.quote")
	user.HandleFunc("/orders/points-purchase", h.BuyPoints).Methods(http.MethodPost).Name("orders.points_purchase")
	user.HandleFunc("/orders/payment-confirmation", h.SubmitPaymentProof).Methods(http.MethodPost).Name("orders.payment_confirmation")
	user.HandleFunc("/orders", h.PlaceOrder).Methods(http.MethodPost).Name("orders.place")
	user.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet).Name("orders.list")
	user.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet).Name("orders.get")
	user.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods(http.MethodPost).Name("orders.cancel")
	user.HandleFunc("/orders/{id}/mark-delivered", h.MarkDelivered).Methods(http.MethodPost).Name("orders.mark_delivered")
	user.HandleFunc("/orders/{id}/confirm-delivery", h.ConfirmDelivery).Methods(http.MethodPost).Name("orders.confirm_delivery")
	user.HandleFunc("/shop/coupons/validate", h.ValidateCoupon).Methods(http.MethodPost).Name("coupons.validate")
	user.HandleFunc("/points/balance", h.PointsBalance).Methods(http.MethodGet).Name("points.balance")
	user.HandleFunc("/points/history", h.PointsHistory).Methods(http.MethodGet).Name("points.history")
	user.HandleFunc("/points/spend", h.SpendPoints).Methods(http.MethodPost).Name("points.spend")

	admin := api.NewRoute().Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/settings/admin/point-price", h.SetPointPrice).Methods(http.MethodPut).Name("admin.point_price")
	admin.HandleFunc("/admin/points/grant", h.GrantPoints).Methods(http.MethodPost).Name("admin.points.grant")
	admin.HandleFunc("/admin/system-orders", h.AdminListOrders).Methods(http.MethodGet).Name("admin.orders.list")
	admin.HandleFunc("/admin/system-orders/quote", h.AdminQuoteOrder).Methods(http.MethodPost).Name("admin.orders.quote")
	admin.HandleFunc("/admin/system-orders/{id}", h.AdminGetOrder).Methods(http.MethodGet).Name("admin.orders.get")
	admin.HandleFunc("/admin/system-orders/{id}", h.AdminEditOrder).Methods(http.MethodPut).Name("admin.orders.edit")
	admin.HandleFunc("/admin/system-orders/{id}", h.AdminDeleteOrder).Methods(http.MethodDelete).Name("admin.orders.delete")
	admin.HandleFunc("/admin/system-orders/{id}/status", h.AdminUpdateStatus).Methods(http.MethodPatch).Name("admin.orders.status")
	admin.HandleFunc("/admin/system-orders/{id}/payment-status", h.AdminUpdatePaymentStatus).Methods(http.MethodPatch).Name("admin.orders.payment_status")
	admin.HandleFunc("/admin/system-orders/{id}/approve-payment", h.AdminApprovePayment).Methods(http.MethodPost).Name("admin.orders.approve")
	admin.HandleFunc("/admin/system-orders/{id}/reject-payment", h.AdminRejectPayment).Methods(http.MethodPost).Name("admin.orders.reject")

	return r
}

// MakeRouteFinder returns a RouteFinder resolving requests to the path
// templates registered on r.
func MakeRouteFinder(r *mux.Router) httpmiddleware.RouteFinder {
	return func(req *http.Request) string {
		var match mux.RouteMatch
		if !r.Match(req, &match) || match.Route == nil {
			return ""
		}
		tpl, err := match.Route.GetPathTemplate()
		if err != nil {
			return ""
		}
		return tpl
	}
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
