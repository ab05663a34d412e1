package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/voucherhub/internal/middleware"
	"github.com/mmeshcher/voucherhub/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса учёта ваучеров.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Recovery(h.logger))
	r.Use(custommiddleware.NewCORS(h.allowedOrigins))
	r.Use(custommiddleware.Metrics)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	owner := h.authMiddleware.RequireRole(model.RoleOwner)
	employee := h.authMiddleware.RequireRole(model.RoleEmployee)
	customer := h.authMiddleware.RequireRole(model.RoleCustomer)
	staff := h.authMiddleware.RequireRole(model.RoleOwner, model.RoleEmployee)
	anyone := h.authMiddleware.RequireRole(model.RoleOwner, model.RoleEmployee, model.RoleCustomer)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(anyone)

			r.Post("/logout", h.Logout)
			r.Get("/user", h.CurrentUser)
		})

		r.Group(func(r chi.Router) {
			r.Use(owner)

			r.Post("/vouchers", h.CreateVoucher)
			r.Get("/vouchers", h.ListVouchers)
			r.Get("/vouchers/{id}", h.GetVoucher)
			r.Patch("/vouchers/{id}", h.UpdateVoucher)
			r.Delete("/vouchers/{id}", h.DeleteVoucher)

			r.Get("/employees", h.ListEmployees)
			r.Post("/users", h.CreateUser)
			r.Patch("/users/{id}", h.UpdateUser)
			r.Delete("/users/{id}", h.DeleteUser)

			r.Post("/distributions", h.Distribute)
			r.Patch("/distributions/{id}/payment", h.UpdateDistributionPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(staff)

			r.Get("/customers", h.ListCustomers)
			r.Get("/distributions", h.ListDistributions)
			r.Get("/sales", h.ListSales)
		})

		r.Group(func(r chi.Router) {
			r.Use(employee)

			r.Get("/employee-stock", h.ListEmployeeStock)
			r.Post("/sales", h.CreateSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(customer)

			r.Get("/customer-vouchers", h.ListCustomerVouchers)
			r.Patch("/customer-vouchers/{id}/use", h.UseCustomerVoucher)
			r.Get("/customer-transactions", h.CustomerTransactions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
