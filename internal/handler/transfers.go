package handler

import (
	"net/http"
	"strconv"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/service"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

const (
	quantityRule  = "must be between 1 and 100000"
	unitPriceRule = "must be between 0 and 1000000"
)

type distributeRequest struct {
	EmployeeID    int64    `json:"employeeId"`
	VoucherID     int64    `json:"voucherId"`
	Quantity      int64    `json:"quantity"`
	UnitPrice     *float64 `json:"unitPrice"`
	PaymentStatus string   `json:"paymentStatus"`
}

// Distribute передаёт ваучеры от текущего владельца сотруднику.
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req distributeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	errs := validation.Errors{}
	if req.EmployeeID <= 0 {
		errs.Add("employeeId", "required")
	}
	if req.VoucherID <= 0 {
		errs.Add("voucherId", "required")
	}
	if req.Quantity <= 0 || req.Quantity > validation.MaxQuantity {
		errs.Add("quantity", quantityRule)
	}
	if req.UnitPrice != nil && (*req.UnitPrice < 0 || *req.UnitPrice > validation.MaxPrice) {
		errs.Add("unitPrice", unitPriceRule)
	}
	status := model.PaymentStatus(req.PaymentStatus)
	if status != "" && !status.Valid() {
		errs.Add("paymentStatus", "must be pending or paid")
	}
	if err := errs.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	dist, err := h.service.Distribute(r.Context(), service.DistributeInput{
		OwnerID:       owner.ID,
		EmployeeID:    req.EmployeeID,
		VoucherID:     req.VoucherID,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		PaymentStatus: status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dist)
}

// ListDistributions возвращает передачи: владельцу все (с фильтром employeeId), сотруднику только свои.
func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var f repository.DistributionFilter
	if user.Role == model.RoleEmployee {
		f.EmployeeID = user.ID
	} else if v := r.URL.Query().Get("employeeId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, r, validation.Errors{"employeeId": "must be a positive integer"})
			return
		}
		f.EmployeeID = id
	}

	res, err := h.service.ListDistributions(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type paymentRequest struct {
	PaymentStatus string `json:"paymentStatus"`
}

// UpdateDistributionPayment меняет статус оплаты передачи.
func (h *Handler) UpdateDistributionPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	status := model.PaymentStatus(req.PaymentStatus)
	if !status.Valid() {
		h.writeError(w, r, validation.Errors{"paymentStatus": "must be pending or paid"})
		return
	}

	dist, err := h.service.UpdateDistributionPayment(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// ListEmployeeStock возвращает остатки текущего сотрудника.
func (h *Handler) ListEmployeeStock(w http.ResponseWriter, r *http.Request) {
	employee, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	stock, err := h.service.ListEmployeeStock(r.Context(), employee.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

type saleRequest struct {
	CustomerID int64    `json:"customerId"`
	VoucherID  int64    `json:"voucherId"`
	Quantity   int64    `json:"quantity"`
	UnitPrice  *float64 `json:"unitPrice"`
	IsOnline   bool     `json:"isOnline"`
}

type saleResponse struct {
	*model.Sale
	CustomerVouchers []model.CustomerVoucher `json:"customerVouchers"`
}

// CreateSale продаёт ваучеры из остатка текущего сотрудника клиенту.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	employee, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	errs := validation.Errors{}
	if req.CustomerID <= 0 {
		errs.Add("customerId", "required")
	}
	if req.VoucherID <= 0 {
		errs.Add("voucherId", "required")
	}
	if req.Quantity <= 0 || req.Quantity > validation.MaxQuantity {
		errs.Add("quantity", quantityRule)
	}
	if req.UnitPrice != nil && (*req.UnitPrice < 0 || *req.UnitPrice > validation.MaxPrice) {
		errs.Add("unitPrice", unitPriceRule)
	}
	if err := errs.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	sale, units, err := h.service.Sell(r.Context(), service.SellInput{
		EmployeeID: employee.ID,
		CustomerID: req.CustomerID,
		VoucherID:  req.VoucherID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		IsOnline:   req.IsOnline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saleResponse{Sale: sale, CustomerVouchers: units})
}

// ListSales возвращает продажи: владельцу все, сотруднику только свои.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var f repository.SaleFilter
	if user.Role == model.RoleEmployee {
		f.EmployeeID = user.ID
	}

	sales, err := h.service.ListSales(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

// ListCustomerVouchers возвращает ваучеры текущего клиента.
func (h *Handler) ListCustomerVouchers(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.ListCustomerVouchers(r.Context(), customer.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UseCustomerVoucher погашает ваучер текущего клиента.
func (h *Handler) UseCustomerVoucher(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cv, err := h.service.Redeem(r.Context(), customer.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

// CustomerTransactions возвращает покупки текущего клиента.
func (h *Handler) CustomerTransactions(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.CustomerTransactions(r.Context(), customer.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
