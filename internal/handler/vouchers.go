package handler

import (
	"net/http"
	"strings"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/service"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

const (
	valueRule = "must be positive and at most 1000000"
	stockRule = "must be between 0 and 10000000"
)

type voucherRequest struct {
	Code         string  `json:"code"`
	Type         string  `json:"type"`
	Value        float64 `json:"value"`
	InitialStock int64   `json:"initialStock"`
	ExpiryDate   string  `json:"expiryDate"`
}

// CreateVoucher создаёт партию ваучеров от имени текущего владельца.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req voucherRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	errs := validation.Errors{}
	code := validation.NormalizeVoucherCode(req.Code)
	if !validation.IsValidVoucherCode(code) {
		errs.Add("code", "3-32 characters: letters, digits, '-', '_'")
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		errs.Add("type", "required")
	}
	if req.Value <= 0 || req.Value > validation.MaxPrice {
		errs.Add("value", valueRule)
	}
	if req.InitialStock < 0 || req.InitialStock > validation.MaxStock {
		errs.Add("initialStock", stockRule)
	}
	expiry, err := validation.ParseDate(req.ExpiryDate)
	if err != nil {
		errs.Add("expiryDate", err.Error())
	}
	if err := errs.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.service.CreateVoucher(r.Context(), service.VoucherInput{
		Code:         code,
		Type:         req.Type,
		Value:        req.Value,
		InitialStock: req.InitialStock,
		ExpiryDate:   expiry,
		CreatedBy:    owner.ID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ListVouchers возвращает все партии ваучеров.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListVouchers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vouchers)
}

// GetVoucher возвращает партию ваучеров по идентификатору.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.service.GetVoucher(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type updateVoucherRequest struct {
	Code         *string  `json:"code"`
	Type         *string  `json:"type"`
	Value        *float64 `json:"value"`
	CurrentStock *int64   `json:"currentStock"`
	ExpiryDate   *string  `json:"expiryDate"`
}

// UpdateVoucher изменяет партию ваучеров. Код партии не меняется.
func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req updateVoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	errs := validation.Errors{}
	var patch model.VoucherPatch
	if req.Code != nil {
		errs.Add("code", "cannot be changed")
	}
	if req.Type != nil {
		t := strings.TrimSpace(*req.Type)
		if t == "" {
			errs.Add("type", "must not be empty")
		}
		patch.Type = &t
	}
	if req.Value != nil {
		if *req.Value <= 0 || *req.Value > validation.MaxPrice {
			errs.Add("value", valueRule)
		}
		patch.Value = req.Value
	}
	if req.CurrentStock != nil {
		if *req.CurrentStock < 0 || *req.CurrentStock > validation.MaxStock {
			errs.Add("currentStock", stockRule)
		}
		patch.CurrentStock = req.CurrentStock
	}
	if req.ExpiryDate != nil {
		expiry, err := validation.ParseDate(*req.ExpiryDate)
		if err != nil {
			errs.Add("expiryDate", err.Error())
		}
		patch.ExpiryDate = &expiry
	}
	if err := errs.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.service.UpdateVoucher(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DeleteVoucher удаляет партию ваучеров.
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	deleted, err := h.service.DeleteVoucher(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "voucher not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
