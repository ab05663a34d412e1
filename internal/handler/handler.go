// Package handler содержит HTTP-обработчики API сервиса учёта ваучеров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/voucherhub/internal/middleware"
	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/service"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, in service.UserInput) (*model.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (*model.User, error)
	CreateUser(ctx context.Context, in service.UserInput) (*model.User, error)
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
	UpdateUser(ctx context.Context, id int64, upd service.UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)

	CreateVoucher(ctx context.Context, in service.VoucherInput) (*model.Voucher, error)
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	ListVouchers(ctx context.Context) ([]model.Voucher, error)
	UpdateVoucher(ctx context.Context, id int64, patch model.VoucherPatch) (*model.Voucher, error)
	DeleteVoucher(ctx context.Context, id int64) (bool, error)

	Distribute(ctx context.Context, in service.DistributeInput) (*model.Distribution, error)
	ListDistributions(ctx context.Context, f repository.DistributionFilter) ([]model.Distribution, error)
	UpdateDistributionPayment(ctx context.Context, id int64, status model.PaymentStatus) (*model.Distribution, error)
	ListEmployeeStock(ctx context.Context, employeeID int64) ([]model.StockItem, error)

	Sell(ctx context.Context, in service.SellInput) (*model.Sale, []model.CustomerVoucher, error)
	ListSales(ctx context.Context, f repository.SaleFilter) ([]model.Sale, error)

	ListCustomerVouchers(ctx context.Context, customerID int64) ([]model.OwnedVoucher, error)
	Redeem(ctx context.Context, customerID, customerVoucherID int64) (*model.CustomerVoucher, error)
	CustomerTransactions(ctx context.Context, customerID int64) ([]model.CustomerTransaction, error)
}

// Handler реализует HTTP-обработчики API сервиса учёта ваучеров.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields validation.Errors `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-ответ. Неожиданные ошибки пишутся в журнал.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr validation.Errors
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr})
	case errors.Is(err, errBodyTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrAlreadyUsed),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidPrice):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrVoucherCodeExists),
		errors.Is(err, repository.ErrInUse):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

var errBodyTooLarge = errors.New("request body too large")

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return validation.Errors{"body": "malformed JSON: " + err.Error()}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, validation.Errors{"id": "must be a positive integer"}
	}
	return id, nil
}

// currentUser возвращает пользователя, определённого middleware; без него отвечает 401.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: http.StatusText(http.StatusUnauthorized)})
		return nil, false
	}
	return u, true
}

// Health сообщает, что процесс обслуживает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
