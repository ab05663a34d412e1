package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mmeshcher/voucherhub/internal/metrics"
	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

var (
	// ErrInsufficientStock возвращается, если остатка не хватает для передачи или продажи.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyUsed возвращается при повторном погашении ваучера.
	ErrAlreadyUsed = errors.New("voucher already used")
	// ErrInvalidQuantity возвращается для количества вне диапазона 1..validation.MaxQuantity.
	ErrInvalidQuantity = errors.New("quantity out of range")
	// ErrInvalidPrice возвращается для цены вне диапазона 0..validation.MaxPrice
	// или если общая сумма не помещается в int64 копеек.
	ErrInvalidPrice = errors.New("price out of range")
)

// DistributeInput описывает передачу ваучеров от владельца сотруднику.
// Если UnitPrice не задан, используется номинал ваучера.
type DistributeInput struct {
	OwnerID       int64
	EmployeeID    int64
	VoucherID     int64
	Quantity      int64
	UnitPrice     *float64
	PaymentStatus model.PaymentStatus
}

// Distribute списывает Quantity единиц с общего остатка партии и зачисляет их сотруднику.
// Запись о передаче, списание и зачисление выполняются одной атомарной операцией.
func (s *Service) Distribute(ctx context.Context, in DistributeInput) (*model.Distribution, error) {
	if in.Quantity <= 0 || in.Quantity > validation.MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = model.PaymentStatusPending
	}

	var dist *model.Distribution
	err := s.store.Update(ctx, func(q repository.Queries) error {
		voucher, err := q.GetVoucher(ctx, in.VoucherID)
		if err != nil {
			return err
		}

		if err := requireRole(ctx, q, in.EmployeeID, model.RoleEmployee); err != nil {
			return err
		}

		if voucher.CurrentStock < in.Quantity {
			return fmt.Errorf("%w: voucher %d has %d, requested %d",
				ErrInsufficientStock, voucher.ID, voucher.CurrentStock, in.Quantity)
		}

		unit, total, err := pricing(in.UnitPrice, voucher.Value, in.Quantity)
		if err != nil {
			return err
		}
		dist = &model.Distribution{
			OwnerID:       in.OwnerID,
			EmployeeID:    in.EmployeeID,
			VoucherID:     in.VoucherID,
			Quantity:      in.Quantity,
			UnitPrice:     unit,
			TotalPrice:    total,
			PaymentStatus: in.PaymentStatus,
		}
		if err := q.CreateDistribution(ctx, dist); err != nil {
			return err
		}

		remaining := voucher.CurrentStock - in.Quantity
		if _, err := q.UpdateVoucher(ctx, voucher.ID, model.VoucherPatch{CurrentStock: &remaining}); err != nil {
			return err
		}

		stock, err := q.GetEmployeeStock(ctx, in.EmployeeID, in.VoucherID)
		switch {
		case err == nil:
			return q.SetEmployeeStockQuantity(ctx, stock.ID, stock.Quantity+in.Quantity)
		case errors.Is(err, repository.ErrNotFound):
			return q.CreateEmployeeStock(ctx, &model.EmployeeStock{
				EmployeeID: in.EmployeeID,
				VoucherID:  in.VoucherID,
				Quantity:   in.Quantity,
			})
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	metrics.VoucherUnitsTotal.WithLabelValues(metrics.OperationDistribute).Add(float64(in.Quantity))
	s.logger.Info("vouchers distributed",
		zap.Int64("distributionID", dist.ID),
		zap.Int64("ownerID", in.OwnerID),
		zap.Int64("employeeID", in.EmployeeID),
		zap.Int64("voucherID", in.VoucherID),
		zap.Int64("quantity", in.Quantity),
	)

	return dist, nil
}

// SellInput описывает продажу ваучеров сотрудником клиенту.
// Если UnitPrice не задан, используется номинал ваучера.
type SellInput struct {
	EmployeeID int64
	CustomerID int64
	VoucherID  int64
	Quantity   int64
	UnitPrice  *float64
	IsOnline   bool
}

// Sell списывает Quantity единиц с остатка сотрудника и создаёт столько же отдельных
// неиспользованных ваучеров клиента, привязанных к записи о продаже.
func (s *Service) Sell(ctx context.Context, in SellInput) (*model.Sale, []model.CustomerVoucher, error) {
	if in.Quantity <= 0 || in.Quantity > validation.MaxQuantity {
		return nil, nil, ErrInvalidQuantity
	}

	var (
		sale  *model.Sale
		units []model.CustomerVoucher
	)
	err := s.store.Update(ctx, func(q repository.Queries) error {
		stock, err := q.GetEmployeeStock(ctx, in.EmployeeID, in.VoucherID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: employee %d holds no voucher %d",
					ErrInsufficientStock, in.EmployeeID, in.VoucherID)
			}
			return err
		}
		if stock.Quantity < in.Quantity {
			return fmt.Errorf("%w: employee %d holds %d, requested %d",
				ErrInsufficientStock, in.EmployeeID, stock.Quantity, in.Quantity)
		}

		if err := requireRole(ctx, q, in.CustomerID, model.RoleCustomer); err != nil {
			return err
		}

		voucher, err := q.GetVoucher(ctx, in.VoucherID)
		if err != nil {
			return err
		}

		unit, total, err := pricing(in.UnitPrice, voucher.Value, in.Quantity)
		if err != nil {
			return err
		}
		sale = &model.Sale{
			EmployeeID: in.EmployeeID,
			CustomerID: in.CustomerID,
			VoucherID:  in.VoucherID,
			Quantity:   in.Quantity,
			UnitPrice:  unit,
			TotalPrice: total,
			IsOnline:   in.IsOnline,
			IsSynced:   true,
		}
		if err := q.CreateSale(ctx, sale); err != nil {
			return err
		}

		if err := q.SetEmployeeStockQuantity(ctx, stock.ID, stock.Quantity-in.Quantity); err != nil {
			return err
		}

		batch := make([]*model.CustomerVoucher, in.Quantity)
		for i := range batch {
			batch[i] = &model.CustomerVoucher{
				CustomerID: in.CustomerID,
				VoucherID:  in.VoucherID,
				SaleID:     sale.ID,
			}
		}
		if err := q.CreateCustomerVouchers(ctx, batch); err != nil {
			return err
		}

		units = make([]model.CustomerVoucher, 0, len(batch))
		for _, cv := range batch {
			units = append(units, *cv)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.VoucherUnitsTotal.WithLabelValues(metrics.OperationSell).Add(float64(in.Quantity))
	s.logger.Info("vouchers sold",
		zap.Int64("saleID", sale.ID),
		zap.Int64("employeeID", in.EmployeeID),
		zap.Int64("customerID", in.CustomerID),
		zap.Int64("voucherID", in.VoucherID),
		zap.Int64("quantity", in.Quantity),
	)

	return sale, units, nil
}

// Redeem отмечает ваучер клиента использованным. Погасить ваучер может только его владелец, и только один раз.
func (s *Service) Redeem(ctx context.Context, customerID, customerVoucherID int64) (*model.CustomerVoucher, error) {
	var cv *model.CustomerVoucher
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		cv, err = q.GetCustomerVoucher(ctx, customerVoucherID)
		if err != nil {
			return err
		}
		if cv.CustomerID != customerID {
			return fmt.Errorf("%w: customer voucher %d belongs to another customer", ErrForbidden, cv.ID)
		}
		if cv.IsUsed {
			return fmt.Errorf("%w: customer voucher %d", ErrAlreadyUsed, cv.ID)
		}

		usedAt := s.now()
		if err := q.MarkCustomerVoucherUsed(ctx, cv.ID, usedAt); err != nil {
			return err
		}
		cv.IsUsed = true
		cv.UsedAt = &usedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.VoucherUnitsTotal.WithLabelValues(metrics.OperationRedeem).Inc()
	s.logger.Info("voucher redeemed",
		zap.Int64("customerVoucherID", cv.ID),
		zap.Int64("customerID", customerID),
	)

	return cv, nil
}

// UpdateDistributionPayment меняет статус оплаты передачи.
func (s *Service) UpdateDistributionPayment(ctx context.Context, id int64, status model.PaymentStatus) (*model.Distribution, error) {
	var d *model.Distribution
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		d, err = q.UpdateDistributionPayment(ctx, id, status)
		return err
	})
	return d, err
}

func requireRole(ctx context.Context, q repository.Queries, userID int64, role model.Role) error {
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != role {
		return fmt.Errorf("%w: user %d is %s, want %s", ErrInvalidRole, u.ID, u.Role, role)
	}
	return nil
}

// pricing возвращает цену единицы и общую сумму, считая в копейках.
func pricing(unitPrice *float64, fallback float64, quantity int64) (float64, float64, error) {
	unit := fallback
	if unitPrice != nil {
		unit = *unitPrice
	}
	if math.IsNaN(unit) || unit < 0 || unit > validation.MaxPrice {
		return 0, 0, fmt.Errorf("%w: unit price %v", ErrInvalidPrice, unit)
	}

	cents := model.ToCents(unit)
	if quantity <= 0 || cents > math.MaxInt64/quantity {
		return 0, 0, fmt.Errorf("%w: %d x %d cents overflows", ErrInvalidPrice, quantity, cents)
	}
	return model.FromCents(cents), model.FromCents(cents * quantity), nil
}
