package service

import (
	"context"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
)

// ListDistributions возвращает передачи, подходящие под фильтр.
func (s *Service) ListDistributions(ctx context.Context, f repository.DistributionFilter) ([]model.Distribution, error) {
	var res []model.Distribution
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		res, err = q.ListDistributions(ctx, f)
		return err
	})
	return res, err
}

// ListSales возвращает продажи, подходящие под фильтр.
func (s *Service) ListSales(ctx context.Context, f repository.SaleFilter) ([]model.Sale, error) {
	var res []model.Sale
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		res, err = q.ListSales(ctx, f)
		return err
	})
	return res, err
}

// ListEmployeeStock возвращает остатки сотрудника вместе с описанием партий.
func (s *Service) ListEmployeeStock(ctx context.Context, employeeID int64) ([]model.StockItem, error) {
	var res []model.StockItem
	err := s.store.View(ctx, func(q repository.Queries) error {
		stock, err := q.ListEmployeeStock(ctx, employeeID)
		if err != nil {
			return err
		}

		vouchers := voucherCache{q: q}
		res = make([]model.StockItem, 0, len(stock))
		for _, es := range stock {
			v, err := vouchers.get(ctx, es.VoucherID)
			if err != nil {
				return err
			}
			res = append(res, model.StockItem{EmployeeStock: es, Voucher: v})
		}
		return nil
	})
	return res, err
}

// ListCustomerVouchers возвращает ваучеры клиента вместе с описанием партий.
func (s *Service) ListCustomerVouchers(ctx context.Context, customerID int64) ([]model.OwnedVoucher, error) {
	var res []model.OwnedVoucher
	err := s.store.View(ctx, func(q repository.Queries) error {
		cvs, err := q.ListCustomerVouchers(ctx, repository.CustomerVoucherFilter{CustomerID: customerID})
		if err != nil {
			return err
		}

		vouchers := voucherCache{q: q}
		res = make([]model.OwnedVoucher, 0, len(cvs))
		for _, cv := range cvs {
			v, err := vouchers.get(ctx, cv.VoucherID)
			if err != nil {
				return err
			}
			res = append(res, model.OwnedVoucher{CustomerVoucher: cv, Voucher: v})
		}
		return nil
	})
	return res, err
}

// CustomerTransactions возвращает покупки клиента с кодом и номиналом ваучера и именем продавца.
func (s *Service) CustomerTransactions(ctx context.Context, customerID int64) ([]model.CustomerTransaction, error) {
	var res []model.CustomerTransaction
	err := s.store.View(ctx, func(q repository.Queries) error {
		sales, err := q.ListSales(ctx, repository.SaleFilter{CustomerID: customerID})
		if err != nil {
			return err
		}

		vouchers := voucherCache{q: q}
		employees := make(map[int64]string)
		res = make([]model.CustomerTransaction, 0, len(sales))
		for _, sl := range sales {
			v, err := vouchers.get(ctx, sl.VoucherID)
			if err != nil {
				return err
			}

			name, ok := employees[sl.EmployeeID]
			if !ok {
				u, err := q.GetUser(ctx, sl.EmployeeID)
				if err != nil {
					return err
				}
				name = u.FullName
				employees[sl.EmployeeID] = name
			}

			res = append(res, model.CustomerTransaction{
				Sale:         sl,
				VoucherCode:  v.Code,
				VoucherType:  v.Type,
				VoucherValue: v.Value,
				EmployeeName: name,
			})
		}
		return nil
	})
	return res, err
}

type voucherCache struct {
	q    repository.Queries
	seen map[int64]*model.Voucher
}

func (c *voucherCache) get(ctx context.Context, id int64) (*model.Voucher, error) {
	if v, ok := c.seen[id]; ok {
		return v, nil
	}
	v, err := c.q.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.seen == nil {
		c.seen = make(map[int64]*model.Voucher)
	}
	c.seen[id] = v
	return v, nil
}
