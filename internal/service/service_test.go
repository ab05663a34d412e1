package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

type fixture struct {
	svc      *Service
	owner    *model.User
	employee *model.User
	customer *model.User
	voucher  *model.Voucher
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc := NewService(repository.NewMemoryStore(), nil)
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func newFixture(t *testing.T, stock int64) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := newTestService(t)

	mk := func(username string, role model.Role) *model.User {
		u, err := svc.CreateUser(ctx, UserInput{
			Username: username,
			Password: "secret1",
			FullName: "User " + username,
			Role:     role,
		})
		require.NoError(t, err)
		return u
	}

	f := &fixture{
		svc:      svc,
		owner:    mk("owner", model.RoleOwner),
		employee: mk("employee", model.RoleEmployee),
		customer: mk("customer", model.RoleCustomer),
	}

	v, err := svc.CreateVoucher(ctx, VoucherInput{
		Code:         "GIFT-50",
		Type:         "gift",
		Value:        50,
		InitialStock: stock,
		ExpiryDate:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:    f.owner.ID,
	})
	require.NoError(t, err)
	f.voucher = v

	return f
}

func (f *fixture) distribute(t *testing.T, qty int64) {
	t.Helper()
	_, err := f.svc.Distribute(context.Background(), DistributeInput{
		OwnerID:    f.owner.ID,
		EmployeeID: f.employee.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   qty,
	})
	require.NoError(t, err)
}

func TestRegisterUser_AlwaysCustomer(t *testing.T) {
	svc := newTestService(t)

	u, err := svc.RegisterUser(context.Background(), UserInput{
		Username: "alice",
		Password: "secret1",
		FullName: "Alice",
		Role:     model.RoleOwner,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleCustomer, u.Role)
	assert.NotZero(t, u.ID)
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := UserInput{Username: "bob", Password: "secret1", FullName: "Bob"}
	_, err := svc.RegisterUser(ctx, in)
	require.NoError(t, err)

	_, err = svc.RegisterUser(ctx, in)
	assert.ErrorIs(t, err, repository.ErrUserExists)
}

func TestCreateUser_InvalidRole(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(context.Background(), UserInput{Username: "x", Password: "secret1", Role: "admin"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestAuthenticateUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, UserInput{Username: "carol", Password: "correct", FullName: "Carol"})
	require.NoError(t, err)

	u, err := svc.AuthenticateUser(ctx, "carol", "correct")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)

	_, err = svc.AuthenticateUser(ctx, "carol", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.AuthenticateUser(ctx, "nobody", "correct")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnsureUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := UserInput{Username: "admin", Password: "secret1", FullName: "Admin", Role: model.RoleOwner}
	first, err := svc.EnsureUser(ctx, in)
	require.NoError(t, err)

	second, err := svc.EnsureUser(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	in.Role = model.RoleEmployee
	_, err = svc.EnsureUser(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestUpdateUser_ChangesPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.RegisterUser(ctx, UserInput{Username: "dave", Password: "old-pass", FullName: "Dave"})
	require.NoError(t, err)

	newPass, newName := "new-pass", "David"
	updated, err := svc.UpdateUser(ctx, u.ID, UserUpdate{Password: &newPass, FullName: &newName})
	require.NoError(t, err)
	assert.Equal(t, "David", updated.FullName)
	assert.Equal(t, model.RoleCustomer, updated.Role)

	_, err = svc.AuthenticateUser(ctx, "dave", "old-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.AuthenticateUser(ctx, "dave", "new-pass")
	assert.NoError(t, err)
}

func TestHashPassword_TooLongIsValidationError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	long := strings.Repeat("p", validation.MaxPasswordLength+1)

	_, err := svc.RegisterUser(ctx, UserInput{Username: "erin", Password: long, FullName: "Erin"})
	var verr validation.Errors
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "password")

	u, err := svc.RegisterUser(ctx, UserInput{Username: "erin", Password: "secret1", FullName: "Erin"})
	require.NoError(t, err)

	_, err = svc.UpdateUser(ctx, u.ID, UserUpdate{Password: &long})
	require.ErrorAs(t, err, &verr)
}

func TestCreateVoucher_DuplicateCode(t *testing.T) {
	f := newFixture(t, 5)

	v, err := f.svc.GetVoucher(context.Background(), f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.InitialStock)
	assert.Equal(t, int64(5), v.CurrentStock)

	_, err = f.svc.CreateVoucher(context.Background(), VoucherInput{
		Code: "GIFT-50", Type: "gift", Value: 10, InitialStock: 1, CreatedBy: f.owner.ID,
	})
	assert.ErrorIs(t, err, repository.ErrVoucherCodeExists)
}

func TestCreateVoucher_RoundsValueToCents(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	v, err := f.svc.CreateVoucher(ctx, VoucherInput{
		Code: "ROUND-1", Type: "gift", Value: 19.999, InitialStock: 1, CreatedBy: f.owner.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Value)

	stored, err := f.svc.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stored.Value)

	value := 0.005
	updated, err := f.svc.UpdateVoucher(ctx, v.ID, model.VoucherPatch{Value: &value})
	require.NoError(t, err)
	assert.Equal(t, 0.01, updated.Value)
}

func TestDistribute_MovesStock(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	dist, err := f.svc.Distribute(ctx, DistributeInput{
		OwnerID:    f.owner.ID,
		EmployeeID: f.employee.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   4,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, dist.PaymentStatus)
	assert.Equal(t, 50.0, dist.UnitPrice)
	assert.Equal(t, 200.0, dist.TotalPrice)

	v, err := f.svc.GetVoucher(ctx, f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v.CurrentStock)

	stock, err := f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(4), stock[0].Quantity)
	assert.Equal(t, "GIFT-50", stock[0].Voucher.Code)

	f.distribute(t, 2)
	stock, err = f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(6), stock[0].Quantity)
}

func TestDistribute_CustomPrice(t *testing.T) {
	f := newFixture(t, 10)
	price := 0.1

	dist, err := f.svc.Distribute(context.Background(), DistributeInput{
		OwnerID:       f.owner.ID,
		EmployeeID:    f.employee.ID,
		VoucherID:     f.voucher.ID,
		Quantity:      3,
		UnitPrice:     &price,
		PaymentStatus: model.PaymentStatusPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, dist.UnitPrice)
	assert.Equal(t, 0.3, dist.TotalPrice)
	assert.Equal(t, model.PaymentStatusPaid, dist.PaymentStatus)
}

func TestDistribute_InsufficientStockLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.Distribute(ctx, DistributeInput{
		OwnerID:    f.owner.ID,
		EmployeeID: f.employee.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   4,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	v, err := f.svc.GetVoucher(ctx, f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.CurrentStock)

	dists, err := f.svc.ListDistributions(ctx, repository.DistributionFilter{})
	require.NoError(t, err)
	assert.Empty(t, dists)

	stock, err := f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	assert.Empty(t, stock)
}

func TestDistribute_Validation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	huge, negative := 1e300, -1.0

	tests := []struct {
		name string
		in   DistributeInput
		want error
	}{
		{
			name: "zero quantity",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.employee.ID, VoucherID: f.voucher.ID},
			want: ErrInvalidQuantity,
		},
		{
			name: "quantity over limit",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.employee.ID, VoucherID: f.voucher.ID, Quantity: validation.MaxQuantity + 1},
			want: ErrInvalidQuantity,
		},
		{
			name: "unit price too large",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.employee.ID, VoucherID: f.voucher.ID, Quantity: 1, UnitPrice: &huge},
			want: ErrInvalidPrice,
		},
		{
			name: "negative unit price",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.employee.ID, VoucherID: f.voucher.ID, Quantity: 1, UnitPrice: &negative},
			want: ErrInvalidPrice,
		},
		{
			name: "target is not an employee",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.customer.ID, VoucherID: f.voucher.ID, Quantity: 1},
			want: ErrInvalidRole,
		},
		{
			name: "unknown voucher",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: f.employee.ID, VoucherID: 999, Quantity: 1},
			want: repository.ErrNotFound,
		},
		{
			name: "unknown employee",
			in:   DistributeInput{OwnerID: f.owner.ID, EmployeeID: 999, VoucherID: f.voucher.ID, Quantity: 1},
			want: repository.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Distribute(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	v, err := f.svc.GetVoucher(ctx, f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.CurrentStock)

	dists, err := f.svc.ListDistributions(ctx, repository.DistributionFilter{})
	require.NoError(t, err)
	assert.Empty(t, dists)
}

func TestPricing(t *testing.T) {
	price := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		unitPrice *float64
		fallback  float64
		quantity  int64
		wantUnit  float64
		wantTotal float64
		wantErr   error
	}{
		{name: "fallback to face value", fallback: 50, quantity: 4, wantUnit: 50, wantTotal: 200},
		{name: "custom price rounded to cents", unitPrice: price(19.999), fallback: 50, quantity: 3, wantUnit: 20, wantTotal: 60},
		{name: "free", unitPrice: price(0), fallback: 50, quantity: 3},
		{name: "price above limit", unitPrice: price(1e9), fallback: 50, quantity: 1, wantErr: ErrInvalidPrice},
		{name: "price not representable in cents", unitPrice: price(1e300), fallback: 50, quantity: 1, wantErr: ErrInvalidPrice},
		{name: "NaN price", unitPrice: price(math.NaN()), fallback: 50, quantity: 1, wantErr: ErrInvalidPrice},
		{name: "total overflows int64 cents", unitPrice: price(validation.MaxPrice), fallback: 50, quantity: math.MaxInt64 / 10, wantErr: ErrInvalidPrice},
		{name: "stored face value above limit", fallback: 1e12, quantity: 1, wantErr: ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, total, err := pricing(tt.unitPrice, tt.fallback, tt.quantity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnit, unit)
			assert.Equal(t, tt.wantTotal, total)
			assert.GreaterOrEqual(t, total, 0.0)
		})
	}
}

func TestDistribute_ConcurrentDoesNotOversell(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Distribute(ctx, DistributeInput{
				OwnerID:    f.owner.ID,
				EmployeeID: f.employee.ID,
				VoucherID:  f.voucher.ID,
				Quantity:   1,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)

	v, err := f.svc.GetVoucher(ctx, f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.CurrentStock)

	stock, err := f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(10), stock[0].Quantity)
}

func TestSell_CreatesUnits(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 4)

	sale, units, err := f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   3,
		IsOnline:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 150.0, sale.TotalPrice)
	assert.True(t, sale.IsOnline)
	assert.True(t, sale.IsSynced)
	require.Len(t, units, 3)
	for _, u := range units {
		assert.False(t, u.IsUsed)
		assert.Nil(t, u.UsedAt)
		assert.Equal(t, sale.ID, u.SaleID)
		assert.Equal(t, f.customer.ID, u.CustomerID)
	}

	stock, err := f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(1), stock[0].Quantity)

	owned, err := f.svc.ListCustomerVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, owned, 3)
	assert.Equal(t, "GIFT-50", owned[0].Voucher.Code)

	txs, err := f.svc.CustomerTransactions(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "GIFT-50", txs[0].VoucherCode)
	assert.Equal(t, 50.0, txs[0].VoucherValue)
	assert.Equal(t, "User employee", txs[0].EmployeeName)
}

func TestSell_InsufficientStock(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, _, err := f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   1,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	f.distribute(t, 2)
	_, _, err = f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   3,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	sales, err := f.svc.ListSales(ctx, repository.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)

	owned, err := f.svc.ListCustomerVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestSell_PriceAndQuantityLimits(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 5)
	huge := 1e300

	_, _, err := f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   validation.MaxQuantity + 1,
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   2,
		UnitPrice:  &huge,
	})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	stock, err := f.svc.ListEmployeeStock(ctx, f.employee.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(5), stock[0].Quantity)

	sales, err := f.svc.ListSales(ctx, repository.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)

	owned, err := f.svc.ListCustomerVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestSell_BuyerMustBeCustomer(t *testing.T) {
	f := newFixture(t, 10)
	f.distribute(t, 2)

	_, _, err := f.svc.Sell(context.Background(), SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.owner.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   1,
	})
	assert.ErrorIs(t, err, ErrInvalidRole)

	stock, err := f.svc.ListEmployeeStock(context.Background(), f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stock[0].Quantity)
}

func TestRedeem(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 1)

	_, units, err := f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   1,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)

	usedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return usedAt }

	cv, err := f.svc.Redeem(ctx, f.customer.ID, units[0].ID)
	require.NoError(t, err)
	assert.True(t, cv.IsUsed)
	require.NotNil(t, cv.UsedAt)
	assert.Equal(t, usedAt, *cv.UsedAt)

	f.svc.now = func() time.Time { return usedAt.Add(time.Hour) }
	_, err = f.svc.Redeem(ctx, f.customer.ID, units[0].ID)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	owned, err := f.svc.ListCustomerVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.NotNil(t, owned[0].UsedAt)
	assert.Equal(t, usedAt, *owned[0].UsedAt)
}

func TestRedeem_OtherCustomersVoucher(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 1)

	_, units, err := f.svc.Sell(ctx, SellInput{
		EmployeeID: f.employee.ID,
		CustomerID: f.customer.ID,
		VoucherID:  f.voucher.ID,
		Quantity:   1,
	})
	require.NoError(t, err)

	other, err := f.svc.RegisterUser(ctx, UserInput{Username: "mallory", Password: "secret1", FullName: "Mallory"})
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, other.ID, units[0].ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Redeem(ctx, f.customer.ID, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	owned, err := f.svc.ListCustomerVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.False(t, owned[0].IsUsed)
}

func TestUpdateDistributionPayment(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 1)

	dists, err := f.svc.ListDistributions(ctx, repository.DistributionFilter{EmployeeID: f.employee.ID})
	require.NoError(t, err)
	require.Len(t, dists, 1)

	d, err := f.svc.UpdateDistributionPayment(ctx, dists[0].ID, model.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, d.PaymentStatus)

	_, err = f.svc.UpdateDistributionPayment(ctx, 999, model.PaymentStatusPaid)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteVoucher_InUse(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.distribute(t, 1)

	_, err := f.svc.DeleteVoucher(ctx, f.voucher.ID)
	assert.ErrorIs(t, err, repository.ErrInUse)

	deleted, err := f.svc.DeleteVoucher(ctx, 999)
	require.NoError(t, err)
	assert.False(t, deleted)
}
