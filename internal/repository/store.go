// Package repository содержит хранилище сущностей сервиса: в памяти и в PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/voucherhub/internal/model"
)

var (
	// ErrNotFound возвращается, если запись с указанным идентификатором отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrVoucherCodeExists возвращается при попытке создать партию с уже существующим кодом.
	ErrVoucherCodeExists = errors.New("voucher code already exists")
	// ErrInUse возвращается при удалении записи, на которую ссылаются другие записи.
	ErrInUse = errors.New("record is referenced by other records")
	// ErrReadOnly возвращается при попытке изменить данные внутри View.
	ErrReadOnly = errors.New("read-only view")
)

// UserFilter ограничивает выборку пользователей. Пустые поля не фильтруют.
type UserFilter struct {
	Role model.Role
}

// DistributionFilter ограничивает выборку передач. Нулевые поля не фильтруют.
type DistributionFilter struct {
	OwnerID    int64
	EmployeeID int64
	VoucherID  int64
}

// SaleFilter ограничивает выборку продаж. Нулевые поля не фильтруют.
type SaleFilter struct {
	EmployeeID int64
	CustomerID int64
}

// CustomerVoucherFilter ограничивает выборку единиц ваучеров клиентов. Нулевые поля не фильтруют.
type CustomerVoucherFilter struct {
	CustomerID int64
	SaleID     int64
}

// Queries описывает операции чтения и записи над всеми сущностями.
// Create-методы присваивают ID и CreatedAt переданной записи.
// Update-методы возвращают ErrNotFound для неизвестного идентификатора.
// Delete-методы сообщают, была ли удалена запись.
type Queries interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]model.User, error)
	UpdateUser(ctx context.Context, id int64, p model.UserPatch) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)

	CreateVoucher(ctx context.Context, v *model.Voucher) error
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	ListVouchers(ctx context.Context) ([]model.Voucher, error)
	UpdateVoucher(ctx context.Context, id int64, p model.VoucherPatch) (*model.Voucher, error)
	DeleteVoucher(ctx context.Context, id int64) (bool, error)

	CreateDistribution(ctx context.Context, d *model.Distribution) error
	ListDistributions(ctx context.Context, f DistributionFilter) ([]model.Distribution, error)
	UpdateDistributionPayment(ctx context.Context, id int64, status model.PaymentStatus) (*model.Distribution, error)

	GetEmployeeStock(ctx context.Context, employeeID, voucherID int64) (*model.EmployeeStock, error)
	CreateEmployeeStock(ctx context.Context, s *model.EmployeeStock) error
	SetEmployeeStockQuantity(ctx context.Context, id int64, quantity int64) error
	ListEmployeeStock(ctx context.Context, employeeID int64) ([]model.EmployeeStock, error)

	CreateSale(ctx context.Context, s *model.Sale) error
	ListSales(ctx context.Context, f SaleFilter) ([]model.Sale, error)

	CreateCustomerVouchers(ctx context.Context, cvs []*model.CustomerVoucher) error
	GetCustomerVoucher(ctx context.Context, id int64) (*model.CustomerVoucher, error)
	MarkCustomerVoucherUsed(ctx context.Context, id int64, usedAt time.Time) error
	ListCustomerVouchers(ctx context.Context, f CustomerVoucherFilter) ([]model.CustomerVoucher, error)
}

// Store предоставляет доступ к хранилищу. Все изменения внутри одного Update
// применяются атомарно: при ошибке fn не сохраняется ни одно из них.
type Store interface {
	View(ctx context.Context, fn func(q Queries) error) error
	Update(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
