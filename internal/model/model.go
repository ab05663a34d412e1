// Package model содержит доменные сущности сервиса учёта ваучеров.
package model

import "time"

// Role описывает роль пользователя системы.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
)

// Valid сообщает, является ли значение одной из известных ролей.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEmployee, RoleCustomer:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя. Роль задаётся при создании и не меняется.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	FullName     string    `json:"fullName"`
	Role         Role      `json:"role"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserPatch содержит изменяемые поля пользователя; nil означает «не менять».
type UserPatch struct {
	PasswordHash []byte
	FullName     *string
	Email        *string
	Phone        *string
	Address      *string
}

// Voucher описывает партию ваучеров с общим остатком у владельца.
type Voucher struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Type         string    `json:"type"`
	Value        float64   `json:"value"`
	InitialStock int64     `json:"initialStock"`
	CurrentStock int64     `json:"currentStock"`
	ExpiryDate   time.Time `json:"expiryDate"`
	CreatedBy    int64     `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// VoucherPatch содержит изменяемые поля партии ваучеров.
type VoucherPatch struct {
	Type         *string
	Value        *float64
	CurrentStock *int64
	ExpiryDate   *time.Time
}

// PaymentStatus описывает состояние оплаты передачи ваучеров сотруднику.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Valid сообщает, является ли значение известным статусом оплаты.
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s == PaymentStatusPaid
}

// Distribution фиксирует передачу ваучеров от владельца сотруднику.
type Distribution struct {
	ID            int64         `json:"id"`
	OwnerID       int64         `json:"ownerId"`
	EmployeeID    int64         `json:"employeeId"`
	VoucherID     int64         `json:"voucherId"`
	Quantity      int64         `json:"quantity"`
	UnitPrice     float64       `json:"unitPrice"`
	TotalPrice    float64       `json:"totalPrice"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// EmployeeStock хранит остаток ваучеров одной партии у сотрудника.
type EmployeeStock struct {
	ID         int64     `json:"id"`
	EmployeeID int64     `json:"employeeId"`
	VoucherID  int64     `json:"voucherId"`
	Quantity   int64     `json:"quantity"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sale фиксирует продажу ваучеров сотрудником клиенту.
type Sale struct {
	ID         int64     `json:"id"`
	EmployeeID int64     `json:"employeeId"`
	CustomerID int64     `json:"customerId"`
	VoucherID  int64     `json:"voucherId"`
	Quantity   int64     `json:"quantity"`
	UnitPrice  float64   `json:"unitPrice"`
	TotalPrice float64   `json:"totalPrice"`
	IsOnline   bool      `json:"isOnline"`
	IsSynced   bool      `json:"isSynced"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CustomerVoucher описывает отдельную единицу ваучера, принадлежащую клиенту.
type CustomerVoucher struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customerId"`
	VoucherID  int64      `json:"voucherId"`
	SaleID     int64      `json:"saleId"`
	IsUsed     bool       `json:"isUsed"`
	UsedAt     *time.Time `json:"usedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// StockItem содержит остаток сотрудника вместе с описанием партии.
type StockItem struct {
	EmployeeStock
	Voucher *Voucher `json:"voucher"`
}

// OwnedVoucher содержит единицу ваучера клиента вместе с описанием партии.
type OwnedVoucher struct {
	CustomerVoucher
	Voucher *Voucher `json:"voucher"`
}

// CustomerTransaction описывает покупку клиента.
type CustomerTransaction struct {
	Sale
	VoucherCode  string  `json:"voucherCode"`
	VoucherType  string  `json:"voucherType"`
	VoucherValue float64 `json:"voucherValue"`
	EmployeeName string  `json:"employeeName"`
}
