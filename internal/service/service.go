// Package service реализует бизнес-логику сервиса учёта ваучеров.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRole возвращается, если пользователь не подходит для операции по своей роли.
	ErrInvalidRole = errors.New("user has wrong role for this operation")
	// ErrForbidden возвращается при попытке изменить чужую запись.
	ErrForbidden = errors.New("forbidden")
)

// Service содержит бизнес-логику сервиса учёта ваучеров.
type Service struct {
	store      repository.Store
	logger     *zap.Logger
	now        func() time.Time
	bcryptCost int
}

// NewService создаёт новый сервис с указанным хранилищем. Если logger равен nil, журнал не ведётся.
func NewService(store repository.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		logger:     logger,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// UserInput содержит данные для создания пользователя.
type UserInput struct {
	Username string
	Password string
	FullName string
	Role     model.Role
	Email    string
	Phone    string
	Address  string
}

// UserUpdate содержит изменяемые поля пользователя; nil означает «не менять».
type UserUpdate struct {
	Password *string
	FullName *string
	Email    *string
	Phone    *string
	Address  *string
}

// RegisterUser регистрирует нового клиента. Самостоятельная регистрация всегда создаёт роль customer.
func (s *Service) RegisterUser(ctx context.Context, in UserInput) (*model.User, error) {
	in.Role = model.RoleCustomer
	return s.CreateUser(ctx, in)
}

// CreateUser создаёт пользователя с указанной ролью.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (*model.User, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Username:     in.Username,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         in.Role,
		Email:        in.Email,
		Phone:        in.Phone,
		Address:      in.Address,
	}

	err = s.store.Update(ctx, func(q repository.Queries) error {
		if _, err := q.GetUserByUsername(ctx, in.Username); err == nil {
			return fmt.Errorf("%w: %s", repository.ErrUserExists, in.Username)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return q.CreateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	return u, nil
}

// EnsureUser возвращает пользователя с логином in.Username, создавая его при отсутствии.
// Существующий пользователь с другой ролью считается ошибкой.
func (s *Service) EnsureUser(ctx context.Context, in UserInput) (*model.User, error) {
	var existing *model.User
	err := s.store.View(ctx, func(q repository.Queries) error {
		u, err := q.GetUserByUsername(ctx, in.Username)
		if err != nil {
			return err
		}
		existing = u
		return nil
	})
	switch {
	case err == nil:
		if existing.Role != in.Role {
			return nil, fmt.Errorf("%w: %s is %s", ErrInvalidRole, existing.Username, existing.Role)
		}
		return existing, nil
	case errors.Is(err, repository.ErrNotFound):
		return s.CreateUser(ctx, in)
	default:
		return nil, err
	}
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	var u *model.User
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		u, err = q.GetUserByUsername(ctx, username)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u *model.User
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		u, err = q.GetUser(ctx, id)
		return err
	})
	return u, err
}

// ListUsers возвращает пользователей с указанной ролью.
func (s *Service) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	var users []model.User
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		users, err = q.ListUsers(ctx, repository.UserFilter{Role: role})
		return err
	})
	return users, err
}

// UpdateUser изменяет данные пользователя. Роль пользователя не меняется.
func (s *Service) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*model.User, error) {
	patch := model.UserPatch{
		FullName: upd.FullName,
		Email:    upd.Email,
		Phone:    upd.Phone,
		Address:  upd.Address,
	}
	if upd.Password != nil {
		hash, err := s.hashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = hash
	}

	var u *model.User
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		u, err = q.UpdateUser(ctx, id, patch)
		return err
	})
	return u, err
}

// DeleteUser удаляет пользователя и сообщает, существовал ли он.
func (s *Service) DeleteUser(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		deleted, err = q.DeleteUser(ctx, id)
		return err
	})
	return deleted, err
}

func (s *Service) hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, validation.Errors{"password": "must not exceed 72 bytes"}
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VoucherInput содержит данные для создания партии ваучеров.
type VoucherInput struct {
	Code         string
	Type         string
	Value        float64
	InitialStock int64
	ExpiryDate   time.Time
	CreatedBy    int64
}

// CreateVoucher создаёт партию ваучеров; текущий остаток равен начальному.
func (s *Service) CreateVoucher(ctx context.Context, in VoucherInput) (*model.Voucher, error) {
	v := &model.Voucher{
		Code:         in.Code,
		Type:         in.Type,
		Value:        roundCents(in.Value),
		InitialStock: in.InitialStock,
		CurrentStock: in.InitialStock,
		ExpiryDate:   in.ExpiryDate,
		CreatedBy:    in.CreatedBy,
	}

	err := s.store.Update(ctx, func(q repository.Queries) error {
		return q.CreateVoucher(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetVoucher возвращает партию ваучеров по идентификатору.
func (s *Service) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	var v *model.Voucher
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		v, err = q.GetVoucher(ctx, id)
		return err
	})
	return v, err
}

// ListVouchers возвращает все партии ваучеров.
func (s *Service) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	var vouchers []model.Voucher
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		vouchers, err = q.ListVouchers(ctx)
		return err
	})
	return vouchers, err
}

// UpdateVoucher изменяет партию ваучеров.
func (s *Service) UpdateVoucher(ctx context.Context, id int64, patch model.VoucherPatch) (*model.Voucher, error) {
	if patch.Value != nil {
		value := roundCents(*patch.Value)
		patch.Value = &value
	}

	var v *model.Voucher
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		v, err = q.UpdateVoucher(ctx, id, patch)
		return err
	})
	return v, err
}

// roundCents округляет сумму до копеек так же, как она хранится в PostgreSQL.
func roundCents(amount float64) float64 {
	return model.FromCents(model.ToCents(amount))
}

// DeleteVoucher удаляет партию ваучеров и сообщает, существовала ли она.
func (s *Service) DeleteVoucher(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.store.Update(ctx, func(q repository.Queries) error {
		var err error
		deleted, err = q.DeleteVoucher(ctx, id)
		return err
	})
	return deleted, err
}
