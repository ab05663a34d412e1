package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/voucherhub/internal/model"
)

// MemoryStore хранит сущности в памяти процесса. Данные теряются при перезапуске.
// Update выполняются строго последовательно; при ошибке изменения откатываются по журналу отмены.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	users            *table[model.User]
	vouchers         *table[model.Voucher]
	distributions    *table[model.Distribution]
	employeeStock    *table[model.EmployeeStock]
	sales            *table[model.Sale]
	customerVouchers *table[model.CustomerVoucher]
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:              time.Now,
		users:            newTable[model.User](),
		vouchers:         newTable[model.Voucher](),
		distributions:    newTable[model.Distribution](),
		employeeStock:    newTable[model.EmployeeStock](),
		sales:            newTable[model.Sale](),
		customerVouchers: newTable[model.CustomerVoucher](),
	}
}

// View выполняет fn над согласованным снимком данных без права записи.
func (s *MemoryStore) View(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{store: s, readOnly: true})
}

// Update выполняет fn атомарно: при ошибке или панике все изменения fn отменяются.
func (s *MemoryStore) Update(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	return nil
}

// Close ничего не делает и нужен для соответствия интерфейсу Store.
func (s *MemoryStore) Close() error {
	return nil
}

type table[T any] struct {
	rows map[int64]T
	seq  int64
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[int64]T)}
}

func (t *table[T]) nextID() int64 {
	t.seq++
	return t.seq
}

func (t *table[T]) get(id int64) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) find(pred func(T) bool) (T, bool) {
	for _, id := range t.ids() {
		if row := t.rows[id]; pred(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

func (t *table[T]) list(pred func(T) bool) []T {
	res := make([]T, 0, len(t.rows))
	for _, id := range t.ids() {
		if row := t.rows[id]; pred == nil || pred(row) {
			res = append(res, row)
		}
	}
	return res
}

func (t *table[T]) exists(pred func(T) bool) bool {
	for _, row := range t.rows {
		if pred(row) {
			return true
		}
	}
	return false
}

func (t *table[T]) ids() []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type memTx struct {
	store    *MemoryStore
	readOnly bool
	undo     []func()
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func put[T any](tx *memTx, t *table[T], id int64, row T) {
	prev, existed := t.rows[id]
	t.rows[id] = row
	tx.undo = append(tx.undo, func() {
		if existed {
			t.rows[id] = prev
		} else {
			delete(t.rows, id)
		}
	})
}

func remove[T any](tx *memTx, t *table[T], id int64) bool {
	prev, existed := t.rows[id]
	if !existed {
		return false
	}
	delete(t.rows, id)
	tx.undo = append(tx.undo, func() {
		t.rows[id] = prev
	})
	return true
}

func (tx *memTx) CreateUser(_ context.Context, u *model.User) error {
	if err := tx.writable(); err != nil {
		return err
	}

	users := tx.store.users
	if _, ok := users.find(func(x model.User) bool { return x.Username == u.Username }); ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
	}

	u.ID = users.nextID()
	u.CreatedAt = tx.store.now()
	put(tx, users, u.ID, *u)
	return nil
}

func (tx *memTx) GetUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := tx.store.users.get(id)
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (tx *memTx) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := tx.store.users.find(func(x model.User) bool { return x.Username == username })
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return &u, nil
}

func (tx *memTx) ListUsers(_ context.Context, f UserFilter) ([]model.User, error) {
	return tx.store.users.list(func(u model.User) bool {
		return f.Role == "" || u.Role == f.Role
	}), nil
}

func (tx *memTx) UpdateUser(_ context.Context, id int64, p model.UserPatch) (*model.User, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}

	u, ok := tx.store.users.get(id)
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}

	if p.PasswordHash != nil {
		u.PasswordHash = p.PasswordHash
	}
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Address != nil {
		u.Address = *p.Address
	}

	put(tx, tx.store.users, id, u)
	return &u, nil
}

func (tx *memTx) DeleteUser(_ context.Context, id int64) (bool, error) {
	if err := tx.writable(); err != nil {
		return false, err
	}

	s := tx.store
	if _, ok := s.users.get(id); !ok {
		return false, nil
	}

	referenced := s.vouchers.exists(func(v model.Voucher) bool { return v.CreatedBy == id }) ||
		s.distributions.exists(func(d model.Distribution) bool { return d.OwnerID == id || d.EmployeeID == id }) ||
		s.employeeStock.exists(func(es model.EmployeeStock) bool { return es.EmployeeID == id }) ||
		s.sales.exists(func(sl model.Sale) bool { return sl.EmployeeID == id || sl.CustomerID == id }) ||
		s.customerVouchers.exists(func(cv model.CustomerVoucher) bool { return cv.CustomerID == id })
	if referenced {
		return false, fmt.Errorf("user %d: %w", id, ErrInUse)
	}

	return remove(tx, s.users, id), nil
}

func (tx *memTx) CreateVoucher(_ context.Context, v *model.Voucher) error {
	if err := tx.writable(); err != nil {
		return err
	}

	vouchers := tx.store.vouchers
	if _, ok := vouchers.find(func(x model.Voucher) bool { return x.Code == v.Code }); ok {
		return fmt.Errorf("%w: %s", ErrVoucherCodeExists, v.Code)
	}

	v.ID = vouchers.nextID()
	v.CreatedAt = tx.store.now()
	put(tx, vouchers, v.ID, *v)
	return nil
}

func (tx *memTx) GetVoucher(_ context.Context, id int64) (*model.Voucher, error) {
	v, ok := tx.store.vouchers.get(id)
	if !ok {
		return nil, fmt.Errorf("voucher %d: %w", id, ErrNotFound)
	}
	return &v, nil
}

func (tx *memTx) ListVouchers(_ context.Context) ([]model.Voucher, error) {
	return tx.store.vouchers.list(nil), nil
}

func (tx *memTx) UpdateVoucher(_ context.Context, id int64, p model.VoucherPatch) (*model.Voucher, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}

	v, ok := tx.store.vouchers.get(id)
	if !ok {
		return nil, fmt.Errorf("voucher %d: %w", id, ErrNotFound)
	}

	if p.Type != nil {
		v.Type = *p.Type
	}
	if p.Value != nil {
		v.Value = *p.Value
	}
	if p.CurrentStock != nil {
		v.CurrentStock = *p.CurrentStock
	}
	if p.ExpiryDate != nil {
		v.ExpiryDate = *p.ExpiryDate
	}

	put(tx, tx.store.vouchers, id, v)
	return &v, nil
}

func (tx *memTx) DeleteVoucher(_ context.Context, id int64) (bool, error) {
	if err := tx.writable(); err != nil {
		return false, err
	}

	s := tx.store
	if _, ok := s.vouchers.get(id); !ok {
		return false, nil
	}

	referenced := s.distributions.exists(func(d model.Distribution) bool { return d.VoucherID == id }) ||
		s.employeeStock.exists(func(es model.EmployeeStock) bool { return es.VoucherID == id }) ||
		s.sales.exists(func(sl model.Sale) bool { return sl.VoucherID == id }) ||
		s.customerVouchers.exists(func(cv model.CustomerVoucher) bool { return cv.VoucherID == id })
	if referenced {
		return false, fmt.Errorf("voucher %d: %w", id, ErrInUse)
	}

	return remove(tx, s.vouchers, id), nil
}

func (tx *memTx) CreateDistribution(_ context.Context, d *model.Distribution) error {
	if err := tx.writable(); err != nil {
		return err
	}

	d.ID = tx.store.distributions.nextID()
	d.CreatedAt = tx.store.now()
	put(tx, tx.store.distributions, d.ID, *d)
	return nil
}

func (tx *memTx) ListDistributions(_ context.Context, f DistributionFilter) ([]model.Distribution, error) {
	return tx.store.distributions.list(func(d model.Distribution) bool {
		return (f.OwnerID == 0 || d.OwnerID == f.OwnerID) &&
			(f.EmployeeID == 0 || d.EmployeeID == f.EmployeeID) &&
			(f.VoucherID == 0 || d.VoucherID == f.VoucherID)
	}), nil
}

func (tx *memTx) UpdateDistributionPayment(_ context.Context, id int64, status model.PaymentStatus) (*model.Distribution, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}

	d, ok := tx.store.distributions.get(id)
	if !ok {
		return nil, fmt.Errorf("distribution %d: %w", id, ErrNotFound)
	}

	d.PaymentStatus = status
	put(tx, tx.store.distributions, id, d)
	return &d, nil
}

func (tx *memTx) GetEmployeeStock(_ context.Context, employeeID, voucherID int64) (*model.EmployeeStock, error) {
	es, ok := tx.store.employeeStock.find(func(x model.EmployeeStock) bool {
		return x.EmployeeID == employeeID && x.VoucherID == voucherID
	})
	if !ok {
		return nil, fmt.Errorf("stock of employee %d for voucher %d: %w", employeeID, voucherID, ErrNotFound)
	}
	return &es, nil
}

func (tx *memTx) CreateEmployeeStock(_ context.Context, es *model.EmployeeStock) error {
	if err := tx.writable(); err != nil {
		return err
	}

	es.ID = tx.store.employeeStock.nextID()
	es.CreatedAt = tx.store.now()
	put(tx, tx.store.employeeStock, es.ID, *es)
	return nil
}

func (tx *memTx) SetEmployeeStockQuantity(_ context.Context, id int64, quantity int64) error {
	if err := tx.writable(); err != nil {
		return err
	}

	es, ok := tx.store.employeeStock.get(id)
	if !ok {
		return fmt.Errorf("employee stock %d: %w", id, ErrNotFound)
	}

	es.Quantity = quantity
	put(tx, tx.store.employeeStock, id, es)
	return nil
}

func (tx *memTx) ListEmployeeStock(_ context.Context, employeeID int64) ([]model.EmployeeStock, error) {
	return tx.store.employeeStock.list(func(es model.EmployeeStock) bool {
		return es.EmployeeID == employeeID
	}), nil
}

func (tx *memTx) CreateSale(_ context.Context, sl *model.Sale) error {
	if err := tx.writable(); err != nil {
		return err
	}

	sl.ID = tx.store.sales.nextID()
	sl.CreatedAt = tx.store.now()
	put(tx, tx.store.sales, sl.ID, *sl)
	return nil
}

func (tx *memTx) ListSales(_ context.Context, f SaleFilter) ([]model.Sale, error) {
	return tx.store.sales.list(func(sl model.Sale) bool {
		return (f.EmployeeID == 0 || sl.EmployeeID == f.EmployeeID) &&
			(f.CustomerID == 0 || sl.CustomerID == f.CustomerID)
	}), nil
}

func (tx *memTx) CreateCustomerVouchers(_ context.Context, cvs []*model.CustomerVoucher) error {
	if err := tx.writable(); err != nil {
		return err
	}

	now := tx.store.now()
	for _, cv := range cvs {
		cv.ID = tx.store.customerVouchers.nextID()
		cv.CreatedAt = now
		put(tx, tx.store.customerVouchers, cv.ID, *cv)
	}
	return nil
}

func (tx *memTx) GetCustomerVoucher(_ context.Context, id int64) (*model.CustomerVoucher, error) {
	cv, ok := tx.store.customerVouchers.get(id)
	if !ok {
		return nil, fmt.Errorf("customer voucher %d: %w", id, ErrNotFound)
	}
	return &cv, nil
}

func (tx *memTx) MarkCustomerVoucherUsed(_ context.Context, id int64, usedAt time.Time) error {
	if err := tx.writable(); err != nil {
		return err
	}

	cv, ok := tx.store.customerVouchers.get(id)
	if !ok {
		return fmt.Errorf("customer voucher %d: %w", id, ErrNotFound)
	}

	cv.IsUsed = true
	cv.UsedAt = &usedAt
	put(tx, tx.store.customerVouchers, id, cv)
	return nil
}

func (tx *memTx) ListCustomerVouchers(_ context.Context, f CustomerVoucherFilter) ([]model.CustomerVoucher, error) {
	return tx.store.customerVouchers.list(func(cv model.CustomerVoucher) bool {
		return (f.CustomerID == 0 || cv.CustomerID == f.CustomerID) &&
			(f.SaleID == 0 || cv.SaleID == f.SaleID)
	}), nil
}
