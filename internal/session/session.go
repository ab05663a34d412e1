// Package session хранит сессии пользователей: в памяти процесса или в Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/voucherhub/internal/model"
)

// ErrNotFound возвращается для неизвестной или истёкшей сессии.
var ErrNotFound = errors.New("session not found")

// Session связывает идентификатор сессии с пользователем.
type Session struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"userId"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Store описывает хранилище сессий.
type Store interface {
	Create(ctx context.Context, userID int64, role model.Role) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
