// Package middleware содержит HTTP middleware сервиса учёта ваучеров.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/repository"
	"github.com/mmeshcher/voucherhub/internal/session"
)

type contextKey string

const (
	userKey      contextKey = "user"
	sessionIDKey contextKey = "sessionID"
)

const (
	authCookieName = "auth_token"
	devRoleHeader  = "X-Dev-Role"
)

// AuthMode определяет поведение проверки ролей для анонимных запросов.
type AuthMode string

const (
	// AuthModeStrict отклоняет анонимные запросы к защищённым маршрутам с кодом 401.
	AuthModeStrict AuthMode = "strict"
	// AuthModeBypass подставляет отладочного пользователя вместо отсутствующей сессии.
	// Включается только явной настройкой.
	AuthModeBypass AuthMode = "bypass"
)

// UserLoader загружает пользователя по идентификатору.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// AuthMiddleware определяет пользователя по cookie сессии и проверяет его роль.
type AuthMiddleware struct {
	secretKey []byte
	sessions  session.Store
	users     UserLoader
	mode      AuthMode
	devUsers  map[model.Role]*model.User
	logger    *zap.Logger
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware. Пустой secret заменяется случайным ключом,
// и тогда выданные cookie перестают действовать после перезапуска.
func NewAuthMiddleware(secret string, sessions session.Store, users UserLoader, mode AuthMode) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate session secret: %v", err))
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		sessions:  sessions,
		users:     users,
		mode:      mode,
		logger:    zap.NewNop(),
	}
}

// SetLogger задаёт логгер для ошибок хранилищ сессий и пользователей.
func (a *AuthMiddleware) SetLogger(logger *zap.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// SetDevUsers задаёт пользователей, подставляемых в режиме AuthModeBypass.
func (a *AuthMiddleware) SetDevUsers(users map[model.Role]*model.User) {
	a.devUsers = users
}

// Middleware проверяет cookie сессии и, если она действительна, добавляет пользователя в контекст.
// Запросы без действующей сессии пропускаются дальше анонимными. Если хранилище сессий
// или пользователей недоступно, отвечает 500.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		sid, ok := a.parseToken(cookie.Value)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := a.sessions.Get(r.Context(), sid)
		if errors.Is(err, session.ErrNotFound) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			a.logger.Error("load session", zap.Error(err))
			writeError(w, http.StatusInternalServerError)
			return
		}

		user, err := a.users.GetUser(r.Context(), sess.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			a.logger.Error("load session user", zap.Error(err), zap.Int64("user_id", sess.UserID))
			writeError(w, http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, sessionIDKey, sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только пользователей с одной из указанных ролей.
// Без сессии в строгом режиме отвечает 401, в режиме bypass подставляет отладочного пользователя.
// При несовпадении роли отвечает 403.
func (a *AuthMiddleware) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				if a.mode != AuthModeBypass {
					writeError(w, http.StatusUnauthorized)
					return
				}
				user = a.devUser(r, roles)
				if user == nil {
					writeError(w, http.StatusUnauthorized)
					return
				}
			}

			if !slices.Contains(roles, user.Role) {
				writeError(w, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// devUser возвращает отладочного пользователя. Роль берётся из заголовка X-Dev-Role,
// затем из первого сегмента пути страницы в Referer, иначе используется первая разрешённая роль маршрута.
func (a *AuthMiddleware) devUser(r *http.Request, allowed []model.Role) *model.User {
	role := model.Role(strings.ToLower(r.Header.Get(devRoleHeader)))
	if !role.Valid() {
		role = roleFromReferer(r.Referer())
	}
	if !role.Valid() && len(allowed) > 0 {
		role = allowed[0]
	}
	return a.devUsers[role]
}

func roleFromReferer(referer string) model.Role {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	return model.Role(strings.ToLower(first))
}

// StartSession создаёт сессию пользователя и устанавливает cookie авторизации.
func (a *AuthMiddleware) StartSession(ctx context.Context, w http.ResponseWriter, user *model.User) error {
	sess, err := a.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	token, err := a.signToken(sess)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// EndSession удаляет текущую сессию и сбрасывает cookie авторизации.
func (a *AuthMiddleware) EndSession(ctx context.Context, w http.ResponseWriter) error {
	if sid, ok := ctx.Value(sessionIDKey).(string); ok {
		if err := a.sessions.Delete(ctx, sid); err != nil && !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (a *AuthMiddleware) signToken(sess *session.Session) (string, error) {
	claims := sessionClaims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(sess.UserID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func (a *AuthMiddleware) parseToken(value string) (string, bool) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.SessionID == "" {
		return "", false
	}
	return claims.SessionID, true
}

// UserFromContext извлекает пользователя из контекста запроса.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return 0, false
	}
	return u.ID, true
}
