package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/voucherhub/internal/model"
	"github.com/mmeshcher/voucherhub/internal/service"
	"github.com/mmeshcher/voucherhub/internal/validation"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

const passwordRule = "6-72 bytes"

func (req *userRequest) validate(roleRequired bool) error {
	errs := validation.Errors{}
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)

	if !validation.IsValidUsername(req.Username) {
		errs.Add("username", "3-32 characters: letters, digits, '_', '.', '-'")
	}
	if !validation.IsValidPassword(req.Password) {
		errs.Add("password", passwordRule)
	}
	if req.FullName == "" {
		errs.Add("fullName", "required")
	}
	if roleRequired && !model.Role(req.Role).Valid() {
		errs.Add("role", "must be one of owner, employee, customer")
	}
	return errs.Err()
}

func (req *userRequest) input() service.UserInput {
	return service.UserInput{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Role:     model.Role(req.Role),
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Address:  strings.TrimSpace(req.Address),
	}
}

// Register регистрирует нового клиента и открывает для него сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.validate(false); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authMiddleware.StartSession(r.Context(), w, user); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Username == "" || req.Password == "" {
		h.writeError(w, r, validation.Errors{"credentials": "username and password are required"})
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authMiddleware.StartSession(r.Context(), w, user); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Logout завершает текущую сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authMiddleware.EndSession(r.Context(), w); err != nil {
		h.logger.Warn("end session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUser возвращает пользователя текущей сессии.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListEmployees возвращает сотрудников.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, model.RoleEmployee)
}

// ListCustomers возвращает клиентов.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, model.RoleCustomer)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request, role model.Role) {
	users, err := h.service.ListUsers(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser создаёт пользователя с любой ролью.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.validate(true); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type updateUserRequest struct {
	Password *string `json:"password"`
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	Role     *string `json:"role"`
	Username *string `json:"username"`
}

// UpdateUser изменяет данные пользователя. Логин и роль не меняются.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	errs := validation.Errors{}
	if req.Role != nil {
		errs.Add("role", "cannot be changed")
	}
	if req.Username != nil {
		errs.Add("username", "cannot be changed")
	}
	if req.Password != nil && !validation.IsValidPassword(*req.Password) {
		errs.Add("password", passwordRule)
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		errs.Add("fullName", "must not be empty")
	}
	if err := errs.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, service.UserUpdate{
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser удаляет пользователя. Владелец не может удалить сам себя.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == caller.ID {
		h.writeError(w, r, validation.Errors{"id": "cannot delete yourself"})
		return
	}

	deleted, err := h.service.DeleteUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
