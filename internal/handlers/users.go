package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/handlers/render"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
	userservice "github.com/akimenko/authd/internal/service/user"
)

type userResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Roles     []string `json:"roles"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Roles:     u.Roles,
	}
}

func handleRegister(sessions sessionService, users userService, events notifier, logger logger.Logger) http.Handler {
	type request struct {
		Email     string `json:"email" validate:"required,email"`
		Password  string `json:"password" validate:"required,min=8"`
		FirstName string `json:"firstName" validate:"max=100"`
		LastName  string `json:"lastName" validate:"max=100"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := users.Register(r.Context(), data.Email, data.Password, data.FirstName, data.LastName)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "A user with this email already exists", http.StatusConflict)
			default:
				logger.Error("register error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		session, err := sessions.IssueFor(r.Context(), user.Principal(), clientIP(r))
		if err != nil {
			logger.Error("register error", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if events != nil {
			events.UserRegistered(session.Principal)
		}

		sessions.WriteRefreshCookie(w, session.Refresh)
		render.JSONWithStatus(w, toSessionResponse(session), http.StatusCreated)
	})
}

func handleListUsers(users userService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list, err := users.List(r.Context())
		if err != nil {
			logger.Error("list users error", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		response := make([]userResponse, 0, len(list))
		for _, u := range list {
			response = append(response, toUserResponse(u))
		}
		render.JSON(w, response)
	})
}

func handleCreateUser(users userService, logger logger.Logger) http.Handler {
	type request struct {
		Email     string   `json:"email" validate:"required,email"`
		Password  string   `json:"password" validate:"required,min=8"`
		FirstName string   `json:"firstName" validate:"max=100"`
		LastName  string   `json:"lastName" validate:"max=100"`
		Roles     []string `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := users.Create(r.Context(), userservice.CreateParams{
			Email:     data.Email,
			Password:  data.Password,
			FirstName: data.FirstName,
			LastName:  data.LastName,
			Roles:     data.Roles,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "A user with this email already exists", http.StatusConflict)
			default:
				logger.Error("create user error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSONWithStatus(w, toUserResponse(user), http.StatusCreated)
	})
}

func handleGetUser(users userService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		user, err := users.GetByID(r.Context(), userID)
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		render.JSON(w, toUserResponse(user))
	})
}

func handleUpdateUser(users userService, logger logger.Logger) http.Handler {
	type request struct {
		FirstName *string  `json:"firstName" validate:"omitempty,max=100"`
		LastName  *string  `json:"lastName" validate:"omitempty,max=100"`
		Roles     []string `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := users.Update(r.Context(), userID, userservice.UpdateParams{
			FirstName: data.FirstName,
			LastName:  data.LastName,
			Roles:     data.Roles,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				logger.Error("update user error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, toUserResponse(user))
	})
}

func handleUpdateRoles(users userService, sessions sessionService, logger logger.Logger) http.Handler {
	type request struct {
		Roles []string `json:"roles" validate:"required,min=1"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := users.UpdateRoles(r.Context(), userID, data.Roles)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				logger.Error("update roles error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		// Role claims inside outstanding sessions are stale now, end them
		if err := sessions.RevokeAll(r.Context(), userID, clientIP(r), "roles changed"); err != nil {
			logger.Error("revoke sessions after role change", "error", err.Error())
		}

		render.JSON(w, toUserResponse(user))
	})
}

func handleDeleteUser(users userService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		err = users.Delete(r.Context(), userID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				logger.Error("delete user error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
