package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"chatapp/internal/domain"
	"chatapp/internal/service"
)

type profileResponse struct {
	Message string       `json:"message,omitempty"`
	User    *domain.User `json:"user"`
}

// @Summary      List users
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.User
// @Router       /users [get]
func handleListUsers(userSvc *service.UserService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.List(r.Context())
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// @Summary      Current user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  profileResponse
// @Router       /profile [get]
func handleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, profileResponse{User: CurrentUser(r)})
	}
}

// @Summary      Update profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body service.ProfileInput true "Fields to change"
// @Success      200  {object}  profileResponse
// @Failure      404  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /profile [put]
func handleUpdateProfile(userSvc *service.UserService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ProfileInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
			return
		}
		user, err := userSvc.UpdateProfile(r.Context(), CurrentUser(r).ID, req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{Message: "Profile updated successfully", User: user})
	}
}

// @Summary      Delete account
// @Description  Deletes every message the user sent or received, then the user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /account [delete]
func handleDeleteAccount(userSvc *service.UserService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := userSvc.DeleteAccount(r.Context(), CurrentUser(r).ID); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, errorResponse{Message: "Account deleted successfully"})
	}
}
