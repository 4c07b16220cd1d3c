package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"chatapp/internal/domain"
	"chatapp/internal/service"
)

type authResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
}

// @Summary      Sign up
// @Description  Create an account and return an access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body service.SignupInput true "Signup input"
// @Success      201  {object}  authResponse
// @Failure      400  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /signup [post]
func handleSignup(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SignupInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
			return
		}

		res, err := authSvc.Signup(r.Context(), req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, authResponse{
			Message: "User created successfully",
			Token:   res.Token,
			User:    res.User,
		})
	}
}

// @Summary      Login
// @Description  Login with email and password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body service.LoginInput true "Login input"
// @Success      200  {object}  authResponse
// @Failure      401  {object}  errorResponse
// @Router       /login [post]
func handleLogin(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.LoginInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
			return
		}

		res, err := authSvc.Login(r.Context(), req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, authResponse{
			Message: "Login successful",
			Token:   res.Token,
			User:    res.User,
		})
	}
}
