package handlers

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/middleware"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/utils"
)

// AuthHandler serves registration, login and token refresh.
type AuthHandler struct {
	store database.Store
	jwt   *utils.JWTService
	log   *logger.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(store database.Store, jwt *utils.JWTService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{store: store, jwt: jwt, log: log}
}

// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRegisterRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		utils.WriteBadRequestResponse(w, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		utils.WriteBadRequestResponse(w, "Password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to process password")
		return
	}

	user := &models.User{
		Email:    req.Email,
		Password: string(hash),
		Name:     req.Name,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			utils.WriteConflictResponse(w, "EMAIL_TAKEN", "An account with this email already exists")
			return
		}
		h.log.Errorw("failed to create user", "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to create account")
		return
	}

	access, refresh, expiresIn, err := h.jwt.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}
	utils.WriteCreatedResponse(w, models.UserLoginResponse{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.UserLoginRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.WriteBadRequestResponse(w, "Email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Same response for unknown email and wrong password.
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}

	access, refresh, expiresIn, err := h.jwt.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}
	utils.WriteSuccessResponse(w, models.UserLoginResponse{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil || req.RefreshToken == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	access, expiresIn, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": access,
		"expires_in":   expiresIn,
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"user": user})
}
