package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/config"
	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/security"
	"gorm.io/gorm"
)

// AuthHandler handles registration and login for the self-service surface.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// registerRequest defines the request body for user registration.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new user account.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a password of at least 8 characters are required"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	row := models.User{
		Username:     username,
		Email:        strings.TrimSpace(body.Email),
		PasswordHash: hash,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": row.ID, "username": row.Username})
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var row models.User
	err := h.db.WithContext(c.Request.Context()).
		Where("username = ?", strings.TrimSpace(body.Username)).
		First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if row.Disabled || !security.CheckPassword(row.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateToken(h.jwtCfg.Secret, row.ID, row.Username, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
