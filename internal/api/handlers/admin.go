package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jmoiron/sqlx"
	"github.com/playrivals/backend/internal/admin"
	"github.com/playrivals/backend/internal/challenge"
	"github.com/playrivals/backend/internal/config"
	"github.com/playrivals/backend/internal/store"
)

// AdminLogin validates username/password and issues a bearer token
func AdminLogin(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		username := strings.TrimSpace(req.Username)
		password := strings.TrimSpace(req.Password)

		adminAcc, err := admin.ValidateAdminCredentials(db, username, password)
		if err != nil {
			log.Printf("[ADMIN] Login failed for username %s: %v", username, err)
			admin.LogAdminAction(db, username, c.ClientIP(), "/api/v1/admin/login", "login", map[string]interface{}{"username": username}, false)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		exp := time.Now().Add(time.Duration(cfg.AdminSessionMinutes) * time.Minute)
		claims := jwt.MapClaims{"admin_username": adminAcc.Username, "exp": exp.Unix()}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			log.Printf("[ADMIN] Failed to sign session token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), "/api/v1/admin/login", "login", map[string]interface{}{"username": username}, true)
		c.JSON(http.StatusOK, gin.H{
			"token":        signed,
			"expires_at":   exp.Format(time.RFC3339),
			"display_name": adminAcc.DisplayName,
		})
	}
}

// AdminAuthMiddleware validates the bearer token and sets admin_username
func AdminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		username, ok := claims["admin_username"].(string)
		if !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("admin_username", username)
		c.Next()
	}
}

// ListChallenges returns paginated challenges, optionally filtered by status
func ListChallenges(db *sqlx.DB, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminUsername := c.GetString("admin_username")

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		status := c.DefaultQuery("status", "")

		if limit > 200 {
			limit = 200
		}

		challenges, err := st.ListChallenges(c.Request.Context(), status, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch challenges: %v", err)
			admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges", "list_challenges", map[string]interface{}{"status": status}, false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch challenges"})
			return
		}

		admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges", "list_challenges", map[string]interface{}{"count": len(challenges), "status": status}, true)
		c.JSON(http.StatusOK, gin.H{"challenges": challenges, "limit": limit, "offset": offset})
	}
}

// ExpireChallenge forces a PENDING challenge to EXPIRED
func ExpireChallenge(db *sqlx.DB, engine *challenge.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminUsername := c.GetString("admin_username")
		challengeID := c.Param("id")

		ch, err := engine.ExpireChallenge(c.Request.Context(), challengeID)
		if err != nil {
			admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges/"+challengeID+"/expire", "expire_challenge", map[string]interface{}{"challengeId": challengeID}, false)
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusConflict, gin.H{"error": "Challenge not found or not pending"})
				return
			}
			log.Printf("[ADMIN] Failed to expire challenge %s: %v", challengeID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to expire challenge"})
			return
		}

		admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges/"+challengeID+"/expire", "expire_challenge", map[string]interface{}{"challengeId": challengeID}, true)
		c.JSON(http.StatusOK, gin.H{"challenge": ch})
	}
}

// DisputeChallenge moves a non-terminal challenge to DISPUTED
func DisputeChallenge(db *sqlx.DB, engine *challenge.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminUsername := c.GetString("admin_username")
		challengeID := c.Param("id")

		ch, err := engine.MarkDisputed(c.Request.Context(), challengeID)
		if err != nil {
			admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges/"+challengeID+"/dispute", "dispute_challenge", map[string]interface{}{"challengeId": challengeID}, false)
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusConflict, gin.H{"error": "Challenge not found or already terminal"})
				return
			}
			log.Printf("[ADMIN] Failed to dispute challenge %s: %v", challengeID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispute challenge"})
			return
		}

		admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/challenges/"+challengeID+"/dispute", "dispute_challenge", map[string]interface{}{"challengeId": challengeID}, true)
		c.JSON(http.StatusOK, gin.H{"challenge": ch})
	}
}

// ListSelections returns the cached nomination sets with consensus verdicts
func ListSelections(db *sqlx.DB, engine *challenge.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminUsername := c.GetString("admin_username")

		report := engine.ConsensusReport(c.Request.Context())

		admin.LogAdminAction(db, adminUsername, c.ClientIP(), "/api/v1/admin/selections", "list_selections", map[string]interface{}{"count": len(report)}, true)
		c.JSON(http.StatusOK, gin.H{"selections": report})
	}
}

// GetAuditLogs returns recent admin audit entries
func GetAuditLogs(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		if limit > 200 {
			limit = 200
		}

		logs, err := admin.GetAdminAuditLogs(db, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch audit logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audit logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
	}
}
