package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// handlers closes over Deps; methods are grouped by domain across the
// other files in this package (auth_handlers.go, channel_handlers.go, ...).
type handlers struct {
	d *Deps
}

var inviteSanitizer = bluemonday.UGCPolicy()

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.Error(badRequest(err.Error()))
		return false
	}
	return true
}

func (h *handlers) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *handlers) serverInfo(c *gin.Context) {
	name, desc, mode := h.d.ServerName, h.d.ServerDesc, h.d.RegistrationMode
	_ = h.d.Store.Do(c.Request.Context(), func(db *sql.DB) error {
		for key, dst := range map[string]*string{"server_name": &name, "server_description": &desc, "registration_mode": &mode} {
			var v string
			if err := db.QueryRow(`SELECT value FROM server_settings WHERE key = ?`, key).Scan(&v); err == nil {
				*dst = v
			}
		}
		return nil
	})
	c.JSON(http.StatusOK, gin.H{
		"name":              name,
		"description":       desc,
		"registration_mode": mode,
		"version":           "0.1.0",
	})
}

type updateServerSettingsRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	RegistrationMode *string `json:"registration_mode"`
}

func (h *handlers) updateServerSettings(c *gin.Context) {
	var req updateServerSettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	err := h.d.Store.Do(c.Request.Context(), func(db *sql.DB) error {
		set := func(key, value string) error {
			_, err := db.Exec(`INSERT INTO server_settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
			return err
		}
		if req.Name != nil {
			if err := set("server_name", *req.Name); err != nil {
				return err
			}
		}
		if req.Description != nil {
			if err := set("server_description", *req.Description); err != nil {
				return err
			}
		}
		if req.RegistrationMode != nil {
			if err := set("registration_mode", *req.RegistrationMode); err != nil {
				return err
			}
		}
		// Audit trail: who changed server settings and when.
		_, err := db.Exec(`INSERT INTO audit_log (id, actor_user_id, action, target, detail, created_at) VALUES (lower(hex(randomblob(16))), ?, 'settings.update', 'server', '', datetime('now'))`, claims.Subject)
		return err
	})
	if err != nil {
		c.Error(internalErr(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) inviteLanding(c *gin.Context) {
	code := c.Param("code")
	safeCode := inviteSanitizer.Sanitize(code)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html><head><title>Join `+h.d.ServerName+`</title></head>
<body>
<h1>You've been invited to `+h.d.ServerName+`</h1>
<p>Open this invite in the client app to join.</p>
<a href="united://invite/`+safeCode+`">Open in app</a>
</body></html>`)
}

// displayNameFor resolves a user id to its current display name, falling
// back to the id itself if the lookup fails — callers use this to stamp
// outbound chat/DM events without requiring every handler to thread the
// name through its own query.
func (h *handlers) displayNameFor(ctx context.Context, userID string) string {
	name := userID
	_ = h.d.Store.Do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT display_name FROM users WHERE id = ?`, userID).Scan(&name)
	})
	return name
}

// userIDForFingerprint resolves a fingerprint back to a user id so DM
// delivery can check gateway presence, which is keyed by user id rather
// than fingerprint.
func (h *handlers) userIDForFingerprint(ctx context.Context, fingerprint string) string {
	var userID string
	_ = h.d.Store.Do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT id FROM users WHERE fingerprint = ?`, fingerprint).Scan(&userID)
	})
	return userID
}

// targetIsOwner reports whether the user matched by the given column/value
// holds the owner flag. Moderation actions must never hit the owner.
func (h *handlers) targetIsOwner(ctx context.Context, byFingerprint bool, value string) bool {
	column := "id"
	if byFingerprint {
		column = "fingerprint"
	}
	var isOwner bool
	_ = h.d.Store.Do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT is_owner FROM users WHERE `+column+` = ?`, value).Scan(&isOwner)
	})
	return isOwner
}
