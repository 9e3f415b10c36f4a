package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/identity"
)

func (h *handlers) issueChallenge(c *gin.Context) {
	id, raw, err := h.d.Identity.IssueChallenge(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge_id": id, "bytes": hex.EncodeToString(raw)})
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	PublicKey   string `json:"public_key" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

func (h *handlers) verify(c *gin.Context) {
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		c.Error(badRequest("public_key must be hex"))
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		c.Error(badRequest("signature must be hex"))
		return
	}
	result, err := h.d.Identity.Verify(c.Request.Context(), req.ChallengeID, pub, sig, req.Fingerprint)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, authResponse(result))
}

type registerRequest struct {
	PublicKey     string `json:"public_key" binding:"required"`
	Fingerprint   string `json:"fingerprint" binding:"required"`
	DisplayName   string `json:"display_name" binding:"required"`
	EncryptedBlob string `json:"encrypted_blob"`
	GenesisSig    string `json:"genesis_signature" binding:"required"`
	SetupToken    string `json:"setup_token"`
	InviteCode    string `json:"invite_code"`
}

func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		c.Error(badRequest("public_key must be hex"))
		return
	}
	sig, err := hex.DecodeString(req.GenesisSig)
	if err != nil {
		c.Error(badRequest("genesis_signature must be hex"))
		return
	}
	var blob []byte
	if req.EncryptedBlob != "" {
		blob, err = hex.DecodeString(req.EncryptedBlob)
		if err != nil {
			c.Error(badRequest("encrypted_blob must be hex"))
			return
		}
	}

	in := identity.RegisterInput{
		PublicKey:        pub,
		Fingerprint:      req.Fingerprint,
		DisplayName:      req.DisplayName,
		EncryptedBlob:    blob,
		GenesisSig:       sig,
		SetupToken:       req.SetupToken,
		InviteCode:       req.InviteCode,
		RegistrationMode: h.d.RegistrationMode,
	}
	result, err := h.d.Identity.Register(c.Request.Context(), in, h.d.Moderation)
	if err != nil {
		c.Error(err)
		return
	}
	resp := authResponse(result)
	resp["is_owner"] = result.IsOwner
	c.JSON(http.StatusCreated, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *handlers) refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.d.Identity.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, authResponse(result))
}

func authResponse(r *identity.AuthResult) gin.H {
	return gin.H{
		"access_token":  r.AccessToken,
		"refresh_token": r.RefreshToken,
		"user_id":       r.UserID,
		"is_owner":      r.IsOwner,
		"is_admin":      r.IsAdmin,
	}
}

func (h *handlers) totpEnroll(c *gin.Context) {
	claims := ClaimsFrom(c)
	secret, uri, err := h.d.TOTP.Enroll(c.Request.Context(), claims.Subject, claims.Fingerprint)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "uri": uri})
}

type totpCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *handlers) totpConfirm(c *gin.Context) {
	var req totpCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.TOTP.Confirm(c.Request.Context(), claims.Subject, req.Code); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type totpVerifyRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

func (h *handlers) totpVerify(c *gin.Context) {
	var req totpVerifyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.d.TOTP.VerifyByFingerprint(c.Request.Context(), req.Fingerprint, req.Code); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
