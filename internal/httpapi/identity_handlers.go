package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/identity"
)

func (h *handlers) getBlob(c *gin.Context) {
	fp := c.Param("fp")
	blob, err := h.d.Identity.GetBlob(c.Request.Context(), fp)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprint": fp, "encrypted_blob": hex.EncodeToString(blob)})
}

type putBlobRequest struct {
	Fingerprint   string `json:"fingerprint" binding:"required"`
	EncryptedBlob string `json:"encrypted_blob" binding:"required"`
}

func (h *handlers) putBlob(c *gin.Context) {
	var req putBlobRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	if claims.Fingerprint != req.Fingerprint {
		c.Error(forbidden("cannot write another identity's blob"))
		return
	}
	blob, err := hex.DecodeString(req.EncryptedBlob)
	if err != nil {
		c.Error(badRequest("encrypted_blob must be hex"))
		return
	}
	if err := h.d.Identity.PutBlob(c.Request.Context(), req.Fingerprint, blob); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rotateRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
	PrevKey     string `json:"prev_key" binding:"required"`
	NewKey      string `json:"new_key" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	SigOld      string `json:"sig_old" binding:"required"`
	SigNew      string `json:"sig_new" binding:"required"`
}

func hexFields(fields ...string) ([][]byte, error) {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (h *handlers) rotate(c *gin.Context) {
	var req rotateRequest
	if !bindJSON(c, &req) {
		return
	}
	decoded, err := hexFields(req.PrevKey, req.NewKey, req.SigOld, req.SigNew)
	if err != nil {
		c.Error(badRequest("prev_key/new_key/sig_old/sig_new must be hex"))
		return
	}
	in := identity.RotateInput{PrevKey: decoded[0], NewKey: decoded[1], Reason: req.Reason, SigOld: decoded[2], SigNew: decoded[3]}
	if err := h.d.Identity.Rotate(c.Request.Context(), req.Fingerprint, in); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cancelRotationRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
}

func (h *handlers) cancelRotation(c *gin.Context) {
	var req cancelRotationRequest
	if !bindJSON(c, &req) {
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		c.Error(badRequest("signature must be hex"))
		return
	}
	if err := h.d.Identity.CancelRotation(c.Request.Context(), req.Fingerprint, sig); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) rotationChain(c *gin.Context) {
	fp := c.Param("fp")
	chain, err := h.d.Identity.RotationChain(c.Request.Context(), fp)
	if err != nil {
		c.Error(err)
		return
	}
	out := make([]gin.H, 0, len(chain))
	for _, r := range chain {
		entry := gin.H{
			"id":          r.ID,
			"fingerprint": r.Fingerprint,
			"kind":        r.Kind,
			"prev_key":    hex.EncodeToString(r.PrevKey),
			"new_key":     hex.EncodeToString(r.NewKey),
			"reason":      r.Reason,
			"cancelled":   r.Cancelled,
			"created_at":  r.CreatedAt,
		}
		if r.CancelDeadline != nil {
			entry["cancel_deadline"] = *r.CancelDeadline
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"chain": out})
}
