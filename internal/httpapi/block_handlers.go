package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/blocks"
)

// putBlock stores a content-addressed, encrypted-at-rest blob. The caller
// supplies the expected SHA-256 as X-Block-Hash; the
// optional X-Channel-Id ties retention to a channel and X-Retention-Days
// overrides the 7-day default.
func (h *handlers) putBlock(c *gin.Context) {
	hash := c.GetHeader("X-Block-Hash")
	if hash == "" {
		c.Error(badRequest("X-Block-Hash header is required"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, blocks.DefaultMaxBytes+1))
	if err != nil {
		c.Error(badRequest("could not read request body"))
		return
	}
	retentionDays, _ := strconv.Atoi(c.GetHeader("X-Retention-Days"))
	block, err := h.d.Blocks.Put(c.Request.Context(), hash, body, c.GetHeader("X-Channel-Id"), retentionDays)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

func (h *handlers) getBlock(c *gin.Context) {
	data, err := h.d.Blocks.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
