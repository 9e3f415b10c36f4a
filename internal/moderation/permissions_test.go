package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llanx/UNITED/internal/models"
)

func TestEffectiveAdminImpliesAllBits(t *testing.T) {
	assert.True(t, Effective(models.PermAdmin, models.PermBan))
	assert.True(t, Effective(models.PermAdmin, models.PermKick))
}

func TestEffectiveRequiresSpecificBit(t *testing.T) {
	assert.True(t, Effective(models.PermSend|models.PermKick, models.PermKick))
	assert.False(t, Effective(models.PermSend, models.PermBan))
}

func TestAllowOwnerBypassesRoleBits(t *testing.T) {
	assert.True(t, Allow(true, 0, models.PermBan))
	assert.False(t, Allow(false, models.PermSend, models.PermBan))
}
