// Package moderation implements permission evaluation, bans, kicks, and
// invites. Role permission bits are OR-ed across every role a user holds
// plus the default role; ADMIN implies every other bit.
package moderation

import "github.com/llanx/UNITED/internal/models"

// Effective returns true if roleBits (already OR-ed across a user's
// assigned roles) grants perm, with ADMIN treated as granting everything
//.
func Effective(roleBits int64, perm int64) bool {
	if roleBits&models.PermAdmin != 0 {
		return true
	}
	return roleBits&perm != 0
}

// Allow combines the owner bypass with Effective: owners always pass
// regardless of role assignment.
func Allow(isOwner bool, roleBits int64, perm int64) bool {
	if isOwner {
		return true
	}
	return Effective(roleBits, perm)
}
