package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelIDFromTopic(t *testing.T) {
	id, ok := ChannelIDFromTopic("12D3KooWAbCdEfGh/chan-123")
	assert.True(t, ok)
	assert.Equal(t, "chan-123", id)

	_, ok = ChannelIDFromTopic("no-separator")
	assert.False(t, ok)

	_, ok = ChannelIDFromTopic("trailing/")
	assert.False(t, ok)
}
