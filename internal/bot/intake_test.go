package bot

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
)

func TestForwardedMessageID(t *testing.T) {
	updates := &tg.Updates{
		Updates: []tg.UpdateClass{
			&tg.UpdateMessageID{ID: 5},
			&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 4321}},
		},
	}

	id, ok := forwardedMessageID(updates)
	assert.True(t, ok)
	assert.Equal(t, 4321, id)
}

func TestForwardedMessageIDCombined(t *testing.T) {
	updates := &tg.UpdatesCombined{
		Updates: []tg.UpdateClass{
			&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 99}},
		},
	}

	id, ok := forwardedMessageID(updates)
	assert.True(t, ok)
	assert.Equal(t, 99, id)
}

func TestForwardedMessageIDMissing(t *testing.T) {
	_, ok := forwardedMessageID(&tg.Updates{})
	assert.False(t, ok)

	_, ok = forwardedMessageID(&tg.UpdateShort{})
	assert.False(t, ok)
}
