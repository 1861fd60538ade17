package types_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

func TestChatID(t *testing.T) {
	t.Run("new ID is valid", func(t *testing.T) {
		gt.NoError(t, types.NewChatID().Validate())
	})

	t.Run("empty ID is invalid", func(t *testing.T) {
		err := types.ChatID("").Validate()
		gt.Value(t, errors.Is(err, types.ErrInvalidID)).Equal(true)
	})

	t.Run("non UUID is invalid", func(t *testing.T) {
		_, err := types.ParseChatID("chat-123")
		gt.Value(t, errors.Is(err, types.ErrInvalidID)).Equal(true)
	})

	t.Run("parse normalizes case", func(t *testing.T) {
		id, err := types.ParseChatID("6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
		gt.NoError(t, err).Required()
		gt.Value(t, id).Equal(types.ChatID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	})
}

func TestFromExternal(t *testing.T) {
	t.Run("external key maps deterministically", func(t *testing.T) {
		a := types.ChatIDFromExternal("session-42")
		b := types.ChatIDFromExternal("session-42")
		gt.Value(t, a).Equal(b)
		gt.NoError(t, a.Validate())
	})

	t.Run("different keys map to different IDs", func(t *testing.T) {
		gt.Value(t, types.UserIDFromExternal("alice") == types.UserIDFromExternal("bob")).Equal(false)
	})

	t.Run("UUID input is kept", func(t *testing.T) {
		id := types.NewUserID()
		gt.Value(t, types.UserIDFromExternal(id.String())).Equal(id)
	})

	t.Run("empty input stays empty", func(t *testing.T) {
		gt.Value(t, types.UserIDFromExternal("  ")).Equal(types.UserID(""))
	})
}
