package types

import (
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ErrInvalidID is returned when an identifier is not a valid UUID
var ErrInvalidID = goerr.New("invalid identifier")

// externalIDNamespace scopes UUID v5 derivation of identifiers that come from
// outside systems (UI session keys, e-mail addresses, numeric user IDs).
var externalIDNamespace = uuid.MustParse("5b2f3c8e-8a64-4f1e-9d0b-7c1e2a9d4f60")

// ChatID identifies a conversation
type ChatID string

// NewChatID generates a new random ChatID
func NewChatID() ChatID {
	return ChatID(uuid.New().String())
}

// ParseChatID parses a canonical UUID string into a ChatID
func ParseChatID(s string) (ChatID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return "", goerr.Wrap(err, "invalid chat ID", goerr.V("chat_id", s))
	}
	return ChatID(v), nil
}

// ChatIDFromExternal converts any external key into a ChatID. UUIDs are kept as is,
// other values are mapped deterministically to a UUID v5.
func ChatIDFromExternal(s string) ChatID {
	return ChatID(fromExternal(s))
}

// Validate checks that the ChatID is a canonical UUID
func (id ChatID) Validate() error {
	if _, err := parseUUID(string(id)); err != nil {
		return goerr.Wrap(err, "invalid chat ID", goerr.V("chat_id", string(id)))
	}
	return nil
}

// String returns the string representation of ChatID
func (id ChatID) String() string {
	return string(id)
}

// UserID identifies the owner of a conversation
type UserID string

// NewUserID generates a new random UserID
func NewUserID() UserID {
	return UserID(uuid.New().String())
}

// ParseUserID parses a canonical UUID string into a UserID
func ParseUserID(s string) (UserID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return "", goerr.Wrap(err, "invalid user ID", goerr.V("user_id", s))
	}
	return UserID(v), nil
}

// UserIDFromExternal converts any external key into a UserID
func UserIDFromExternal(s string) UserID {
	return UserID(fromExternal(s))
}

// Validate checks that the UserID is a canonical UUID
func (id UserID) Validate() error {
	if _, err := parseUUID(string(id)); err != nil {
		return goerr.Wrap(err, "invalid user ID", goerr.V("user_id", string(id)))
	}
	return nil
}

// String returns the string representation of UserID
func (id UserID) String() string {
	return string(id)
}

// MessageID identifies a stored chat message
type MessageID string

// NewMessageID generates a new random MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// String returns the string representation of MessageID
func (id MessageID) String() string {
	return string(id)
}

func parseUUID(s string) (string, error) {
	if s == "" {
		return "", goerr.Wrap(ErrInvalidID, "identifier is empty")
	}
	v, err := uuid.Parse(s)
	if err != nil {
		return "", goerr.Wrap(ErrInvalidID, err.Error())
	}
	return v.String(), nil
}

func fromExternal(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if v, err := uuid.Parse(s); err == nil {
		return v.String()
	}
	return uuid.NewSHA1(externalIDNamespace, []byte(s)).String()
}
