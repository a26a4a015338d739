package uuid

import (
	"github.com/google/uuid"
)

// UUID type alias для UUID
type UUID string

// MustParseUUID парсит строку в UUID или паникует
func MustParseUUID(s string) UUID {
	id, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewUUID создает новый UUID
func NewUUID() UUID {
	return UUID(uuid.New().String())
}

// NewSortable creates a time-ordered (v7) UUID. Used for outbox and refund IDs
// where insertion order matters.
func NewSortable() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return NewUUID()
	}
	return UUID(id.String())
}

// ParseUUID парсит строку в UUID
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return UUID(id.String()), nil
}

// String возвращает строковое представление
func (u UUID) String() string {
	return string(u)
}

// IsZero проверяет, является ли UUID нулевым
func (u UUID) IsZero() bool {
	return u == ""
}
