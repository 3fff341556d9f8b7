package utils

import (
	"log"

	"github.com/google/uuid"
)

// NewID gera um UUIDv7 (ordenável por timestamp) para chamadas e alertas
func NewID() uuid.UUID {
	u, err := uuid.NewV7()
	if err != nil {
		// só falha se a fonte de aleatoriedade falhar
		log.Printf("uuid: v7 failed, falling back to v4: %v", err)
		return uuid.New()
	}
	return u
}

// ParseID aceita apenas UUIDs válidos e não nulos
func ParseID(s string) (uuid.UUID, bool) {
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, false
	}
	return u, true
}
