package id

import "github.com/google/uuid"

type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Valid reports whether s parses as a UUID in any of the accepted textual forms.
func (UUIDGenerator) Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
