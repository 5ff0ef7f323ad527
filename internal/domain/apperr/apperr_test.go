package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("cart: bad quantity: %w", ErrValidation), "validation_error"},
		{"not found", fmt.Errorf("cart: %w", ErrNotFound), "not_found"},
		{"auth", fmt.Errorf("signature: %w", ErrAuthentication), "authentication_error"},
		{"upstream", fmt.Errorf("gateway: %w", ErrUpstream), "upstream_error"},
		{"other", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
