package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type status string

func (s status) String() string { return string(s) }

func TestDomainErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"not found", NewNotFoundError("agent", "HUMAN-001"), IsNotFound, ErrCodeNotFound},
		{"invalid argument", NewInvalidArgumentError("customerPhone is required"), IsInvalidArgument, ErrCodeInvalidArgument},
		{"invalid transition", NewInvalidTransitionError("CALL-1", status("ENDED"), status("ACTIVE")), IsInvalidTransition, ErrCodeInvalidTransition},
		{"provisioning", NewProvisioningError("CALL-1", 3, errors.New("timeout")), IsProvisioningFailure, ErrCodeProvisioningFailure},
		{"capacity", NewCapacityExhaustedError("no free agent"), IsCapacityExhausted, ErrCodeCapacityExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))

			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.True(t, tt.check(wrapped), "helpers must see through wrapping")
		})
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := NewProvisioningError("CALL-9", 3, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "PROVISIONING_FAILURE")
	assert.Contains(t, err.Error(), "upstream 503")
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "", Code(errors.New("plain")))
}
