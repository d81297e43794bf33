package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	err := NewDomainError("NOT_FOUND", "product 42 not found")
	wrapped := fmt.Errorf("load: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrInvalidState))
	assert.Equal(t, "NOT_FOUND", CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}
