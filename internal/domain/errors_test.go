package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same kind",
			err:    Errorf(KindItemUnavailable, "no copies of %s", "1984"),
			target: ErrItemUnavailable,
			want:   true,
		},
		{
			name:   "wrapped same kind",
			err:    fmt.Errorf("checkout: %w", Errorf(KindMemberOverLimit, "member 1 holds 3 items")),
			target: ErrMemberOverLimit,
			want:   true,
		},
		{
			name:   "different kind",
			err:    Errorf(KindItemNotFound, "item 123 not found"),
			target: ErrMemberNotFound,
			want:   false,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			target: ErrConsistencyFault,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestKindHelpers(t *testing.T) {
	notFound := fmt.Errorf("return: %w", Errorf(KindLoanNotFound, "no loan"))
	assert.Equal(t, KindLoanNotFound, KindOf(notFound))
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsValidation(notFound))

	invalid := Errorf(KindInvalidEmail, "invalid email: %q", "ana@")
	assert.True(t, IsValidation(invalid))
	assert.False(t, IsNotFound(invalid))

	fault := &Error{Kind: KindConsistencyFault, Message: "over-return", Err: errors.New("available 3 of 3")}
	assert.True(t, IsConsistencyFault(fault))
	assert.Equal(t, "over-return: available 3 of 3", fault.Error())

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsConsistencyFault(nil))
}
