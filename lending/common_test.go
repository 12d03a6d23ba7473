package lending_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schoollibrary/lendingengine/lending"
)

func Test_KindOf(t *testing.T) {
	driverErr := errors.New("pq: relation \"loans\" does not exist")

	testCases := []struct {
		err      error
		expected lending.ErrorKind
	}{
		{nil, lending.KindNone},
		{lending.ErrMaterialNotFound, lending.KindNotFound},
		{fmt.Errorf("wrapped: %w", lending.ErrBorrowerBlacklisted), lending.KindForbidden},
		{lending.ErrIllegalTransition, lending.KindConflict},
		{lending.ErrDuplicateParticipant, lending.KindValidation},
		{lending.NewInternalError("reserve", driverErr), lending.KindInternal},
		{driverErr, lending.KindInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.expected.String(), func(t *testing.T) {
			assert.Equal(t, tc.expected, lending.KindOf(tc.err))
		})
	}
}

func Test_InternalError_HidesCause(t *testing.T) {
	// arrange
	cause := errors.Join(errors.New("pq: password authentication failed"), context.Canceled)

	// act
	err := lending.NewInternalError("confirm_return", cause)

	// assert
	assert.Equal(t, "internal error during confirm_return", err.Error())
	assert.NotContains(t, err.Error(), "password")
	assert.ErrorIs(t, err, lending.ErrInternal)
	assert.ErrorIs(t, err, context.Canceled, "the cause must stay reachable")
	assert.True(t, lending.IsCancellation(err))
}
