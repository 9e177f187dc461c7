package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{InsufficientBalance(decimal.RequireFromString("0.042")), CategoryInsufficientFunds},
		{SimulationFailed(map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}, nil), CategorySimulationFailure},
		{Transaction("sig", "err"), CategorySimulationFailure},
		{Connection(errors.New("dial tcp"), "get balance"), CategoryConnectionIssue},
		{UserRejected(nil), CategoryCancelled},
		{InvalidPool(nil, "bad address"), CategoryUnknown},
		{NoSuitableRange(nil, nil, "none"), CategoryUnknown},
		{errors.New("boom"), CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryOf(tc.err), tc.err.Error())
	}
	assert.Equal(t, Category(""), CategoryOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("create position: %w", UserRejected(errors.New("closed dialog")))

	assert.Equal(t, KindUserRejected, KindOf(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindUserRejected}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConnection}))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.EqualError(t, e.Cause, "closed dialog")
}

func TestUnknownKeepsExistingKind(t *testing.T) {
	conn := Connection(nil, "rpc down")
	assert.Same(t, conn, Unknown(conn).(*Error))

	wrapped := Unknown(errors.New("weird"))
	assert.Equal(t, KindUnknown, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "weird")
	assert.Nil(t, Unknown(nil))
}

func TestInsufficientBalanceCarriesShortfall(t *testing.T) {
	err := InsufficientBalance(decimal.RequireFromString("0.042"))
	assert.True(t, err.Shortfall.Equal(decimal.RequireFromString("0.042")))
	assert.Contains(t, err.Error(), "0.042000")
	assert.Equal(t, "Insufficient SOL balance to open this position.", UserMessage(err))
}
