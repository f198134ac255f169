package cqrs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/cqrs"
	"github.com/randalmurphal/postbox/pkg/postbox/reqrep"
)

type deposit struct {
	Account string
	Amount  int
}

type balanceQuery struct {
	Account string
}

// ledger is a tiny command/query target.
type ledger struct {
	mu       sync.Mutex
	balances map[string]int
}

func newLedger() *ledger {
	return &ledger{balances: make(map[string]int)}
}

func (l *ledger) Handle(_ context.Context, d deposit) error {
	if d.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[d.Account] += d.Amount
	return nil
}

func (l *ledger) balance(_ context.Context, q balanceQuery) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[q.Account]
	if !ok {
		return 0, errors.New("unknown account")
	}
	return b, nil
}

func TestCommandThenQuery(t *testing.T) {
	ctx := context.Background()
	box := postbox.New()
	l := newLedger()

	_, err := cqrs.HandleCommand[deposit](box, "accounts", "deposit", l)
	require.NoError(t, err)
	_, err = cqrs.HandleQuery[balanceQuery, int](box, "accounts", "balance",
		cqrs.QueryHandlerFunc[balanceQuery, int](l.balance))
	require.NoError(t, err)

	d, err := cqrs.SendCommand(ctx, box, "accounts", "deposit", deposit{Account: "a-1", Amount: 40})
	require.NoError(t, err)
	require.NoError(t, d.Wait())

	balance, ok, err := cqrs.Query[balanceQuery, int](ctx, box, "accounts", "balance", balanceQuery{Account: "a-1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40, balance)
}

func TestCommandFailureReportedOnDelivery(t *testing.T) {
	box := postbox.New()
	_, err := cqrs.HandleCommand[deposit](box, "accounts", "deposit", newLedger())
	require.NoError(t, err)

	d, err := cqrs.SendCommand(context.Background(), box, "accounts", "deposit", deposit{Account: "a-1"})
	require.NoError(t, err)
	assert.ErrorContains(t, d.Wait(), "amount must be positive")
}

func TestHandleCommandAsync(t *testing.T) {
	box := postbox.New()
	done := make(chan deposit, 1)

	_, err := cqrs.HandleCommandAsync[deposit](box, "", "", asyncDeposit(func(d deposit) { done <- d }))
	require.NoError(t, err)

	d, err := cqrs.SendCommand(context.Background(), box, "any", "where", deposit{Account: "x", Amount: 1})
	require.NoError(t, err)
	require.NoError(t, d.Wait())
	assert.Equal(t, "x", (<-done).Account)
}

type asyncDeposit func(deposit)

func (f asyncDeposit) HandleAsync(_ context.Context, d deposit) <-chan error {
	errc := make(chan error, 1)
	go func() {
		f(d)
		errc <- nil
	}()
	return errc
}

func TestQueryHandlerFailureTimesOut(t *testing.T) {
	box := postbox.New()
	l := newLedger()
	_, err := cqrs.HandleQuery[balanceQuery, int](box, "accounts", "balance",
		cqrs.QueryHandlerFunc[balanceQuery, int](l.balance))
	require.NoError(t, err)

	_, ok, err := cqrs.Query[balanceQuery, int](context.Background(), box, "accounts", "balance",
		balanceQuery{Account: "missing"}, reqrep.WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleQuery_IgnoresOtherPayloads(t *testing.T) {
	box := postbox.New()
	calls := 0
	_, err := cqrs.HandleQuery[balanceQuery, int](box, "accounts", "*",
		cqrs.QueryHandlerFunc[balanceQuery, int](func(context.Context, balanceQuery) (int, error) {
			calls++
			return 1, nil
		}))
	require.NoError(t, err)

	// Plain publishes and requests carrying other types are not queries.
	require.NoError(t, box.Publish(context.Background(), "accounts", "balance", balanceQuery{}))
	_, ok, err := reqrep.Request(context.Background(), box, "accounts", "balance", "not a query",
		reqrep.WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, calls)
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()

	_, err := cqrs.SendCommand[any](ctx, postbox.New(), "c", "t", nil)
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = cqrs.SendCommand(ctx, nil, "c", "t", deposit{})
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, _, err = cqrs.Query[any, int](ctx, postbox.New(), "c", "t", nil)
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = cqrs.HandleQuery[balanceQuery, int](nil, "c", "t", cqrs.QueryHandlerFunc[balanceQuery, int](newLedger().balance))
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = cqrs.HandleQuery[balanceQuery, int](postbox.New(), "c", "t", nil)
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)
}
