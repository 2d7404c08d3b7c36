package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []TradeExecuted
	err error
}

func (r *recorder) PublishTrade(_ context.Context, ev TradeExecuted) error {
	r.got = append(r.got, ev)
	return r.err
}

func sampleTrade() TradeExecuted {
	return TradeExecuted{
		TransactionID: 7,
		UserID:        uuid.MustParse("5b1f6c1e-8d1c-4f59-9f43-0d7c1b1c2a10"),
		Symbol:        "X",
		Shares:        10,
		Price:         decimal.RequireFromString("50.00"),
		Total:         decimal.RequireFromString("500.00"),
		CashAfter:     decimal.RequireFromString("9500.00"),
		ExecutedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("broker down")}

	err := Multi{failing, ok}.PublishTrade(context.Background(), sampleTrade())

	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
	assert.NoError(t, Multi{ok}.PublishTrade(context.Background(), sampleTrade()))
	assert.NoError(t, Nop{}.PublishTrade(context.Background(), sampleTrade()))
}

func TestTradeMessage(t *testing.T) {
	ev := sampleTrade()
	msg, err := tradeMessage(ev)
	require.NoError(t, err)

	assert.Equal(t, ev.UserID.String(), string(msg.Key))
	assert.Equal(t, ev.ExecutedAt, msg.Time)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "X", decoded["symbol"])
	assert.Equal(t, "50", decoded["price"])
	assert.EqualValues(t, 10, decoded["shares"])
}
