package automation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/flow"
	"order-automation-go/internal/order"
)

func tokenPrice(token string, price float64) condition.Snapshot {
	return condition.Snapshot{"tokens": map[string]any{token: map[string]any{"price": price}}}
}

func TestEvaluate_StopLoss(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, stopLoss("ETH"))
	require.NoError(t, err)

	testCases := []struct {
		name  string
		snap  condition.Snapshot
		fires bool
	}{
		{"above trigger", condition.Snapshot{"price": 3100}, false},
		{"at trigger", condition.Snapshot{"price": 3000}, true},
		{"below trigger", tokenPrice("ETH", 2900), true},
		{"other token only", tokenPrice("BTC", 10), false},
		{"no price", condition.Snapshot{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fires, err := e.Evaluate(ctx, o.ID, "", tc.snap)
			require.NoError(t, err)
			assert.Equal(t, tc.fires, fires)

			fires, err = e.Evaluate(ctx, o.ID, flow.NodeID(o.ID, flow.RoleCheckCondition, ""), tc.snap)
			require.NoError(t, err)
			assert.Equal(t, tc.fires, fires)
		})
	}
}

func TestEvaluate_InactiveOrdersNeverFire(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, stopLoss("ETH"))
	require.NoError(t, err)

	_, err = e.Pause(ctx, o.ID)
	require.NoError(t, err)

	fires, err := e.Evaluate(ctx, o.ID, "", condition.Snapshot{"price": 1})
	require.NoError(t, err)
	assert.False(t, fires)
}

func TestEvaluate_UnknownNode(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, stopLoss("ETH"))
	require.NoError(t, err)

	for _, nodeID := range []string{"nope", flow.NodeID(o.ID, flow.RoleExecuteTrade, "")} {
		_, err := e.Evaluate(ctx, o.ID, nodeID, condition.Snapshot{"price": 1})
		var ve *order.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "nodeId", ve.Field)
	}
}

func TestEvaluate_UnknownNodeLeavesStateAlone(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.TrailingStop{Token: "ETH", TrailPercent: d("10"), SellPercent: d("100")})
	require.NoError(t, err)

	_, err = e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{"price": 100})
	require.NoError(t, err)
	before, err := e.Get(ctx, o.ID)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, o.ID, "nope", condition.Snapshot{"price": 500})
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)

	after, err := e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, after.State.Trailing.HighWaterMark.Equal(d("100")), "rejected request does not move the high")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestEvaluate_TrailingStop(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.TrailingStop{Token: "ETH", TrailPercent: d("10"), SellPercent: d("100")})
	require.NoError(t, err)

	snap, err := e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{"price": 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap[flow.FieldTrailingHWM])

	fires, err := e.Evaluate(ctx, o.ID, "", tokenPrice("ETH", 120))
	require.NoError(t, err)
	assert.False(t, fires)

	got, err := e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.State.Trailing.HighWaterMark.Equal(d("120")))

	fires, err = e.Evaluate(ctx, o.ID, "", tokenPrice("ETH", 107))
	require.NoError(t, err)
	assert.True(t, fires, "107 <= 120 * 0.9")

	fires, err = e.Evaluate(ctx, o.ID, "", tokenPrice("ETH", 109))
	require.NoError(t, err)
	assert.False(t, fires, "109 > 108")

	got, err = e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.State.Trailing.HighWaterMark.Equal(d("120")), "high-water mark never decreases")
}

func TestPrepareSnapshot_TrailingActivationAndPause(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	activation := d("150")
	o, _, err := e.Create(ctx, order.TrailingStop{
		Token: "ETH", TrailPercent: d("5"), SellPercent: d("100"), ActivationPrice: &activation,
	})
	require.NoError(t, err)

	input := condition.Snapshot{"price": 140}
	snap, err := e.PrepareSnapshot(ctx, o.ID, input)
	require.NoError(t, err)
	assert.Equal(t, false, snap[flow.FieldTrailingArmed])
	assert.Len(t, input, 1, "input snapshot is not modified")

	snap, err = e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{"price": 160})
	require.NoError(t, err)
	assert.Equal(t, true, snap[flow.FieldTrailingArmed])
	assert.Equal(t, 152.0, snap[flow.FieldTrailingTrigger])

	_, err = e.Pause(ctx, o.ID)
	require.NoError(t, err)
	_, err = e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{"price": 500})
	require.NoError(t, err)

	got, err := e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.State.Trailing.HighWaterMark.Equal(d("160")), "paused orders do not track the high")
}

func TestEvaluate_DualProtectionBranches(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.DualProtection{
		Token: "ETH", StopLossPrice: d("2500"), TakeProfitPrice: d("4000"), SellPercent: d("100"),
	})
	require.NoError(t, err)

	stopNode := flow.NodeID(o.ID, flow.RoleCheckCondition, "stop-loss")
	takeNode := flow.NodeID(o.ID, flow.RoleCheckCondition, "take-profit")

	testCases := []struct {
		price      float64
		stop, take bool
	}{
		{3000, false, false},
		{2400, true, false},
		{4100, false, true},
	}

	for _, tc := range testCases {
		snap := condition.Snapshot{"price": tc.price}
		stop, err := e.Evaluate(ctx, o.ID, stopNode, snap)
		require.NoError(t, err)
		take, err := e.Evaluate(ctx, o.ID, takeNode, snap)
		require.NoError(t, err)
		either, err := e.Evaluate(ctx, o.ID, "", snap)
		require.NoError(t, err)

		assert.Equal(t, tc.stop, stop, "stop at %v", tc.price)
		assert.Equal(t, tc.take, take, "take at %v", tc.price)
		assert.Equal(t, tc.stop || tc.take, either, "either at %v", tc.price)
	}
}

func TestRecordExecution_DCA(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	clock := newFakeClock()
	e.now = clock.Now
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.DCA{Token: "ETH", AmountPerExecution: d("100"), Executions: 2, IntervalSeconds: 3600})
	require.NoError(t, err)

	fires, err := e.Evaluate(ctx, o.ID, "", condition.Snapshot{})
	require.NoError(t, err)
	assert.True(t, fires, "first slice is due immediately")

	ok, err := e.RecordExecution(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.RecordExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a repeated callback does not take the next slice early")

	got, err := e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, got.Status)
	assert.Equal(t, 1, got.State.Schedule.Remaining)
	assert.Equal(t, 1, got.State.Schedule.Executed)

	snap, err := e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, false, snap[flow.FieldScheduleDue], "next slice waits for the interval")
	assert.Equal(t, 1, snap[flow.FieldScheduleLeft])
	assert.Equal(t, 1, snap[flow.FieldScheduleDone])
	assert.Equal(t, "100", snap[flow.FieldScheduleAmount])

	clock.advance(time.Hour)

	ok, err = e.RecordExecution(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.NotNil(t, got.TriggeredAt)
	assert.NotNil(t, got.CompletedAt)

	clock.advance(time.Hour)
	ok, err = e.RecordExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "completed schedule records nothing")
}

func TestPrepareSnapshot_TWAPLastSliceTakesRemainder(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	clock := newFakeClock()
	e.now = clock.Now
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.TWAP{
		Token: "ETH", Side: order.SideBuy, TotalAmount: d("100"), Slices: 3, DurationSeconds: 300,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		snap, err := e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{})
		require.NoError(t, err)
		assert.Equal(t, "33.3333333333333333", snap[flow.FieldScheduleAmount])

		ok, err := e.RecordExecution(ctx, o.ID)
		require.NoError(t, err)
		require.True(t, ok)
		clock.advance(100 * time.Second)
	}

	snap, err := e.PrepareSnapshot(ctx, o.ID, condition.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "33.3333333333333334", snap[flow.FieldScheduleAmount])
}

func TestRecordExecution_ConcurrentCallbacksTakeOneSlice(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()
	o, _, err := e.Create(ctx, order.TWAP{
		Token: "ETH", Side: order.SideSell, TotalAmount: d("10"), Slices: 5, DurationSeconds: 3000,
	})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := e.RecordExecution(ctx, o.ID); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	got, err := e.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.State.Schedule.Remaining)
}

func TestRecordExecution_RejectsOneShotAndPaused(t *testing.T) {
	e, rt, _ := setupTest(t, true)
	registerOK(rt)
	ctx := context.Background()

	single, _, err := e.Create(ctx, stopLoss("ETH"))
	require.NoError(t, err)
	ok, err := e.RecordExecution(ctx, single.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	twap, _, err := e.Create(ctx, order.TWAP{
		Token: "ETH", Side: order.SideBuy, TotalAmount: d("10"), Slices: 5, DurationSeconds: 300,
	})
	require.NoError(t, err)
	_, err = e.Pause(ctx, twap.ID)
	require.NoError(t, err)
	ok, err = e.RecordExecution(ctx, twap.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
