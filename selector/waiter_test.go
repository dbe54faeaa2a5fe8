package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaiterArmThenResume(t *testing.T) {
	w := newWaiter(waiterKey{id: 1, interest: InterestRead}, 0)
	require.True(t, w.arm())

	cancelled, ok := w.takeForResume()
	require.True(t, ok)
	require.False(t, cancelled)
	w.resume(outcome{event: Event{ID: 1}})

	o, ok := w.await(context.Background())
	require.True(t, ok)
	require.Equal(t, uint64(1), o.event.ID)
}

func TestWaiterCancelBeforeArm(t *testing.T) {
	w := newWaiter(waiterKey{id: 1, interest: InterestRead}, 0)
	w.cancel()
	require.False(t, w.arm())

	cancelled, ok := w.takeForResume()
	require.True(t, ok)
	require.True(t, cancelled)
}

func TestWaiterCancelAfterArm(t *testing.T) {
	w := newWaiter(waiterKey{id: 1, interest: InterestRead}, 0)
	require.True(t, w.arm())
	w.cancel()

	cancelled, ok := w.takeForResume()
	require.True(t, ok)
	require.True(t, cancelled)
}

func TestWaiterTakeForResumeExactlyOnce(t *testing.T) {
	w := newWaiter(waiterKey{id: 1, interest: InterestRead}, 0)
	require.True(t, w.arm())

	_, ok := w.takeForResume()
	require.True(t, ok)

	_, ok = w.takeForResume()
	require.False(t, ok, "a second takeForResume must observe the drained state and decline")
}

func TestWaiterCancelOnUnrelatedStateIsNoOp(t *testing.T) {
	w := newWaiter(waiterKey{id: 1, interest: InterestRead}, 0)
	require.True(t, w.arm())
	_, _ = w.takeForResume()
	w.cancel() // already drained: must not panic or loop forever
}
