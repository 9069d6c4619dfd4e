package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/internal/transport"
)

func tableSpec() *request.Spec {
	return &request.Spec{URL: "http://table.test/"}
}

func TestTable_AddRespectsCapacityAndClose(t *testing.T) {
	tbl := NewTable(2)

	a, err := tbl.Add(tableSpec())
	require.NoError(t, err)
	b, err := tbl.Add(tableSpec())
	require.NoError(t, err)
	assert.Equal(t, ID(1), a)
	assert.Equal(t, ID(2), b)

	_, err = tbl.Add(tableSpec())
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	tbl.Close()
	tbl.Remove(b)
	_, err = tbl.Add(tableSpec())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestTable_CollectFollowsCompletionOrder(t *testing.T) {
	tbl := NewTable(10)
	a, _ := tbl.Add(tableSpec())
	b, _ := tbl.Add(tableSpec())

	_, ok := tbl.Start(a)
	require.True(t, ok)
	_, ok = tbl.Start(b)
	require.True(t, ok)

	state, ok := tbl.Complete(b, Result{Code: 200})
	require.True(t, ok)
	assert.Equal(t, StateDone, state)
	state, ok = tbl.Complete(a, Result{Code: transport.CodeTimeout})
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)

	first, ok := tbl.Collect()
	require.True(t, ok)
	assert.Equal(t, b, first.ID)
	second, ok := tbl.Collect()
	require.True(t, ok)
	assert.Equal(t, a, second.ID)

	_, ok = tbl.Collect()
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Stats().Outstanding)
}

func TestTable_CompleteIsIgnoredOnceTerminal(t *testing.T) {
	tbl := NewTable(10)
	id, _ := tbl.Add(tableSpec())
	tbl.Start(id)

	_, ok := tbl.Complete(id, Result{Code: 200})
	require.True(t, ok)
	_, ok = tbl.Complete(id, Result{Code: 500})
	assert.False(t, ok)

	res, _ := tbl.Collect()
	assert.Equal(t, 200, res.Code)
	_, ok = tbl.Collect()
	assert.False(t, ok)
}

func TestTable_CompleteRequiresRunning(t *testing.T) {
	tbl := NewTable(10)
	id, _ := tbl.Add(tableSpec())

	_, ok := tbl.Complete(id, Result{Code: 200})
	assert.False(t, ok, "a pending job must start before it completes")
	_, ok = tbl.Complete(ID(99), Result{Code: 200})
	assert.False(t, ok)

	j, _ := tbl.Get(id)
	assert.Equal(t, StatePending, j.State)
	assert.Equal(t, 1, tbl.Stats().Pending)
	_, ok = tbl.Collect()
	assert.False(t, ok)

	tbl.Start(id)
	state, ok := tbl.Complete(id, Result{Code: 200})
	require.True(t, ok)
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 0, tbl.Stats().Running)
}

func TestTable_StartNextUsesSubmissionOrder(t *testing.T) {
	tbl := NewTable(10)
	a, _ := tbl.Add(tableSpec())
	b, _ := tbl.Add(tableSpec())

	id, _, ok := tbl.StartNext()
	require.True(t, ok)
	assert.Equal(t, a, id)
	id, _, ok = tbl.StartNext()
	require.True(t, ok)
	assert.Equal(t, b, id)
	_, _, ok = tbl.StartNext()
	assert.False(t, ok)

	s := tbl.Stats()
	assert.Equal(t, 2, s.Running)
	assert.Equal(t, 0, s.Pending)
}

func TestTable_CancelOutstanding(t *testing.T) {
	tbl := NewTable(10)
	running, _ := tbl.Add(tableSpec())
	pending, _ := tbl.Add(tableSpec())
	done, _ := tbl.Add(tableSpec())
	tbl.Start(running)
	tbl.Start(done)
	tbl.Complete(done, Result{Code: 204})

	n := tbl.CancelOutstanding(transport.CodeCancelled, "cancelled")
	assert.Equal(t, 2, n)

	_, ok := tbl.Start(pending)
	assert.False(t, ok, "cancelled jobs cannot start")

	got := map[ID]int{}
	for {
		res, ok := tbl.Collect()
		if !ok {
			break
		}
		got[res.ID] = res.Code
	}
	assert.Equal(t, map[ID]int{
		done:    204,
		running: transport.CodeCancelled,
		pending: transport.CodeCancelled,
	}, got)
	assert.Equal(t, Stats{Capacity: 10, Submitted: 3}, tbl.Stats())
}

func TestTable_GetReturnsCopy(t *testing.T) {
	tbl := NewTable(1)
	id, _ := tbl.Add(tableSpec())
	tbl.Start(id)
	tbl.Complete(id, Result{Code: 200, Body: []byte("ok")})

	j, ok := tbl.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateDone, j.State)
	j.Result.Code = 500

	j2, _ := tbl.Get(id)
	assert.Equal(t, 200, j2.Result.Code)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateRunning.Terminal())
}
