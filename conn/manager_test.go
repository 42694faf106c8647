package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandemicd/pandemic/protocol"
)

func TestAddAllocatesMonotonicIDs(t *testing.T) {
	m := New(0)
	c1 := m.Add()
	c2 := m.Add()

	require.NotZero(t, c1.ID)
	require.NotZero(t, c2.ID)
	assert.Greater(t, c2.ID, c1.ID, "expected monotonically increasing ids")
}

func TestIDsNeverReused(t *testing.T) {
	m := New(0)
	c1 := m.Add()
	m.Remove(c1.ID)
	c2 := m.Add()

	assert.NotEqual(t, c1.ID, c2.ID, "expected a fresh id after removal")
}

func TestBindThenRebindSameNameIsNoop(t *testing.T) {
	m := New(0)
	c := m.Add()

	require.NoError(t, m.Bind(c.ID, "alpha"))
	assert.NoError(t, m.Bind(c.ID, "alpha"), "re-binding the same name should be a no-op success")
}

func TestBindRejectsDifferentName(t *testing.T) {
	m := New(0)
	c := m.Add()

	require.NoError(t, m.Bind(c.ID, "alpha"))
	assert.ErrorIs(t, m.Bind(c.ID, "beta"), ErrAlreadyBound)
}

func TestBindRejectsNameAlreadyBoundOnAnotherConnection(t *testing.T) {
	m := New(0)
	connA := m.Add()
	connB := m.Add()

	require.NoError(t, m.Bind(connA.ID, "p1"))
	assert.ErrorIs(t, m.Bind(connB.ID, "p1"), ErrNameBoundElsewhere)

	// connA must remain the sole owner of "p1".
	got, ok := m.ConnectionFor("p1")
	require.True(t, ok)
	assert.Equal(t, connA.ID, got.ID)
	assert.Empty(t, connB.Plugin)
}

func TestConnectionFor(t *testing.T) {
	m := New(0)
	c := m.Add()
	_ = m.Bind(c.ID, "alpha")

	got, ok := m.ConnectionFor("alpha")
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)

	_, ok = m.ConnectionFor("ghost")
	assert.False(t, ok, "expected no connection for unbound plugin name")
}

func TestCount(t *testing.T) {
	m := New(0)
	assert.Equal(t, 0, m.Count())
	c := m.Add()
	assert.Equal(t, 1, m.Count())
	m.Remove(c.ID)
	assert.Equal(t, 0, m.Count())
}

func TestSendDropsOnOverflow(t *testing.T) {
	m := New(1)
	c := m.Add()

	require.True(t, Send(c, protocol.NewEvent("t", "s", nil, 1)), "expected first send to succeed")
	assert.False(t, Send(c, protocol.NewEvent("t", "s", nil, 2)), "expected second send to report overflow on a full buffer-1 channel")

	select {
	case <-c.DropSignal():
	default:
		t.Errorf("expected overflow to mark the connection for drop")
	}
}

func TestGetNotFound(t *testing.T) {
	m := New(0)
	_, err := m.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}
