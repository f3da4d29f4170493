package connectivity

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestMonitor() *Monitor {
	logger := zerolog.New(os.Stdout)
	return NewMonitor(nil, 0, &logger)
}

func TestMonitorEdgeTriggered(t *testing.T) {
	m := newTestMonitor()

	var edges []bool
	m.OnChange(func(online bool) { edges = append(edges, online) })

	assert.False(t, m.IsOnline())

	m.SetOnline(true)
	m.SetOnline(true) // no edge, no callback
	m.SetOnline(false)
	m.SetOnline(true)

	assert.True(t, m.IsOnline())
	assert.Equal(t, []bool{true, false, true}, edges)
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := newTestMonitor()

	var count int
	remove := m.OnChange(func(bool) { count++ })

	m.SetOnline(true)
	remove()
	m.SetOnline(false)

	assert.Equal(t, 1, count)
}

func TestMonitorMultipleCallbacks(t *testing.T) {
	m := newTestMonitor()

	var a, b int
	m.OnChange(func(bool) { a++ })
	m.OnChange(func(bool) { b++ })

	m.SetOnline(true)

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
