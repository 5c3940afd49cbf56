package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

// newBridge wires a ranger to a scripted device through a running mux.
func newBridge(t *testing.T, respond func(cmd string) string) (*Ranger, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.Responder = respond
	mux := serialmux.NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	go mux.Monitor(ctx)

	r := NewRanger(mux)
	t.Cleanup(func() {
		r.Close()
		cancel()
		mux.Close()
	})
	return r, port
}

func TestRanger_Range(t *testing.T) {
	replies := map[string]string{
		"R1": "# measuring\nZ1,812\n",
		"R2": "Z2,-\n",
	}
	r, port := newBridge(t, func(cmd string) string { return replies[cmd] })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mm, err := r.Range(ctx, occupancy.Inner)
	require.NoError(t, err)
	assert.Equal(t, 812, mm)

	mm, err = r.Range(ctx, occupancy.Outer)
	require.NoError(t, err)
	assert.Equal(t, zone.NoReturn, mm)

	assert.Equal(t, "R1\nR2\n", port.Written())
}

func TestRanger_IgnoresOtherZone(t *testing.T) {
	r, _ := newBridge(t, func(cmd string) string {
		if cmd == "R2" {
			return "Z1,400\nZ2,garbage\nZ2,1500\n"
		}
		return ""
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mm, err := r.Range(ctx, occupancy.Outer)
	require.NoError(t, err)
	assert.Equal(t, 1500, mm)
}

func TestRanger_Timeouts(t *testing.T) {
	r, _ := newBridge(t, func(cmd string) string {
		if cmd == "R1" {
			return "Z1,timeout\n"
		}
		return "" // zone 2 never answers
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.Range(ctx, occupancy.Inner)
	assert.ErrorIs(t, err, zone.ErrRangingTimeout)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = r.Range(short, occupancy.Outer)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRanger_DeviceError(t *testing.T) {
	r, _ := newBridge(t, func(string) string { return "ERR sensor not booted\n" })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Range(ctx, occupancy.Inner)
	require.Error(t, err)
	assert.Equal(t, "bridge zone 1: sensor not booted", err.Error())
}

func TestRanger_WriteError(t *testing.T) {
	r, port := newBridge(t, nil)
	port.WriteError = errors.New("unplugged")
	_, err := r.Range(context.Background(), occupancy.Inner)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unplugged"))
}

func TestRanger_Closed(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	r := NewRanger(mux)
	require.NoError(t, mux.Close())

	_, err := r.Range(context.Background(), occupancy.Inner)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSetupCommands(t *testing.T) {
	assert.Equal(t, []string{"ROI 8 16", "CENTER 1 167", "CENTER 2 231"},
		SetupCommands(8, 16, [2]uint8{167, 231}))
}
