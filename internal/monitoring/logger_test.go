package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() {
		Logf = original
		SetDebug(false)
	})

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)

	Logf("occupancy %d", 3)
	assert.Equal(t, []string{"occupancy 3"}, *lines)

	// nil mutes without panicking
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1)
}

func TestDebugf(t *testing.T) {
	lines := captureLogs(t)

	Debugf("zone %d = %dmm", 1, 820)
	assert.Empty(t, *lines, "debug output should be off by default")
	assert.False(t, DebugEnabled())

	SetDebug(true)
	Debugf("zone %d = %dmm", 1, 820)
	assert.True(t, DebugEnabled())
	assert.Equal(t, []string{"[debug] zone 1 = 820mm"}, *lines)

	SetDebug(false)
	Debugf("zone %d = %dmm", 2, 900)
	assert.Len(t, *lines, 1)
}
