// Package tof holds range sources that are not tied to a specific sensor.
package tof

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

// ErrExhausted is returned once a non-looping replay has served every cycle.
var ErrExhausted = errors.New("replay exhausted")

// Sample is one scripted reading for a zone.
type Sample struct {
	MM      int
	Timeout bool
}

// Frame is one scan cycle: a sample for each zone.
type Frame [2]Sample

// Replay serves recorded cycles as a zone.RangeSource. Each call for the
// outer zone completes a frame and advances to the next one.
//
// Fixture format, one cycle per line:
//
//	# comment
//	812,1600
//	-,1550      no return on the inner zone
//	timeout,900 the inner zone times out
type Replay struct {
	// Loop restarts from the first frame after the last one.
	Loop bool

	mu     sync.Mutex
	frames []Frame
	next   int
}

// NewReplay returns a replay over frames.
func NewReplay(frames []Frame) *Replay {
	return &Replay{frames: frames}
}

// ParseReplay reads a fixture.
func ParseReplay(r io.Reader) (*Replay, error) {
	var frames []Frame
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected inner,outer but got %q", lineNo, line)
		}
		var f Frame
		for i, field := range fields {
			s, err := parseSample(field)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f[i] = s
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("fixture has no cycles")
	}
	return NewReplay(frames), nil
}

// LoadReplay parses the fixture at path.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()
	return ParseReplay(f)
}

func parseSample(field string) (Sample, error) {
	field = strings.TrimSpace(field)
	switch strings.ToLower(field) {
	case "-":
		return Sample{MM: zone.NoReturn}, nil
	case "timeout":
		return Sample{Timeout: true}, nil
	}
	mm, err := strconv.Atoi(field)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid distance %q", field)
	}
	if mm < 0 {
		return Sample{MM: zone.NoReturn}, nil
	}
	return Sample{MM: mm}, nil
}

// Len returns the number of frames.
func (r *Replay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Rewind restarts from the first frame.
func (r *Replay) Rewind() {
	r.mu.Lock()
	r.next = 0
	r.mu.Unlock()
}

// Range implements zone.RangeSource.
func (r *Replay) Range(ctx context.Context, z occupancy.Zone) (int, error) {
	if !z.Valid() {
		return 0, fmt.Errorf("replay: invalid zone %d", int(z))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.frames) {
		if !r.Loop || len(r.frames) == 0 {
			return 0, ErrExhausted
		}
		r.next = 0
	}
	s := r.frames[r.next][z]
	// a timeout on the inner zone aborts the scan, so the outer sample of
	// that frame is never requested
	if z == occupancy.Outer || s.Timeout {
		r.next++
	}
	if s.Timeout {
		return 0, fmt.Errorf("replay zone %d: %w", z.Number(), zone.ErrRangingTimeout)
	}
	return s.MM, nil
}
