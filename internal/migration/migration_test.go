package migration

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// fakeDevice serves state as a cursor over a byte slice and collects
// restore writes.
type fakeDevice struct {
	mu       sync.Mutex
	state    []byte
	pos      int
	restored []byte
	stages   []types.Stage
	stageErr error
}

func (f *fakeDevice) Init(h handle.Handle) error { return nil }
func (f *fakeDevice) Shutdown() error            { return nil }
func (f *fakeDevice) Reset() error               { return nil }

func (f *fakeDevice) GetAttribute(name string, kind attr.Kind) (attr.Value, error) {
	return attr.Value{}, vmerr.E(vmerr.NotFound, "fake.GetAttribute")
}

func (f *fakeDevice) SetAttribute(name string, value attr.Value) error {
	return vmerr.E(vmerr.NotFound, "fake.SetAttribute")
}

func (f *fakeDevice) PutMessage(buf *buffer.Buffer) error { return nil }

func (f *fakeDevice) NotifyStage(stage types.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return f.stageErr
	}
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeDevice) ReadDeviceBuffer(p []byte) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.state[f.pos:])
	f.pos += n
	return uint64(n), uint64(len(f.state) - f.pos), nil
}

func (f *fakeDevice) WriteDeviceBuffer(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, p...)
	return nil
}

func (f *fakeDevice) restoredBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.restored))
	copy(out, f.restored)
	return out
}

func TestStageCycle(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{})

	require.NoError(t, c.NotifyStage(types.StagePreCopy))
	require.NoError(t, c.NotifyStage(types.StageStopAndCopy))
	require.NoError(t, c.NotifyStage(types.StageResume))
	require.NoError(t, c.NotifyStage(types.StageNone))
	assert.Equal(t, []types.Stage{
		types.StagePreCopy, types.StageStopAndCopy, types.StageResume, types.StageNone,
	}, dev.stages)
	assert.Equal(t, types.StageNone, c.Stage())
}

func TestStageIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		walk []types.Stage
		next types.Stage
	}{
		{"none to stop-and-copy", nil, types.StageStopAndCopy},
		{"none to resume", nil, types.StageResume},
		{"pre-copy to resume", []types.Stage{types.StagePreCopy}, types.StageResume},
		{"pre-copy repeated", []types.Stage{types.StagePreCopy}, types.StagePreCopy},
		{"undefined stage", nil, types.Stage(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			c := NewController("gpu0", dev, Options{})
			for _, s := range tt.walk {
				require.NoError(t, c.NotifyStage(s))
			}
			err := c.NotifyStage(tt.next)
			assert.True(t, vmerr.Is(err, vmerr.InvalidArgument), "got %v", err)
		})
	}
}

func TestStageAbandonToNone(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{})

	require.NoError(t, c.NotifyStage(types.StagePreCopy))
	require.NoError(t, c.NotifyStage(types.StageNone))
	require.NoError(t, c.NotifyStage(types.StagePreCopy))
	assert.Equal(t, types.StagePreCopy, c.Stage())
}

func TestStagePluginFailureKeepsStage(t *testing.T) {
	dev := &fakeDevice{stageErr: vmerr.E(vmerr.Resource, "test")}
	c := NewController("gpu0", dev, Options{})

	err := c.NotifyStage(types.StagePreCopy)
	assert.True(t, vmerr.Is(err, vmerr.Resource))
	assert.Equal(t, types.StageNone, c.Stage())
}

func TestReadWindow(t *testing.T) {
	dev := &fakeDevice{state: []byte("device state")}
	c := NewController("gpu0", dev, Options{})
	p := make([]byte, 4)

	_, _, err := c.ReadDeviceBuffer(p)
	assert.True(t, vmerr.Is(err, vmerr.InvalidArgument))

	require.NoError(t, c.NotifyStage(types.StagePreCopy))
	written, remaining, err := c.ReadDeviceBuffer(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), written)
	assert.Equal(t, uint64(8), remaining)

	require.NoError(t, c.NotifyStage(types.StageStopAndCopy))
	_, _, err = c.ReadDeviceBuffer(p)
	require.NoError(t, err)

	require.NoError(t, c.NotifyStage(types.StageResume))
	_, _, err = c.ReadDeviceBuffer(p)
	assert.True(t, vmerr.Is(err, vmerr.InvalidArgument))
}

func TestWriteQueuedUntilReady(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{})

	require.NoError(t, c.WriteDeviceBuffer([]byte("ab")))
	require.NoError(t, c.WriteDeviceBuffer([]byte("cd")))
	assert.Empty(t, dev.restoredBytes())

	require.NoError(t, c.Ready())
	assert.Equal(t, []byte("abcd"), dev.restoredBytes())

	// After ready, writes pass straight through.
	require.NoError(t, c.WriteDeviceBuffer([]byte("ef")))
	assert.Equal(t, []byte("abcdef"), dev.restoredBytes())

	// Ready is idempotent.
	require.NoError(t, c.Ready())
}

func TestWriteBlocksOnFullQueue(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{PendingWrites: 1})

	require.NoError(t, c.WriteDeviceBuffer([]byte("11")))

	done := make(chan error, 1)
	go func() { done <- c.WriteDeviceBuffer([]byte("22")) }()

	select {
	case err := <-done:
		t.Fatalf("write did not block: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Ready())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write never released")
	}
	assert.Equal(t, []byte("1122"), dev.restoredBytes())
}

func TestCloseReleasesBlockedWriter(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{PendingWrites: 1})

	require.NoError(t, c.WriteDeviceBuffer([]byte("11")))

	done := make(chan error, 1)
	go func() { done <- c.WriteDeviceBuffer([]byte("22")) }()
	time.Sleep(20 * time.Millisecond)

	c.Close()
	select {
	case err := <-done:
		assert.True(t, vmerr.Is(err, vmerr.Timeout), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("blocked write never released")
	}

	// Everything fails after close, and close stays idempotent.
	assert.True(t, vmerr.Is(c.WriteDeviceBuffer([]byte("x")), vmerr.Timeout))
	assert.True(t, vmerr.Is(c.NotifyStage(types.StagePreCopy), vmerr.Timeout))
	_, _, err := c.ReadDeviceBuffer(make([]byte, 1))
	assert.True(t, vmerr.Is(err, vmerr.Timeout))
	assert.True(t, vmerr.Is(c.Ready(), vmerr.Timeout))
	c.Close()
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	state := bytes.Repeat([]byte("0123456789abcdef"), 33) // not chunk aligned
	src := &fakeDevice{state: state}
	c := NewController("gpu0", src, Options{})
	require.NoError(t, c.NotifyStage(types.StagePreCopy))

	var stream bytes.Buffer
	total, err := Save(c, &stream, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(state)), total)
	assert.Equal(t, state, stream.Bytes())

	// Restore with a different chunk size reproduces the same bytes.
	dst := &fakeDevice{}
	rc := NewController("gpu1", dst, Options{})
	require.NoError(t, rc.Ready())
	restored, err := Restore(rc, &stream, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(state)), restored)
	assert.Equal(t, state, dst.restoredBytes())
}

func TestSaveEmptyState(t *testing.T) {
	src := &fakeDevice{}
	c := NewController("gpu0", src, Options{})
	require.NoError(t, c.NotifyStage(types.StagePreCopy))

	var stream bytes.Buffer
	total, err := Save(c, &stream, 16)
	require.NoError(t, err)
	assert.Zero(t, total)
}

// stuckReader reports remaining state but never produces bytes.
type stuckReader struct{}

func (stuckReader) ReadDeviceBuffer(p []byte) (uint64, uint64, error) { return 0, 5, nil }

func TestSaveWithoutProgressFails(t *testing.T) {
	var stream bytes.Buffer
	_, err := Save(stuckReader{}, &stream, 16)
	assert.True(t, vmerr.Is(err, vmerr.Resource))
}

// legacyDevice is a fakeDevice that also speaks the whole-state interface.
type legacyDevice struct {
	fakeDevice
	saved []byte
}

func (l *legacyDevice) SaveState(put func(p []byte) error) (uint64, error) {
	if err := put(l.state); err != nil {
		return 0, err
	}
	return uint64(len(l.state)), nil
}

func (l *legacyDevice) RestoreState(get func(p []byte) (int, error), total uint64) error {
	l.saved = make([]byte, 0, total)
	buf := make([]byte, 8)
	for uint64(len(l.saved)) < total {
		n, err := get(buf)
		l.saved = append(l.saved, buf[:n]...)
		if err != nil {
			return err
		}
	}
	return nil
}

func TestLegacyBridge(t *testing.T) {
	src := &legacyDevice{fakeDevice: fakeDevice{state: []byte("legacy device state")}}

	var stream bytes.Buffer
	total, err := SavePlugin(src, &stream, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(src.state)), total)
	assert.Equal(t, src.state, stream.Bytes())

	dst := &legacyDevice{}
	require.NoError(t, RestorePlugin(dst, &stream, total, 4))
	assert.Equal(t, src.state, dst.saved)
}

func TestStreamingPluginPath(t *testing.T) {
	src := &fakeDevice{state: []byte("streaming state")}
	// fakeDevice does not implement the legacy interface, so SavePlugin
	// takes the chunked path; the read window is the caller's problem
	// only when going through a controller.
	var stream bytes.Buffer
	total, err := SavePlugin(src, &stream, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(src.state)), total)

	dst := &fakeDevice{}
	require.NoError(t, RestorePlugin(dst, &stream, total, 6))
	assert.Equal(t, src.state, dst.restoredBytes())
}

func TestStageConcurrentNotify(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController("gpu0", dev, Options{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- c.NotifyStage(types.StagePreCopy) }()
	}
	first, second := <-errs, <-errs

	// Exactly one transition wins; the loser validates against the
	// committed stage and is rejected.
	if first == nil {
		assert.True(t, vmerr.Is(second, vmerr.InvalidArgument), "got %v", second)
	} else {
		require.NoError(t, second)
		assert.True(t, vmerr.Is(first, vmerr.InvalidArgument), "got %v", first)
	}
	assert.Equal(t, []types.Stage{types.StagePreCopy}, dev.stages)
	assert.Equal(t, types.StagePreCopy, c.Stage())
}
