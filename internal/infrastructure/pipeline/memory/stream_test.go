package memory

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingProcessor struct {
	name string

	mu      sync.Mutex
	events  []string
	frames  int
	initG   chan struct{}
	uninitG chan struct{}
}

func newRecordingProcessor(name string) *recordingProcessor {
	return &recordingProcessor{name: name, initG: make(chan struct{}, 1), uninitG: make(chan struct{}, 1)}
}

func (p *recordingProcessor) Name() string { return p.name }

func (p *recordingProcessor) OnInit() error {
	p.record("init")
	p.initG <- struct{}{}
	return nil
}

func (p *recordingProcessor) ProcessFrame(frame *domain.Frame) bool {
	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	return true
}

func (p *recordingProcessor) OnUninit() {
	p.record("uninit")
	p.uninitG <- struct{}{}
}

func (p *recordingProcessor) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingProcessor) snapshot() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...), p.frames
}

func newTestStream(sink ports.FrameSink) *Stream {
	return NewStream(NewSyntheticSource(64, 36), 200, sink, zap.NewNop().Sugar())
}

func runStream(t *testing.T, s *Stream) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestStream_StepWithoutProcessorsPassesThrough(t *testing.T) {
	sink := NewSnapshotSink()
	s := newTestStream(sink)

	s.Step()
	assert.Zero(t, sink.Count(), "no frames before capture starts")

	require.NoError(t, s.StartVideo(context.Background()))
	s.Step()
	s.Step()

	assert.Equal(t, uint64(2), sink.Count())
	img, seq := sink.Latest()
	require.NotNil(t, img)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, image.Pt(64, 36), img.Rect.Size())
}

func TestStream_NilSinksAreSkipped(t *testing.T) {
	var typedNil *SnapshotSink
	for name, sink := range map[string]ports.FrameSink{"nil interface": nil, "nil snapshot sink": typedNil} {
		t.Run(name, func(t *testing.T) {
			s := newTestStream(sink)
			require.NoError(t, s.StartVideo(context.Background()))
			assert.NotPanics(t, s.Step)
		})
	}
}

func TestStream_AddAndRemoveInline(t *testing.T) {
	s := newTestStream(nil)
	p := newRecordingProcessor("watermark-processor")

	require.NoError(t, s.AddProcessor(context.Background(), p))
	require.ErrorIs(t, s.AddProcessor(context.Background(), newRecordingProcessor("watermark-processor")), domain.ErrProcessorExists)

	require.NoError(t, s.StartVideo(context.Background()))
	s.Step()

	require.NoError(t, s.RemoveProcessor(context.Background(), "watermark-processor"))
	require.ErrorIs(t, s.RemoveProcessor(context.Background(), "watermark-processor"), domain.ErrProcessorNotFound)

	events, frames := p.snapshot()
	assert.Equal(t, []string{"init", "uninit"}, events)
	assert.Equal(t, 1, frames)
}

func TestStream_RemoveProcessorWaitsForUninit(t *testing.T) {
	s := newTestStream(nil)
	runStream(t, s)
	require.NoError(t, s.StartVideo(context.Background()))

	p := newRecordingProcessor("watermark-processor")
	require.NoError(t, s.AddProcessor(context.Background(), p))

	require.Eventually(t, func() bool {
		_, frames := p.snapshot()
		return frames > 2
	}, time.Second, time.Millisecond)

	require.NoError(t, s.RemoveProcessor(context.Background(), "watermark-processor"))

	events, frames := p.snapshot()
	assert.Equal(t, []string{"init", "uninit"}, events, "uninit delivered before RemoveProcessor returns")

	time.Sleep(20 * time.Millisecond)
	_, after := p.snapshot()
	assert.Equal(t, frames, after, "no frames after detach")
}

func TestStream_RunExitUninitializesProcessors(t *testing.T) {
	s := newTestStream(nil)
	cancel := runStream(t, s)

	p := newRecordingProcessor("watermark-processor")
	require.NoError(t, s.AddProcessor(context.Background(), p))
	cancel()

	select {
	case <-p.uninitG:
	case <-time.After(time.Second):
		t.Fatal("processor not uninitialized on shutdown")
	}
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
}

func TestStream_StopVideoHaltsFrames(t *testing.T) {
	sink := NewSnapshotSink()
	s := newTestStream(sink)
	ctx := context.Background()

	require.NoError(t, s.StartVideo(ctx))
	assert.True(t, s.IsCapturingVideo())
	s.Step()

	require.NoError(t, s.StopVideo(ctx))
	assert.False(t, s.IsCapturingVideo())
	s.Step()

	assert.Equal(t, uint64(1), sink.Count())
}

func TestStream_VideoTiles(t *testing.T) {
	s := newTestStream(nil)
	ctx := context.Background()

	first, err := s.AttachVideo(ctx, "user-1")
	require.NoError(t, err)
	again, err := s.AttachVideo(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = s.AttachVideo(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, s.Tiles(), 2)

	require.NoError(t, s.DetachVideo(ctx, "user-1"))
	assert.ErrorIs(t, s.DetachVideo(ctx, "user-1"), domain.ErrVideoNotAttached)
	assert.Len(t, s.Tiles(), 1)
}

func TestSyntheticSource_Advances(t *testing.T) {
	src := NewSyntheticSource(70, 10)

	first := src.Next()
	firstPixel := first.Image.At(0, 0)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, 70, first.Width())

	var second *domain.Frame
	for i := 0; i < 10; i++ {
		second = src.Next()
	}
	assert.Equal(t, uint64(11), second.Seq)
	assert.NotEqual(t, firstPixel, second.Image.At(0, 0), "pattern moves between frames")
	_, _, _, a := second.Image.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestSnapshotSink_CopiesFrame(t *testing.T) {
	sink := NewSnapshotSink()

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 0xff, A: 0xff})
	sink.Consume(&domain.Frame{Seq: 7, Image: src})
	src.Set(1, 1, color.RGBA{B: 0xff, A: 0xff})

	img, seq := sink.Latest()
	require.NotNil(t, img)
	assert.Equal(t, uint64(7), seq)
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, img.RGBAAt(1, 1))

	sink.Consume(nil)
	assert.Equal(t, uint64(1), sink.Count())
}
