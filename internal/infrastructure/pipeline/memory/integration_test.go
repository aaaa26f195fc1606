package memory

import (
	"context"
	"image/color"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/core/services"
	"overlaycast/internal/infrastructure/compositor"
	"overlaycast/internal/infrastructure/control"
	"overlaycast/internal/infrastructure/monitoring"
	"overlaycast/internal/infrastructure/render"
	"overlaycast/pkg/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	frameW = 320
	frameH = 180
)

type pipeline struct {
	stream  *Stream
	client  *LoopbackClient
	sink    *SnapshotSink
	session ports.SessionService
}

func newPipeline(t *testing.T, layout domain.LayoutPolicy) *pipeline {
	t.Helper()
	logger := zap.NewNop().Sugar()
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())

	sink := NewSnapshotSink()
	stream := NewStream(NewSyntheticSource(frameW, frameH), 100, sink, logger)
	issuer := services.NewCredentialService("sdk-key", "sdk-secret", logger)
	client := NewLoopbackClient(stream, issuer, logger)

	generator, err := render.NewGenerator(render.DefaultConfig(), metrics, logger)
	require.NoError(t, err)

	newChannel := func() ports.ControlChannel {
		return control.NewChannel(4, metrics, logger)
	}
	newProcessor := func(ch ports.ControlChannel) ports.FrameProcessor {
		return compositor.NewProcessor(compositor.Config{
			Name:   "watermark-processor",
			Width:  frameW,
			Height: frameH,
			Layout: layout,
		}, ch, sink, metrics, logger)
	}

	session := services.NewSessionService(client, issuer, generator, newChannel, newProcessor, services.SessionConfig{
		CredentialTTL: time.Hour,
		OverlayWidth:  frameW,
		OverlayHeight: frameH,
		Retry:         retry.Config{Enabled: false},
	}, metrics, logger)

	return &pipeline{stream: stream, client: client, sink: sink, session: session}
}

func TestPipeline_CardOverlayReachesOutput(t *testing.T) {
	p := newPipeline(t, domain.DefaultLayout(domain.LayoutBottomBar))
	ctx := context.Background()

	_, err := p.session.Join(ctx, domain.JoinRequest{
		SessionName: "Room1",
		UserName:    "alice",
		Overlay: domain.OverlayRequest{
			Kind: domain.OverlayCard,
			Card: &domain.CardOptions{
				Name:        "Ada Lovelace",
				Title:       "Engineer",
				Company:     "Analytical Engines",
				FrameWidth:  frameW,
				FrameHeight: 90,
				CardWidth:   frameW,
				CardHeight:  90,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConnected, p.session.State())

	// The first step drains the queued overlay before compositing.
	p.stream.Step()

	out, _ := p.sink.Latest()
	require.NotNil(t, out)

	proc := p.session.Processor().(*compositor.Processor)
	stats := proc.Stats()
	assert.Equal(t, uint64(1), stats.FramesProcessed)
	assert.Equal(t, uint64(1), stats.OverlayUpdates)

	raw := NewSyntheticSource(frameW, frameH).Next()
	bottom := out.RGBAAt(frameW/2, frameH-1)
	rawBottom := color.RGBAModel.Convert(raw.Image.At(frameW/2, frameH-1)).(color.RGBA)
	assert.NotEqual(t, rawBottom, bottom, "card panel is blended into the bottom rows")

	top := out.RGBAAt(frameW/2, 0)
	rawTop := color.RGBAModel.Convert(raw.Image.At(frameW/2, 0)).(color.RGBA)
	assert.Equal(t, rawTop, top, "rows above the bar are untouched")

	require.NoError(t, p.session.Leave(ctx))
	assert.Equal(t, domain.SessionIdle, p.session.State())
	assert.Nil(t, p.session.Processor())
}

func TestPipeline_LeaveWhileFrameLoopRuns(t *testing.T) {
	p := newPipeline(t, domain.DefaultLayout(domain.LayoutCenteredOverlay))
	runStream(t, p.stream)
	ctx := context.Background()

	_, err := p.session.Join(ctx, domain.JoinRequest{SessionName: "Room1", UserName: "alice"})
	require.NoError(t, err)

	require.NoError(t, p.session.PushOverlay(ctx, domain.OverlayRequest{Kind: domain.OverlayText, Text: "LIVE"}))

	proc := p.session.Processor().(*compositor.Processor)
	require.Eventually(t, func() bool {
		return proc.Stats().OverlayUpdates == 1 && proc.Stats().FramesProcessed > 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.session.Leave(ctx))
	processed := proc.Stats().FramesProcessed

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, processed, proc.Stats().FramesProcessed, "detached processor sees no frames")
	assert.Positive(t, p.sink.Count())

	_, err = p.session.Join(ctx, domain.JoinRequest{SessionName: "Room1", UserName: "alice"})
	require.NoError(t, err, "rejoin after leave")
	require.NoError(t, p.session.Leave(ctx))
}

func TestPipeline_NewestOverlayWinsWhileCaptureIsOff(t *testing.T) {
	p := newPipeline(t, domain.DefaultLayout(domain.LayoutCenteredOverlay))
	ctx := context.Background()

	_, err := p.session.Join(ctx, domain.JoinRequest{SessionName: "Room1", UserName: "alice"})
	require.NoError(t, err)

	capturing, err := p.session.ToggleVideo(ctx)
	require.NoError(t, err)
	require.False(t, capturing)

	// More pushes than the channel holds; only the last (blank) one counts.
	texts := []string{"ONE", "TWO", "THREE", "FOUR", "FIVE", ""}
	for _, text := range texts {
		pushCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		start := time.Now()
		err := p.session.PushOverlay(pushCtx, domain.OverlayRequest{Kind: domain.OverlayText, Text: text})
		cancel()
		require.NoError(t, err, "push %q", text)
		assert.Less(t, time.Since(start), 400*time.Millisecond, "push %q must not wait for a frame", text)
	}

	capturing, err = p.session.ToggleVideo(ctx)
	require.NoError(t, err)
	require.True(t, capturing)
	p.stream.Step()

	proc := p.session.Processor().(*compositor.Processor)
	assert.Equal(t, uint64(1), proc.Stats().OverlayUpdates)

	out, _ := p.sink.Latest()
	require.NotNil(t, out)
	raw := NewSyntheticSource(frameW, frameH).Next()
	for y := 0; y < frameH; y += 4 {
		for x := 0; x < frameW; x += 4 {
			want := color.RGBAModel.Convert(raw.Image.At(x, y)).(color.RGBA)
			require.Equal(t, want, out.RGBAAt(x, y), "stale text overlay at (%d,%d)", x, y)
		}
	}

	require.NoError(t, p.session.Leave(ctx))
}

func TestPipeline_MembershipEvents(t *testing.T) {
	p := newPipeline(t, domain.DefaultLayout(domain.LayoutCenteredOverlay))
	ctx := context.Background()

	session, err := p.session.Join(ctx, domain.JoinRequest{SessionName: "Room1", UserName: "alice"})
	require.NoError(t, err)
	assert.Len(t, p.stream.Tiles(), 1)

	require.NoError(t, p.client.EmitVideoState(domain.VideoStateEvent{Action: domain.VideoStart, UserID: "peer-1"}))
	assert.Len(t, p.stream.Tiles(), 2)

	require.NoError(t, p.client.EmitVideoState(domain.VideoStateEvent{Action: domain.VideoStop, UserID: "peer-1"}))
	assert.Len(t, p.stream.Tiles(), 1)
	assert.Equal(t, session.UserID, p.stream.Tiles()[0].UserID)

	require.NoError(t, p.session.Leave(ctx))
	assert.Empty(t, p.stream.Tiles())
}
