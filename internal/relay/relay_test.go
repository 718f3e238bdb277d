package relay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/voicelane/narrator/internal/audiostore"
	"github.com/voicelane/narrator/internal/cache"
	"github.com/voicelane/narrator/internal/orchestrator"
	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
	"github.com/voicelane/narrator/pkg/synth/fake"
)

// fakeClient scripts the client side of a session and records every
// message the relay sends.
type fakeClient struct {
	req *StreamRequest

	mu       sync.Mutex
	messages []Message
	done     chan struct{}
	once     sync.Once
}

func newFakeClient(req *StreamRequest) *fakeClient {
	return &fakeClient{req: req, done: make(chan struct{})}
}

func (c *fakeClient) ReadRequest(ctx context.Context) (*StreamRequest, error) {
	if c.req == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.req, nil
}

func (c *fakeClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeClient) Done() <-chan struct{} { return c.done }

func (c *fakeClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeClient) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *fakeClient) last() Message {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return Message{}
	}
	return msgs[len(msgs)-1]
}

// timingFor builds uniform per-character vendor timing for text.
func timingFor(text string, stepMs int) *alignment.CharTiming {
	t := &alignment.CharTiming{}
	for i, r := range []rune(text) {
		t.Chars = append(t.Chars, string(r))
		t.StartTimesMs = append(t.StartTimesMs, i*stepMs)
		t.DurationsMs = append(t.DurationsMs, stepMs)
	}
	return t
}

func newTestRelay(t *testing.T, vendor *fake.Vendor) (*Relay, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 400*time.Millisecond, slog.Default())
	return New(vendor, orch, time.Second, time.Second, slog.Default()), store
}

func TestServe_StreamingHappyPath(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	vendor.Frames = []synth.Frame{
		{Audio: []byte("chunk-1")},
		{Timing: timingFor("hello world", 100)},
		{Audio: []byte("chunk-2")},
		{Final: true},
	}
	relay, store := newTestRelay(t, vendor)

	client := newFakeClient(&StreamRequest{Text: "hello world", VoiceID: "v1"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	msgs := client.Messages()
	is.Equal(len(msgs), 4) // audio, alignment, audio, complete

	is.Equal(msgs[0].Type, MessageTypeAudio)
	is.Equal(msgs[0].Data, base64.StdEncoding.EncodeToString([]byte("chunk-1")))
	is.Equal(msgs[1].Type, MessageTypeAlignment)
	is.Equal(msgs[1].Words, []alignment.Word{
		{Word: "hello", Start: 0.0, End: 0.5},
		{Word: "world", Start: 0.6, End: 1.1},
	})
	is.Equal(msgs[2].Type, MessageTypeAudio)

	final := msgs[3]
	is.Equal(final.Type, MessageTypeComplete)
	is.True(final.AudioURL != "")
	is.True(final.Precise)
	is.Equal(final.Alignment, msgs[1].Words)

	is.Equal(store.Len(), 1)                 // session persisted one cache entry
	is.Equal(vendor.SynthesizeCalls(), 0)    // no fallback happened
}

func TestServe_PersistedAudioIsConcatenation(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	vendor.Frames = []synth.Frame{
		{Audio: []byte("aaa")},
		{Audio: []byte("bbb")},
	}

	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 0, slog.Default())
	relay := New(vendor, orch, time.Second, time.Second, slog.Default())

	client := newFakeClient(&StreamRequest{Text: "hi", VoiceID: "v1"})
	relay.Serve(context.Background(), client)

	entry, err := store.Lookup(context.Background(), cache.Fingerprint("hi", "v1"))
	is.NoErr(err)
	is.True(entry != nil)

	data, err := audio.Get(context.Background(), entry.AudioURL)
	is.NoErr(err)
	is.Equal(string(data), "aaabbb")
}

func TestServe_NoTimingFramesUsesEstimate(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	vendor.Frames = []synth.Frame{{Audio: []byte("audio")}}
	relay, _ := newTestRelay(t, vendor)

	client := newFakeClient(&StreamRequest{Text: "one two three", VoiceID: "v1"})
	relay.Serve(context.Background(), client)

	final := client.last()
	is.Equal(final.Type, MessageTypeComplete)
	is.True(!final.Precise)
	is.Equal(final.Alignment, []alignment.Word{
		{Word: "one", Start: 0.0, End: 0.4},
		{Word: "two", Start: 0.4, End: 0.8},
		{Word: "three", Start: 0.8, End: 1.2},
	})
}

func TestServe_EstimateUsesConfiguredWordDuration(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	vendor.Frames = []synth.Frame{{Audio: []byte("audio")}}

	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 200*time.Millisecond, slog.Default())
	relay := New(vendor, orch, time.Second, time.Second, slog.Default())

	client := newFakeClient(&StreamRequest{Text: "one two", VoiceID: "v1"})
	relay.Serve(context.Background(), client)

	final := client.last()
	is.Equal(final.Type, MessageTypeComplete)
	is.Equal(final.Alignment, []alignment.Word{
		{Word: "one", Start: 0.0, End: 0.2},
		{Word: "two", Start: 0.2, End: 0.4},
	})

	// The persisted entry paces the same as a one-shot estimate would, so
	// later one-shot hits serve an identical alignment.
	entry, err := store.Lookup(context.Background(), cache.Fingerprint("one two", "v1"))
	is.NoErr(err)
	is.True(entry != nil)
	is.Equal(entry.Alignment, final.Alignment)
}

func TestServe_SilentClientGetsErrorAndCloses(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 0, slog.Default())
	relay := New(vendor, orch, time.Second, 50*time.Millisecond, slog.Default())

	client := newFakeClient(nil) // never sends an opening request
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	msgs := client.Messages()
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Type, MessageTypeError)
	is.Equal(vendor.OpenCalls(), 0)
}

func TestServe_MissingVoiceNeverOpensUpstream(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	relay, store := newTestRelay(t, vendor)

	client := newFakeClient(&StreamRequest{Text: "hello"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	is.Equal(vendor.OpenCalls(), 0)       // upstream never dialed
	is.Equal(vendor.SynthesizeCalls(), 0) // no fallback either
	is.Equal(store.Len(), 0)

	msgs := client.Messages()
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Type, MessageTypeError)
}

func TestServe_ConnectRefusedFallsBackToComplete(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(&synth.Result{Audio: []byte("fallback-audio")})
	vendor.OpenErr = narration.Classify(narration.ErrUpstreamUnavailable, nil, "connect refused")
	relay, store := newTestRelay(t, vendor)

	client := newFakeClient(&StreamRequest{Text: "hello world", VoiceID: "v1"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	final := client.last()
	is.Equal(final.Type, MessageTypeComplete)
	is.True(final.AudioURL != "")
	is.Equal(store.Len(), 1) // fallback result was cached
	is.Equal(vendor.SynthesizeCalls(), 1)
}

func TestServe_MidStreamFailureDiscardsPartialAudio(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(&synth.Result{Audio: []byte("whole-fallback")})
	vendor.Frames = []synth.Frame{{Audio: []byte("partial")}}
	vendor.StreamErr = narration.Classify(narration.ErrUpstreamUnavailable, nil, "reset mid-stream")

	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 0, slog.Default())
	relay := New(vendor, orch, time.Second, time.Second, slog.Default())

	client := newFakeClient(&StreamRequest{Text: "hello world", VoiceID: "v1"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	final := client.last()
	is.Equal(final.Type, MessageTypeComplete) // still a terminal message

	entry, err := store.Lookup(context.Background(), cache.Fingerprint("hello world", "v1"))
	is.NoErr(err)
	is.True(entry != nil)

	data, err := audio.Get(context.Background(), entry.AudioURL)
	is.NoErr(err)
	is.Equal(string(data), "whole-fallback") // partial streamed audio was not persisted
}

func TestServe_StreamAndFallbackFailureErrors(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	vendor.OpenErr = narration.Classify(narration.ErrUpstreamUnavailable, nil, "down")
	vendor.Err = narration.Classify(narration.ErrUpstreamUnavailable, nil, "still down")
	relay, store := newTestRelay(t, vendor)

	client := newFakeClient(&StreamRequest{Text: "hello", VoiceID: "v1"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateErrored)
	final := client.last()
	is.Equal(final.Type, MessageTypeError)
	is.True(final.Error != "")
	is.Equal(store.Len(), 0) // nothing persisted from an errored session
}

func TestServe_FrameTimeoutTriggersFallback(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(&synth.Result{Audio: []byte("fallback")})
	vendor.Frames = nil
	// A stream that never produces frames nor closes.
	hang := &hangingVendor{Vendor: vendor}

	store := cache.NewMemory()
	audio := audiostore.NewDisk(t.TempDir(), "")
	orch := orchestrator.New(vendor, store, audio, 0, slog.Default())
	relay := New(hang, orch, time.Second, 50*time.Millisecond, slog.Default())

	client := newFakeClient(&StreamRequest{Text: "hello", VoiceID: "v1"})
	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	is.Equal(client.last().Type, MessageTypeComplete)
	is.Equal(vendor.SynthesizeCalls(), 1)
}

func TestServe_ClientDisconnectClosesUpstream(t *testing.T) {
	is := is.New(t)

	vendor := fake.NewVendor(nil)
	hang := &hangingVendor{Vendor: vendor}
	relay, store := newTestRelay(t, vendor)
	relay.vendor = hang

	client := newFakeClient(&StreamRequest{Text: "hello", VoiceID: "v1"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Close() // client hangs up mid-stream
	}()

	state := relay.Serve(context.Background(), client)

	is.Equal(state, StateClosed)
	is.Equal(vendor.SynthesizeCalls(), 0) // disconnect is not an upstream failure
	is.Equal(store.Len(), 0)              // nothing persisted for an abandoned session
	is.True(hang.stream.closed.Load())    // upstream was closed, not leaked
}

// hangingVendor opens streams that block in Recv until closed.
type hangingVendor struct {
	*fake.Vendor
	stream *hangingStream
}

func (v *hangingVendor) OpenStream(ctx context.Context, req synth.Request) (synth.Stream, error) {
	v.stream = &hangingStream{unblock: make(chan struct{})}
	return v.stream, nil
}

type hangingStream struct {
	unblock chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

func (s *hangingStream) Recv() (synth.Frame, error) {
	<-s.unblock
	return synth.Frame{}, context.Canceled
}

func (s *hangingStream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.unblock)
	})
	return nil
}
