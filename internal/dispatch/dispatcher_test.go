package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grabbybot/grabby/internal/config"
	"github.com/grabbybot/grabby/internal/delivery"
	"github.com/grabbybot/grabby/internal/media"
)

type fakeResolver struct {
	mu      sync.Mutex
	results map[string]*media.Media
	err     error
	// block, when set, is closed by the test to release Resolve; started is
	// signalled once per call.
	block   chan struct{}
	started chan struct{}
}

func (r *fakeResolver) Resolve(_ context.Context, url string) (*media.Media, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.results[url]; ok {
		return m, nil
	}
	return nil, media.ErrNoBackendMatched
}

type passEnforcer struct{}

func (passEnforcer) EnforceLimit(_ context.Context, f media.File, ceiling int64) (media.File, error) {
	if f.Size() > ceiling {
		return media.File{}, &media.SizeError{
			Reason:        media.SizeUnresizable,
			Name:          f.Name,
			OriginalBytes: f.Size(),
		}
	}
	return f, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	uploads  []string // uploaded content strings
	spoilers []bool
	reports  []string
	err      error
	nextID   int
}

func (g *fakeGateway) UploadAttachment(_ context.Context, _ string, _ []media.File, content string, spoiler bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.nextID++
	g.uploads = append(g.uploads, content)
	g.spoilers = append(g.spoilers, spoiler)
	return "msg-" + strings.Repeat("x", g.nextID), nil
}

func (g *fakeGateway) DeleteMessage(context.Context, string, string) error { return nil }

func (g *fakeGateway) ReportError(_ context.Context, _ Request, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append(g.reports, text)
	return nil
}

func (g *fakeGateway) uploadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uploads)
}

func testServers() config.Config {
	return config.Config{
		Servers: []config.ServerConfig{
			{
				ServerID:          "g1",
				AutoEmbedChannels: []string{"auto-chan"},
				DisabledDomains:   []string{"blocked.example"},
			},
		},
	}
}

func sampleMedia(url string) *media.Media {
	likes := int64(1234567)
	return &media.Media{
		SourceURL: url,
		Files:     []media.File{{Name: "clip.mp4", Data: []byte("data")}},
		Meta: media.Metadata{
			ID:     "clip",
			Title:  "A Clip",
			Author: "Someone",
			Likes:  &likes,
			Ext:    "mp4",
		},
	}
}

func newTestDispatcher(resolver Resolver, gateway Gateway) (*Dispatcher, *delivery.Store) {
	store := delivery.NewStore(nil, 16, time.Hour)
	d := NewDispatcher(nil, resolver, passEnforcer{}, gateway, store, testServers(), 1000)
	return d, store
}

func TestDispatchSuccessCreatesRecord(t *testing.T) {
	resolver := &fakeResolver{results: map[string]*media.Media{
		"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
	}}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	err := d.HandleCommand(context.Background(), Request{
		URL:       "https://example.com/a.mp4",
		UserID:    "u1",
		GuildID:   "g1",
		ChannelID: "c1",
	})
	require.NoError(t, err)

	require.Len(t, gateway.uploads, 1)
	assert.Contains(t, gateway.uploads[0], "<@u1>")
	assert.Contains(t, gateway.uploads[0], "https://example.com/a.mp4")
	assert.Contains(t, gateway.uploads[0], "1,234,567")
	assert.Contains(t, gateway.uploads[0], "A Clip")

	require.Equal(t, 1, store.Len())
}

func TestDispatchResolveFailureNoRecord(t *testing.T) {
	resolver := &fakeResolver{err: &media.AggregateError{Failures: []error{errors.New("boom")}}}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	err := d.HandleCommand(context.Background(), Request{URL: "https://example.com/a", UserID: "u1", ChannelID: "c1"})
	require.Error(t, err)

	assert.Zero(t, store.Len())
	assert.Zero(t, gateway.uploadCount())
	require.Len(t, gateway.reports, 1)
	assert.Contains(t, gateway.reports[0], "Couldn't fetch")
}

func TestDispatchNoBackendMatched(t *testing.T) {
	resolver := &fakeResolver{err: media.ErrNoBackendMatched}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	err := d.HandleCommand(context.Background(), Request{URL: "https://example.com/a", ChannelID: "c1"})
	require.Error(t, err)
	assert.Zero(t, store.Len())
	require.Len(t, gateway.reports, 1)
	assert.Contains(t, gateway.reports[0], "no downloader recognizes it")
}

func TestDispatchInvalidURL(t *testing.T) {
	gateway := &fakeGateway{}
	d, _ := newTestDispatcher(&fakeResolver{}, gateway)

	err := d.HandleCommand(context.Background(), Request{URL: "not-a-url", ChannelID: "c1"})
	require.Error(t, err)
	require.Len(t, gateway.reports, 1)
	assert.Contains(t, gateway.reports[0], "valid URL")
}

func TestDispatchOversizedUnresizable(t *testing.T) {
	m := sampleMedia("https://example.com/big.mp4")
	m.Files = []media.File{{Name: "big.bin", Data: make([]byte, 5000)}}
	resolver := &fakeResolver{results: map[string]*media.Media{"https://example.com/big.mp4": m}}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	err := d.HandleCommand(context.Background(), Request{URL: "https://example.com/big.mp4", ChannelID: "c1"})
	require.Error(t, err)

	assert.Zero(t, store.Len())
	assert.Zero(t, gateway.uploadCount())
	require.Len(t, gateway.reports, 1)
	assert.Contains(t, gateway.reports[0], "too large")
	assert.Contains(t, gateway.reports[0], "0.0MB")
}

func TestDispatchSpoilerFlagReachesGateway(t *testing.T) {
	resolver := &fakeResolver{results: map[string]*media.Media{
		"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
	}}
	gateway := &fakeGateway{}
	d, _ := newTestDispatcher(resolver, gateway)

	require.NoError(t, d.HandleCommand(context.Background(), Request{
		URL:       "https://example.com/a.mp4",
		ChannelID: "c1",
		Spoiler:   true,
	}))
	require.Len(t, gateway.spoilers, 1)
	assert.True(t, gateway.spoilers[0])
}

func TestHandleMessageAutoEmbedTwoURLs(t *testing.T) {
	resolver := &fakeResolver{results: map[string]*media.Media{
		"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
		"https://example.com/b.jpg": sampleMedia("https://example.com/b.jpg"),
	}}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	d.HandleMessage(context.Background(), "g1", "auto-chan", "u1", "origin-1",
		"check this out https://example.com/a.mp4 and https://example.com/b.jpg")
	d.Wait()

	assert.Equal(t, 2, gateway.uploadCount())
	assert.Equal(t, 2, store.Len())
}

func TestHandleMessagePartialSuccess(t *testing.T) {
	resolver := &fakeResolver{results: map[string]*media.Media{
		"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
	}}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	d.HandleMessage(context.Background(), "g1", "auto-chan", "u1", "origin-1",
		"https://example.com/a.mp4 https://example.com/unknown")
	d.Wait()

	assert.Equal(t, 1, gateway.uploadCount())
	assert.Equal(t, 1, store.Len())
	require.Len(t, gateway.reports, 1)
}

func TestHandleMessageIgnoresUnconfiguredChannel(t *testing.T) {
	gateway := &fakeGateway{}
	d, _ := newTestDispatcher(&fakeResolver{}, gateway)

	d.HandleMessage(context.Background(), "g1", "other-chan", "u1", "origin-1",
		"https://example.com/a.mp4")
	d.Wait()

	assert.Zero(t, gateway.uploadCount())
	assert.Empty(t, gateway.reports)
}

func TestHandleMessageIgnoresUnknownGuild(t *testing.T) {
	gateway := &fakeGateway{}
	d, _ := newTestDispatcher(&fakeResolver{}, gateway)

	d.HandleMessage(context.Background(), "guild-unknown", "auto-chan", "u1", "origin-1",
		"https://example.com/a.mp4")
	d.Wait()

	assert.Zero(t, gateway.uploadCount())
}

func TestHandleMessageSkipsDisabledDomain(t *testing.T) {
	gateway := &fakeGateway{}
	d, _ := newTestDispatcher(&fakeResolver{}, gateway)

	d.HandleMessage(context.Background(), "g1", "auto-chan", "u1", "origin-1",
		"https://blocked.example/a.mp4")
	d.Wait()

	assert.Zero(t, gateway.uploadCount())
	assert.Empty(t, gateway.reports)
}

func TestOriginDeletedMidFlightDiscardsResult(t *testing.T) {
	resolver := &fakeResolver{
		results: map[string]*media.Media{
			"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
		},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	gateway := &fakeGateway{}
	d, store := newTestDispatcher(resolver, gateway)

	d.HandleMessage(context.Background(), "g1", "auto-chan", "u1", "origin-1",
		"https://example.com/a.mp4")

	<-resolver.started
	d.NoteOriginDeleted("origin-1")
	close(resolver.block)
	d.Wait()

	assert.Zero(t, gateway.uploadCount(), "result of deleted origin must be discarded")
	assert.Zero(t, store.Len())
}

func TestDispatchUploadFailureReported(t *testing.T) {
	resolver := &fakeResolver{results: map[string]*media.Media{
		"https://example.com/a.mp4": sampleMedia("https://example.com/a.mp4"),
	}}
	gateway := &fakeGateway{err: errors.New("http 500")}
	d, store := newTestDispatcher(resolver, gateway)

	err := d.HandleCommand(context.Background(), Request{URL: "https://example.com/a.mp4", ChannelID: "c1"})
	require.Error(t, err)
	assert.Zero(t, store.Len())
	require.Len(t, gateway.reports, 1)
	assert.Contains(t, gateway.reports[0], "upload")
}
