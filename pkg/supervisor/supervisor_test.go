package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/driver"
	"github.com/vyvern/vyvern/pkg/engine"
	"github.com/vyvern/vyvern/pkg/registry"
	"github.com/vyvern/vyvern/pkg/reply"
	"github.com/vyvern/vyvern/pkg/snapshot"
)

// fakeHandle is a scriptable driver handle.
type fakeHandle struct {
	mu       sync.Mutex
	authErr  error
	visible  []driver.VisibleMessage
	sent     []string
	released int
}

func (f *fakeHandle) Navigate(ctx context.Context, url string) error { return nil }

func (f *fakeHandle) Authenticate(ctx context.Context, creds driver.Credentials) error {
	return f.authErr
}

func (f *fakeHandle) OpenConversation(ctx context.Context, counterpart string) error { return nil }

func (f *fakeHandle) ReadVisibleMessages(ctx context.Context) ([]driver.VisibleMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]driver.VisibleMessage, len(f.visible))
	copy(out, f.visible)
	return out, nil
}

func (f *fakeHandle) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeHandle) CaptureSnapshot(ctx context.Context) ([]byte, error) {
	return []byte("frame"), nil
}

func (f *fakeHandle) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeHandle) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeHandle) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeDriver hands out the prepared handle, or mints a fresh one per launch
// when none is prepared.
type fakeDriver struct {
	mu        sync.Mutex
	handle    *fakeHandle
	launchErr error
	launches  int
	issued    []*fakeHandle
}

func (d *fakeDriver) Launch(ctx context.Context) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	h := d.handle
	if h == nil {
		h = &fakeHandle{}
	}
	d.issued = append(d.issued, h)
	return h, nil
}

func (d *fakeDriver) issuedHandles() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeHandle, len(d.issued))
	copy(out, d.issued)
	return out
}

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, prompt reply.Prompt) (string, error) {
	return "generated reply", nil
}

func testCampaign() *campaign.Campaign {
	return &campaign.Campaign{
		ID:             "campaign-1",
		Name:           "Outreach",
		Objective:      "schedule a call",
		OpeningMessage: "Hi there!",
		CompanyName:    "Acme Corp",
		Recipient: campaign.Recipient{
			Name:  "Jordan Reyes",
			Email: "jordan@example.com",
		},
	}
}

func newTestSupervisor(drv driver.Driver) (*Supervisor, *registry.Registry) {
	reg := registry.New(zerolog.Nop())
	eng := engine.New(reg, staticGenerator{}, engine.Config{
		PollInterval: 10 * time.Millisecond,
		SurfaceURL:   "https://surface.example.com",
	}, zerolog.Nop())

	sup := New(reg, drv, eng, Config{
		MaxSessionDuration: time.Minute,
		CleanupWait:        time.Second,
		Snapshot: snapshot.Config{
			Interval:    10 * time.Millisecond,
			MinInterval: 20 * time.Millisecond,
		},
	}, zerolog.Nop())

	return sup, reg
}

func TestStartRunsSession(t *testing.T) {
	handle := &fakeHandle{}
	sup, reg := newTestSupervisor(&fakeDriver{handle: handle})

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Start returns before the session finishes anything.
	view, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, "campaign-1", view.CampaignID)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	sup.Cleanup(id)
}

func TestLaunchFailureMarksError(t *testing.T) {
	drv := &fakeDriver{
		launchErr: &driver.DriverError{Code: driver.ErrCodeLaunch, Message: "no chrome"},
	}
	sup, reg := newTestSupervisor(drv)

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusError
	}, 2*time.Second, 5*time.Millisecond)

	view, _ := reg.Get(id)
	assert.Contains(t, view.ErrorDetail, "browser launch failed")

	// The failure is narrated in the transcript.
	require.NotEmpty(t, view.Transcript)
	assert.Contains(t, view.Transcript[len(view.Transcript)-1].Text, "browser launch failed")
}

func TestAuthFailureReleasesHandleOnce(t *testing.T) {
	handle := &fakeHandle{
		authErr: &driver.DriverError{Code: driver.ErrCodeAuthentication, Message: "bad credentials"},
	}
	sup, reg := newTestSupervisor(&fakeDriver{handle: handle})

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusError
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return handle.releaseCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Cleanup after the failure must not double-release.
	sup.Cleanup(id)
	assert.Equal(t, 1, handle.releaseCount())

	_, ok := reg.Get(id)
	assert.False(t, ok)
}

func TestCleanupStopsRunningSession(t *testing.T) {
	handle := &fakeHandle{}
	sup, reg := newTestSupervisor(&fakeDriver{handle: handle})

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	sup.Cleanup(id)

	assert.Equal(t, 1, handle.releaseCount())
	_, ok := reg.Get(id)
	assert.False(t, ok)

	_, hasFrame := sup.LatestSnapshot(id)
	assert.False(t, hasFrame)
}

func TestCleanupUnknownSessionIsSilentSuccess(t *testing.T) {
	sup, _ := newTestSupervisor(&fakeDriver{handle: &fakeHandle{}})

	// Unknown and repeated cleanups must not panic or error.
	sup.Cleanup("never-existed")
	sup.Cleanup("never-existed")
}

func TestCleanupIdempotent(t *testing.T) {
	handle := &fakeHandle{}
	sup, reg := newTestSupervisor(&fakeDriver{handle: handle})

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	sup.Cleanup(id)
	sup.Cleanup(id)

	assert.Equal(t, 1, handle.releaseCount())
}

func TestLatestSnapshot(t *testing.T) {
	handle := &fakeHandle{}
	sup, reg := newTestSupervisor(&fakeDriver{handle: handle})

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := sup.LatestSnapshot(id)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	data, ok := sup.LatestSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, []byte("frame"), data)

	sup.Cleanup(id)
}

func TestMaxSessionDurationCompletesSession(t *testing.T) {
	handle := &fakeHandle{}
	reg := registry.New(zerolog.Nop())
	eng := engine.New(reg, staticGenerator{}, engine.Config{
		PollInterval: 10 * time.Millisecond,
		SurfaceURL:   "https://surface.example.com",
	}, zerolog.Nop())

	sup := New(reg, &fakeDriver{handle: handle}, eng, Config{
		MaxSessionDuration: 150 * time.Millisecond,
		CleanupWait:        time.Second,
		Snapshot: snapshot.Config{
			Interval:    10 * time.Millisecond,
			MinInterval: 20 * time.Millisecond,
		},
	}, zerolog.Nop())

	id, err := sup.Start(testCampaign())
	require.NoError(t, err)

	// The deadline expires, the engine returns cleanly, and the session
	// lands in completed with the handle released.
	require.Eventually(t, func() bool {
		v, _ := reg.Get(id)
		return v.Status == registry.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return handle.releaseCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentSessionsHoldDistinctHandles(t *testing.T) {
	drv := &fakeDriver{}
	sup, reg := newTestSupervisor(drv)

	c1 := testCampaign()
	c2 := testCampaign()
	c2.ID = "campaign-2"
	c2.OpeningMessage = "Hello from the second campaign!"

	id1, err := sup.Start(c1)
	require.NoError(t, err)
	id2, err := sup.Start(c2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v1, ok1 := reg.Get(id1)
		v2, ok2 := reg.Get(id2)
		return ok1 && ok2 && v1.Status == registry.StatusRunning && v2.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	handles := drv.issuedHandles()
	require.Len(t, handles, 2)
	assert.NotSame(t, handles[0], handles[1])

	// Each session drove only its own handle: one opening message apiece.
	require.Eventually(t, func() bool {
		return len(handles[0].sentMessages()) == 1 && len(handles[1].sentMessages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, handles[0].sentMessages()[0], handles[1].sentMessages()[0])

	sup.Cleanup(id1)
	sup.Cleanup(id2)

	for _, h := range handles {
		assert.Equal(t, 1, h.releaseCount())
	}
}

func TestShutdownCleansAllSessions(t *testing.T) {
	drv := &fakeDriver{}
	sup, reg := newTestSupervisor(drv)

	c2 := testCampaign()
	c2.ID = "campaign-2"

	id1, err := sup.Start(testCampaign())
	require.NoError(t, err)
	id2, err := sup.Start(c2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v1, ok1 := reg.Get(id1)
		v2, ok2 := reg.Get(id2)
		return ok1 && ok2 && v1.Status == registry.StatusRunning && v2.Status == registry.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	sup.Shutdown()

	_, ok1 := reg.Get(id1)
	_, ok2 := reg.Get(id2)
	assert.False(t, ok1)
	assert.False(t, ok2)

	for _, h := range drv.issuedHandles() {
		assert.Equal(t, 1, h.releaseCount())
	}
}
