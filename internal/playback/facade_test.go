package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/render"
)

func testSettings() *conf.Settings {
	return &conf.Settings{
		Realtime: conf.RealtimeSettings{
			Audio: conf.AudioSettings{
				Channels:      conf.NumChannels,
				BufferFrames:  conf.DefaultBufferFrames,
				TelemetryEach: 4,
			},
		},
	}
}

// fakeController records lifecycle calls for registry tests.
type fakeController struct {
	mu        sync.Mutex
	loadCalls int
	tornDown  bool
	state     State
}

func (f *fakeController) Load(_ context.Context, _ TrackSpec) (*Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	f.state = StateLoaded
	return nil, nil
}

func (f *fakeController) Play() error  { return nil }
func (f *fakeController) Pause() error { return nil }
func (f *fakeController) Stop() error  { return nil }

func (f *fakeController) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = true
	f.state = StateTornDown
	return nil
}

func (f *fakeController) Telemetry() render.Snapshot {
	return render.Snapshot{}
}

func (f *fakeController) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) wasTornDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tornDown
}

func fakeDescriptor(id string, priority int, ctrl *fakeController, available error) Descriptor {
	return Descriptor{
		ID:       id,
		Kind:     KindNull,
		Priority: priority,
		Available: func(RuntimeContext) error {
			return available
		},
		Factory: func(RuntimeContext) (Controller, error) {
			return ctrl, nil
		},
	}
}

func TestFacadeFallsBackWhenPreferredUnavailable(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	ctrlB := &fakeController{}
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("alpha", 100, nil, errors.NewStd("device enumeration failed")), true))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("beta", 10, ctrlB, nil), false))

	sel, err := f.Load(context.Background(), TrackSpec{Title: "track"}, RuntimeContext{Settings: testSettings()})
	require.NoError(t, err)
	assert.Equal(t, "beta", sel.AdapterID)
	assert.Equal(t, "beta", f.GetActiveAdapterID())
	assert.Equal(t, 1, ctrlB.loadCalls)
}

func TestFacadeAggregatesAllUnavailableReasons(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("alpha", 100, nil, errors.NewStd("no devices")), false))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("beta", 10, nil, errors.NewStd("path not writable")), false))

	_, err := f.Load(context.Background(), TrackSpec{}, RuntimeContext{Settings: testSettings()})
	require.Error(t, err)

	var unavail *UnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Len(t, unavail.Reasons, 2)
	assert.Contains(t, err.Error(), "alpha (no devices)")
	assert.Contains(t, err.Error(), "beta (path not writable)")
	assert.Empty(t, f.GetActiveAdapterID())
}

func TestFacadeRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("alpha", 1, &fakeController{}, nil), false))
	err := f.RegisterAdapter(fakeDescriptor("alpha", 2, &fakeController{}, nil), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestFacadeTearsDownPreviousControllerOnLoad(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	first := &fakeController{}
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("alpha", 100, first, nil), false))

	_, err := f.Load(context.Background(), TrackSpec{}, RuntimeContext{Settings: testSettings()})
	require.NoError(t, err)
	assert.False(t, first.wasTornDown())

	_, err = f.Load(context.Background(), TrackSpec{}, RuntimeContext{Settings: testSettings()})
	require.NoError(t, err)
	assert.True(t, first.wasTornDown())
	assert.Equal(t, 2, first.loadCalls)
}

func TestSetPreferredAdapterTearsDownActive(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	ctrl := &fakeController{}
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("alpha", 100, ctrl, nil), false))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("beta", 10, &fakeController{}, nil), false))

	_, err := f.Load(context.Background(), TrackSpec{}, RuntimeContext{Settings: testSettings()})
	require.NoError(t, err)
	require.Equal(t, "alpha", f.GetActiveAdapterID())

	require.NoError(t, f.SetPreferredAdapter("beta"))
	assert.True(t, ctrl.wasTornDown())
	assert.Empty(t, f.GetActiveAdapterID())

	err = f.SetPreferredAdapter("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestSetPreferredAdapterDropsCachedProbe(t *testing.T) {
	t.Parallel()

	var probes int
	failing := Descriptor{
		ID:       "alpha",
		Kind:     KindNull,
		Priority: 100,
		Available: func(RuntimeContext) error {
			probes++
			if probes == 1 {
				return errors.NewStd("device busy")
			}
			return nil
		},
		Factory: func(RuntimeContext) (Controller, error) {
			return &fakeController{}, nil
		},
	}

	f := NewFacade(time.Minute)
	require.NoError(t, f.RegisterAdapter(failing, false))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("beta", 10, &fakeController{}, nil), false))

	rc := RuntimeContext{Settings: testSettings()}
	sel, err := f.Load(context.Background(), TrackSpec{}, rc)
	require.NoError(t, err)
	require.Equal(t, "beta", sel.AdapterID)
	require.Equal(t, 1, probes)

	// Preferring alpha drops its cached failure, so the next Load probes
	// it again within the TTL and now selects it.
	require.NoError(t, f.SetPreferredAdapter("alpha"))
	sel, err = f.Load(context.Background(), TrackSpec{}, rc)
	require.NoError(t, err)
	assert.Equal(t, "alpha", sel.AdapterID)
	assert.Equal(t, 2, probes)
}

func TestCandidateOrderPutsPreferredFirst(t *testing.T) {
	t.Parallel()

	f := NewFacade(0)
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("low", 1, &fakeController{}, nil), false))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("high", 100, &fakeController{}, nil), false))
	require.NoError(t, f.RegisterAdapter(fakeDescriptor("mid", 50, &fakeController{}, nil), true))

	f.mu.Lock()
	order := f.candidateOrderLocked()
	f.mu.Unlock()

	require.Len(t, order, 3)
	assert.Equal(t, "mid", order[0].ID)
	assert.Equal(t, "high", order[1].ID)
	assert.Equal(t, "low", order[2].ID)
}

func TestProbeCacheMemoizesResults(t *testing.T) {
	t.Parallel()

	var probes int
	d := Descriptor{
		ID:   "counted",
		Kind: KindNull,
		Available: func(RuntimeContext) error {
			probes++
			return errors.NewStd("still down")
		},
		Factory: func(RuntimeContext) (Controller, error) {
			return &fakeController{}, nil
		},
	}

	pc := newProbeCache(time.Minute)
	rc := RuntimeContext{Settings: testSettings()}

	require.Error(t, pc.check(d, rc))
	require.Error(t, pc.check(d, rc))
	assert.Equal(t, 1, probes, "second check should come from the cache")

	pc.invalidate("counted")
	require.Error(t, pc.check(d, rc))
	assert.Equal(t, 2, probes)
}

func TestProbeCacheDisabledProbesEveryTime(t *testing.T) {
	t.Parallel()

	var probes int
	d := Descriptor{
		ID:   "counted",
		Kind: KindNull,
		Available: func(RuntimeContext) error {
			probes++
			return nil
		},
	}

	pc := newProbeCache(0)
	rc := RuntimeContext{Settings: testSettings()}
	require.NoError(t, pc.check(d, rc))
	require.NoError(t, pc.check(d, rc))
	assert.Equal(t, 2, probes)
}
