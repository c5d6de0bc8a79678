package convdispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/mocks"
)

func newController(t *testing.T, opts ...convdispatch.ControllerOption) (*convdispatch.Controller, *mocks.MockEventStore, *mocks.MockBackend, *convdispatch.Dispatcher) {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockEventStore(ctrl)
	backend := mocks.NewMockBackend(ctrl)
	router, err := convdispatch.NewRouter(backend, convdispatch.DefaultRouterConfig())
	require.NoError(t, err)

	dispatcher := convdispatch.NewDispatcher(store, router, convdispatch.WithPollInterval(time.Hour))
	controller, err := convdispatch.NewController(store, backend, dispatcher, opts...)
	require.NoError(t, err)

	return controller, store, backend, dispatcher
}

func TestControllerCheckHealthReportsEveryDependency(t *testing.T) {
	controller, store, backend, _ := newController(t)

	store.EXPECT().HealthCheck(gomock.Any()).Return(errors.New("pg down"))
	backend.EXPECT().Ping(gomock.Any()).Return(errors.New("redis down"))

	err := controller.CheckHealth(context.Background())
	require.ErrorIs(t, err, convdispatch.ErrDependencyUnavailable)
	assert.ErrorContains(t, err, "pg down")
	assert.ErrorContains(t, err, "redis down")
}

func TestControllerRunRefusesToStartWhenUnhealthy(t *testing.T) {
	controller, store, backend, dispatcher := newController(t)

	store.EXPECT().HealthCheck(gomock.Any()).Return(nil)
	backend.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))
	store.EXPECT().PendingEvents(gomock.Any(), gomock.Any()).Times(0)
	store.EXPECT().Close().Return(nil)
	backend.EXPECT().Close().Return(nil)

	err := controller.Run(context.Background())
	require.ErrorIs(t, err, convdispatch.ErrDependencyUnavailable)
	assert.Equal(t, convdispatch.StateIdle, dispatcher.State())
}

func TestControllerRunClosesDependenciesOnStop(t *testing.T) {
	controller, store, backend, _ := newController(t)

	store.EXPECT().HealthCheck(gomock.Any()).Return(nil)
	backend.EXPECT().Ping(gomock.Any()).Return(nil)
	store.EXPECT().PendingEvents(gomock.Any(), 10).
		DoAndReturn(func(context.Context, int) ([]convdispatch.Event, error) {
			controller.Stop()
			return nil, nil
		})
	store.EXPECT().Close().Return(errors.New("already closed"))
	backend.EXPECT().Close().Return(nil)

	require.NoError(t, controller.Run(context.Background()))

	controller.Close()
}

func TestControllerCloseRunsShutdownHooks(t *testing.T) {
	var (
		ran         []string
		hadDeadline bool
		mu          sync.Mutex
	)
	hook := func(name string, err error) convdispatch.ControllerOption {
		return convdispatch.WithShutdownHook(name, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			_, hadDeadline = ctx.Deadline()
			return err
		})
	}
	controller, store, backend, _ := newController(t,
		convdispatch.WithCloseTimeout(time.Second),
		hook("metrics", nil),
		hook("tracing", errors.New("flush failed")),
	)
	store.EXPECT().Close().Return(nil)
	backend.EXPECT().Close().Return(nil)

	controller.Close()
	controller.Close()

	assert.ElementsMatch(t, []string{"metrics", "tracing"}, ran)
	assert.True(t, hadDeadline)
}

func TestControllerCloseTimesOut(t *testing.T) {
	controller, store, backend, _ := newController(t, convdispatch.WithCloseTimeout(10*time.Millisecond))

	release := make(chan struct{})
	store.EXPECT().Close().DoAndReturn(func() error {
		<-release
		return nil
	})
	backend.EXPECT().Close().Return(nil)

	start := time.Now()
	controller.Close()
	assert.Less(t, time.Since(start), time.Second)
	close(release)
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockEventStore(ctrl)
	backend := mocks.NewMockBackend(ctrl)

	_, err := convdispatch.NewController(nil, backend, nil)
	require.ErrorIs(t, err, convdispatch.ErrStoreRequired)
	_, err = convdispatch.NewController(store, nil, nil)
	require.ErrorIs(t, err, convdispatch.ErrBackendRequired)
	_, err = convdispatch.NewController(store, backend, nil)
	require.Error(t, err)
}
