// Package service provides the start/stop lifecycle shared by the long-running
// components of a node.
package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/notesync/notesync/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a service that can be started and stopped once.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates or Stop is called.
	Start(context.Context) error

	// Stop stops the service. It is safe to call from any goroutine.
	Stop() error

	// IsRunning reports whether the service has started and not stopped.
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the hooks that the BaseService wraps.
type Implementation interface {
	Service

	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called once when the service is stopped, either explicitly or because
	// its start context was canceled.
	OnStop()
}

// BaseService implements the bookkeeping of Service. Embed it and call
// NewBaseService from the constructor:
//
//	type Registry struct {
//		service.BaseService
//		...
//	}
//
//	func NewRegistry(logger log.Logger) *Registry {
//		r := &Registry{}
//		r.BaseService = *service.NewBaseService(logger, "Registry", r)
//		return r
//	}
//
// OnStart and OnStop are called at most once each. If OnStart returns an
// error the service is not marked as started and Start may be retried.
type BaseService struct {
	Logger  log.Logger
	name    string
	started atomic.Bool
	stopped atomic.Bool
	quit    chan struct{}

	impl Implementation
}

// NewBaseService creates a new BaseService. A nil logger is replaced with a
// no-op logger.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &BaseService{
		Logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the service and calls its OnStart method. When ctx is
// canceled the service stops itself.
func (bs *BaseService) Start(ctx context.Context) error {
	if !bs.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if bs.stopped.Load() {
		bs.Logger.Error("not starting service; already stopped", "service", bs.name)
		bs.started.Store(false)
		return ErrAlreadyStopped
	}

	bs.Logger.Info("starting service", "service", bs.name, "impl", bs.impl.String())

	if err := bs.impl.OnStart(ctx); err != nil {
		bs.started.Store(false)
		return err
	}

	go func() {
		select {
		case <-bs.quit:
		case <-ctx.Done():
			if err := bs.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				bs.Logger.Error("failed to stop service", "service", bs.name, "err", err)
			}
		}
	}()

	return nil
}

// Stop calls OnStop and closes the quit channel.
func (bs *BaseService) Stop() error {
	if !bs.started.Load() {
		return ErrNotStarted
	}
	if !bs.stopped.CompareAndSwap(false, true) {
		return ErrAlreadyStopped
	}

	bs.Logger.Info("stopping service", "service", bs.name, "impl", bs.impl.String())
	bs.impl.OnStop()
	close(bs.quit)

	return nil
}

// IsRunning implements Service.
func (bs *BaseService) IsRunning() bool {
	return bs.started.Load() && !bs.stopped.Load()
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// Quit returns a channel that is closed once the service stops.
func (bs *BaseService) Quit() <-chan struct{} { return bs.quit }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
