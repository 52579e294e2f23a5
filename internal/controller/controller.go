// Package controller owns the transfer server lifecycle: it acquires the
// background privilege, indexes the shared directory, supervises the engine
// goroutine and releases everything again on stop or unexpected exit.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dexft/dexft/internal/config"
	"github.com/dexft/dexft/internal/engine"
	"github.com/dexft/dexft/internal/eventbus"
	"github.com/dexft/dexft/internal/foreground"
	"github.com/dexft/dexft/internal/mediaindex"
)

const defaultStopGrace = 3 * time.Second

// Synchronizer indexes the shared directory before the engine starts.
type Synchronizer interface {
	Sync(ctx context.Context, dir string) mediaindex.Report
}

// PermissionChecker verifies start preconditions.
type PermissionChecker interface {
	Check(ctx context.Context) error
}

// Options configures a Controller. Engine and Host are required.
type Options struct {
	Engine       engine.Engine
	Host         foreground.Host
	Notification foreground.Request
	Synchronizer Synchronizer
	ScanDir      string
	Permissions  PermissionChecker
	Bus          *eventbus.Bus

	// MinRunDuration treats faster engine exits as bind failures. Zero disables it.
	MinRunDuration time.Duration
	StopGrace      time.Duration
}

type engineTask struct {
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	started  time.Time
	stopping bool
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State     State         `json:"state"`
	Since     time.Time     `json:"since"`
	LastError string        `json:"last_error,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Grants    int           `json:"grants"`
}

// Controller is the single owner of the lifecycle state.
type Controller struct {
	opts Options

	// opMu serializes requests and exit handling; mu guards the fields
	// below for cheap reads while an operation is in flight.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	since   time.Time
	lastErr error
	grant   *foreground.Grant
	task    *engineTask
}

// New creates a controller in the Stopped state.
func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("controller: engine required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("controller: foreground host required")
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.Notification.ChannelID == "" {
		opts.Notification = foreground.Request{
			ChannelID: config.DefaultChannelID,
			Title:     config.DefaultNotificationTitle,
			Text:      config.DefaultNotificationText,
		}
	}
	return &Controller{
		opts:  opts,
		state: Stopped,
		since: time.Now().UTC(),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the reason for the latest failure or unexpected stop.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns state, timing and the latest error together.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{State: c.state, Since: c.since}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if c.task != nil && c.state == Running {
		snap.Uptime = time.Since(c.task.started)
	}
	snap.Grants = c.opts.Host.Active()
	return snap
}

// RequestStart brings the server up. It is a no-op while Starting or
// Running and fails with ErrBusy while Stopping. It does not wait for the
// engine: it returns once the engine goroutine is spawned.
func (c *Controller) RequestStart(ctx context.Context) (State, error) {
	if c.State() == Stopping {
		return Stopping, ErrBusy
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch st := c.State(); st {
	case Starting, Running:
		return st, nil
	case Stopping:
		return st, ErrBusy
	}

	if err := c.transition(ctx, Starting, "start requested", true); err != nil {
		return c.State(), err
	}
	c.setLastError(nil)

	if c.opts.Permissions != nil {
		if err := c.opts.Permissions.Check(ctx); err != nil {
			return c.fail(ctx, &PermissionDeniedError{Err: err})
		}
	}

	grant, err := c.opts.Host.Acquire(ctx, c.opts.Notification)
	if err != nil {
		return c.fail(ctx, err)
	}
	c.mu.Lock()
	c.grant = grant
	c.mu.Unlock()

	if c.opts.Synchronizer != nil && c.opts.ScanDir != "" {
		c.opts.Synchronizer.Sync(ctx, c.opts.ScanDir)
	}

	if err := ctx.Err(); err != nil {
		c.transition(ctx, Stopping, "start cancelled", true)
		c.releaseGrant()
		c.transition(ctx, Stopped, "start cancelled", true)
		return Stopped, fmt.Errorf("controller: start: %w", err)
	}

	c.spawn()
	if err := c.transition(ctx, Running, "engine started", true); err != nil {
		return c.State(), err
	}
	return Running, nil
}

// RequestStop tears the server down. It is a no-op when Stopped or
// FailedToStart. Cancellation is cooperative first; engines that implement
// engine.Killer are killed after StopGrace.
func (c *Controller) RequestStop(ctx context.Context) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	st := c.State()
	if !st.Active() {
		return st, nil
	}

	if err := c.transition(ctx, Stopping, "stop requested", true); err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	task := c.task
	c.task = nil
	if task != nil {
		task.stopping = true
	}
	c.mu.Unlock()

	if task != nil {
		c.teardown(ctx, task)
	}
	c.releaseGrant()

	if err := c.transition(ctx, Stopped, "stop requested", true); err != nil {
		return c.State(), err
	}
	return Stopped, nil
}

// Start satisfies runtime.Service. The server only starts on request.
func (c *Controller) Start(context.Context) error { return nil }

// Shutdown satisfies runtime.Service by stopping the server.
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.RequestStop(ctx)
	return err
}

func (c *Controller) spawn() {
	taskCtx, cancel := context.WithCancel(context.Background())
	task := &engineTask{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	c.mu.Lock()
	c.task = task
	c.mu.Unlock()

	go func() {
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("controller: engine panic: %v", r)
			}
		}()
		task.err = c.opts.Engine.Run(taskCtx)
	}()
	go c.monitor(task)
}

// monitor handles engine exits that were not requested by RequestStop.
func (c *Controller) monitor(task *engineTask) {
	<-task.done

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.task == task && !task.stopping
	if current {
		c.task = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}
	task.cancel()

	uptime := time.Since(task.started)
	ctx := context.Background()
	if isBindFailure(task.err, uptime, c.opts.MinRunDuration) {
		bindErr := &EngineBindError{Uptime: uptime, Err: task.err}
		log.Printf("[Controller] %v", bindErr)
		c.setLastError(bindErr)
		c.releaseGrant()
		c.transition(ctx, FailedToStart, bindErr.Error(), false)
		return
	}

	reason := ErrUnexpectedTermination
	if task.err != nil {
		reason = fmt.Errorf("%w: %v", ErrUnexpectedTermination, task.err)
	}
	log.Printf("[Controller] %v after %s", reason, uptime.Round(time.Millisecond))
	c.setLastError(reason)
	c.releaseGrant()
	c.transition(ctx, Stopped, reason.Error(), false)
}

func (c *Controller) teardown(ctx context.Context, task *engineTask) {
	task.cancel()
	if c.wait(ctx, task) {
		return
	}

	killer, ok := c.opts.Engine.(engine.Killer)
	if !ok {
		log.Printf("[Controller] engine ignored cancellation for %s, abandoning it", c.opts.StopGrace)
		return
	}
	log.Printf("[Controller] engine ignored cancellation for %s, killing it", c.opts.StopGrace)
	if err := killer.Kill(); err != nil {
		log.Printf("[Controller] kill engine: %v", err)
	}
	if !c.wait(context.Background(), task) {
		log.Printf("[Controller] engine still running after kill, abandoning it")
	}
}

func (c *Controller) wait(ctx context.Context, task *engineTask) bool {
	timer := time.NewTimer(c.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-task.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) fail(ctx context.Context, err error) (State, error) {
	log.Printf("[Controller] start failed: %v", err)
	c.setLastError(err)
	c.releaseGrant()
	if terr := c.transition(ctx, FailedToStart, err.Error(), true); terr != nil {
		return c.State(), terr
	}
	return FailedToStart, err
}

func (c *Controller) releaseGrant() {
	c.mu.Lock()
	grant := c.grant
	c.grant = nil
	c.mu.Unlock()
	if grant == nil {
		return
	}
	if err := c.opts.Host.Release(grant); err != nil {
		log.Printf("[Controller] release grant: %v", err)
	}
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// transition applies from -> to if allowed and publishes it. Callers hold opMu.
func (c *Controller) transition(ctx context.Context, to State, reason string, expected bool) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		log.Printf("[Controller] %v", err)
		return err
	}
	c.state = to
	c.since = time.Now().UTC()
	c.mu.Unlock()

	log.Printf("[Controller] %s -> %s (%s)", from, to, reason)
	eventbus.Publish(context.WithoutCancel(ctx), c.opts.Bus, eventbus.Daemon.Lifecycle, eventbus.SourceController, eventbus.LifecycleEvent{
		From:     string(from),
		To:       string(to),
		Reason:   reason,
		Expected: expected,
	})
	return nil
}

// IsPermissionDenied reports whether err is a *PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var target *PermissionDeniedError
	return errors.As(err, &target)
}

// IsEngineBindError reports whether err is an *EngineBindError.
func IsEngineBindError(err error) bool {
	var target *EngineBindError
	return errors.As(err, &target)
}
