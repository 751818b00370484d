package registration

import (
	"context"
	"sync"
	"time"

	"prayerreminder/internal/model"
	"prayerreminder/internal/storage"

	"github.com/pkg/errors"
)

// subscriptionDelayFactor stretches the backoff when the only problem is a
// push subscription that is still being provisioned.
const subscriptionDelayFactor = 3

// BackoffDelay returns base doubled for every attempt after the first, tripled
// when waiting on the push subscription.
func BackoffDelay(base time.Duration, attempt int, subscriptionPending bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if subscriptionPending {
		d *= subscriptionDelayFactor
	}
	return d
}

type State string

const (
	StateInitializing     State = "initializing"
	StateRegistering      State = "registering"
	StateWaitingRetry     State = "waiting_retry"
	StateSucceeded        State = "succeeded"
	StatePermanentFailure State = "permanent_failure"
	StateDeferred         State = "deferred"
	StateCancelled        State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StatePermanentFailure, StateDeferred, StateCancelled:
		return true
	}
	return false
}

type Status struct {
	State     State         `json:"state"`
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"next_delay,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Task is a running registration with retries.
type Task struct {
	cancel  context.CancelFunc
	updates chan Status
	done    chan struct{}

	mu     sync.Mutex
	status Status
	result Result
	window model.NotificationWindow
}

func newTask(cancel context.CancelFunc, buffer int, window model.NotificationWindow) *Task {
	return &Task{
		cancel:  cancel,
		updates: make(chan Status, buffer),
		done:    make(chan struct{}),
		window:  window,
	}
}

// Updates streams status changes. Updates are dropped when the reader falls
// behind; the channel is closed when the task ends.
func (t *Task) Updates() <-chan Status {
	return t.updates
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Window returns the window the task is registering. It follows the latest
// RegisterWithRetry call made while the task runs.
func (t *Task) Window() model.NotificationWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window
}

func (t *Task) setWindow(w model.NotificationWindow) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.window == w {
		return false
	}
	t.window = w
	return true
}

// Cancel stops the task after its current step. The window is kept as a
// pending registration.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, nil
}

func (t *Task) publish(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	select {
	case t.updates <- s:
	default:
	}
}

func (t *Task) finish(s Status, r Result) {
	t.mu.Lock()
	t.result = r
	t.mu.Unlock()
	t.publish(s)
	close(t.updates)
	close(t.done)
}

// CurrentTask returns the most recent registration task, if any.
func (c *Client) CurrentTask() *Task {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	return c.task
}

// RegisterWithRetry starts registering window in the background. While a task
// is still running it is returned instead of starting a second one, and window
// replaces the one it registers: the next attempt, a success of an older
// window, and the pending entry written on deferral all use the latest window.
// The task outlives ctx cancellation but keeps its values.
func (c *Client) RegisterWithRetry(ctx context.Context, window model.NotificationWindow) *Task {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.task != nil {
		select {
		case <-c.task.done:
		default:
			if c.task.setWindow(window) {
				c.logger.Infof("RegisterWithRetry: Registration already running, window updated to %s %s-%s",
					window.Timezone, window.StartTime, window.EndTime)
			} else {
				c.logger.Debugf("RegisterWithRetry: Registration already running")
			}
			return c.task
		}
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := newTask(cancel, 2*c.cfg.MaxAttempts+4, window)
	c.task = t
	go c.runRegistration(taskCtx, t)
	return t
}

// Shutdown cancels the running task, if any, and waits until its window has
// been persisted as the pending registration.
func (c *Client) Shutdown(ctx context.Context) error {
	t := c.CurrentTask()
	if t == nil {
		return nil
	}
	t.Cancel()
	if _, err := t.Wait(ctx); err != nil {
		return errors.Wrap(err, "Shutdown: registration task did not stop")
	}
	return nil
}

// finishIfCurrent ends t unless its window changed after window was sent.
func (c *Client) finishIfCurrent(t *Task, window model.NotificationWindow, s Status, r Result) bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if t.Window() != window {
		return false
	}
	t.finish(s, r)
	return true
}

func (c *Client) runRegistration(ctx context.Context, t *Task) {
	defer t.cancel()

	t.publish(Status{State: StateInitializing})
	if _, err := c.EnsureIdentity(ctx); err != nil {
		c.logger.Errorf("runRegistration: %v", err)
		res := Result{Message: err.Error(), Error: err.Error()}
		c.deferRegistration(ctx, t, res, 0, StateDeferred)
		return
	}
	c.WaitForSubscription(ctx)

	var last Result
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			c.deferRegistration(ctx, t, last, attempt-1, StateCancelled)
			return
		}
		bypass := attempt == c.cfg.MaxAttempts
		t.publish(Status{State: StateRegistering, Attempt: attempt, LastError: last.Error})

		window := t.Window()
		res, err := c.RegisterDevice(ctx, window, bypass)
		if err != nil {
			res = Result{Message: err.Error(), Error: err.Error()}
		}
		last = res
		if res.Success {
			if c.finishIfCurrent(t, window, Status{State: StateSucceeded, Attempt: attempt}, res) {
				return
			}
			c.logger.Infof("runRegistration: Window changed during attempt %d, registering the new window", attempt)
			last, attempt = Result{}, 0
			continue
		}
		if IsPermanentError(res) {
			if c.finishIfCurrent(t, window, Status{State: StatePermanentFailure, Attempt: attempt, LastError: res.Error}, res) {
				c.logger.Warnf("runRegistration: Permanent failure, not retrying, error: %s", res.Error)
				return
			}
			c.logger.Infof("runRegistration: Window changed after a permanent failure, registering the new window")
			last, attempt = Result{}, 0
			continue
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := BackoffDelay(c.cfg.BaseRetryDelay, attempt, res.Error == ErrCodeNoValidSubscription)
		c.logger.Infof("runRegistration: Attempt %d failed, retrying in %v, error: %s", attempt, delay, res.Error)
		t.publish(Status{State: StateWaitingRetry, Attempt: attempt, NextDelay: delay, LastError: res.Error})
		if err := c.sleep(ctx, delay); err != nil {
			c.deferRegistration(ctx, t, last, attempt, StateCancelled)
			return
		}
	}
	c.deferRegistration(ctx, t, last, c.cfg.MaxAttempts, StateDeferred)
}

// deferRegistration persists the task's latest window as the pending
// registration and ends the task. taskMu is held throughout so a window handed
// to RegisterWithRetry meanwhile cannot be lost.
func (c *Client) deferRegistration(ctx context.Context, t *Task, last Result, attempts int, state State) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	pending := model.PendingRegistration{
		Window:    t.Window(),
		Timestamp: c.now().UTC(),
		Reason:    pendingReason(last),
		Attempts:  attempts,
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := storage.SetJSON(storeCtx, c.store, storage.KeyPendingRegistration, pending); err != nil {
		c.logger.Errorf("runRegistration: Error persisting pending registration, err: %v", err)
	}
	c.Metrics.Deferred()
	c.logger.Warnf("runRegistration: Registration deferred after %d attempts, reason: %s", attempts, pending.Reason)

	res := Result{
		Message: "registration deferred, it will be retried on next launch",
		Error:   last.Error,
	}
	t.finish(Status{State: state, Attempt: attempts, LastError: last.Error}, res)
}

// RetryPending starts a registration for the persisted pending window. The
// bool result is false when nothing is pending.
func (c *Client) RetryPending(ctx context.Context) (*Task, bool, error) {
	pending, ok, err := c.PendingRegistration(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	c.logger.Infof("RetryPending: Retrying registration deferred at %s, reason: %s",
		pending.Timestamp.Format(time.RFC3339), pending.Reason)
	return c.RegisterWithRetry(ctx, pending.Window), true, nil
}
