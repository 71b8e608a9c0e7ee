package redis

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// State is the reachability of the Redis server as last observed by the client
type State int32

const (
	StateUnknown State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// stateTracker follows Unknown -> Connected <-> Disconnected from dial and
// command outcomes. It is informational only: callers must still treat every
// command as fallible.
type stateTracker struct {
	state    atomic.Int32
	logger   *slog.Logger
	listener func(State)
}

func (t *stateTracker) current() State {
	return State(t.state.Load())
}

func (t *stateTracker) set(next State, cause error) {
	prev := State(t.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if next == StateDisconnected {
		t.logger.Warn("rank index disconnected", "previous", prev.String(), "error", cause)
	} else {
		t.logger.Info("rank index connected", "previous", prev.String())
	}
	if t.listener != nil {
		t.listener(next)
	}
}

// observe classifies a command result. Replies from the server, including
// redis.Nil and error replies, prove the server is reachable.
func (t *stateTracker) observe(err error) {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		t.set(StateConnected, nil)
	case errors.Is(err, context.Canceled):
		// caller gave up; says nothing about the server
	case isServerReply(err):
		t.set(StateConnected, nil)
	default:
		t.set(StateDisconnected, err)
	}
}

func isServerReply(err error) bool {
	var replyErr redis.Error
	return errors.As(err, &replyErr)
}

// stateHook feeds dial and command results into the tracker
type stateHook struct {
	tracker *stateTracker
}

func (h stateHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.tracker.set(StateDisconnected, err)
		} else {
			h.tracker.set(StateConnected, nil)
		}
		return conn, err
	}
}

func (h stateHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.tracker.observe(err)
		return err
	}
}

func (h stateHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.tracker.observe(err)
		return err
	}
}
