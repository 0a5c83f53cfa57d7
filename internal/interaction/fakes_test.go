package interaction

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"marketbot/internal/command"
)

type recordingResponder struct {
	mu      sync.Mutex
	dialogs []DialogRequest
	acks    []Ack
	shown   chan DialogRequest
	failOn  string
}

func newRecordingResponder() *recordingResponder {
	return &recordingResponder{shown: make(chan DialogRequest, 4)}
}

func (r *recordingResponder) ShowDialog(_ context.Context, req DialogRequest) error {
	if r.failOn == "dialog" {
		return errors.New("gateway unavailable")
	}
	r.mu.Lock()
	r.dialogs = append(r.dialogs, req)
	r.mu.Unlock()
	r.shown <- req
	return nil
}

func (r *recordingResponder) Acknowledge(_ context.Context, ack Ack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
	return nil
}

func (r *recordingResponder) Acks() []Ack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Ack(nil), r.acks...)
}

func (r *recordingResponder) Dialogs() []DialogRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DialogRequest(nil), r.dialogs...)
}

type fakeExecutor struct {
	mu       sync.Mutex
	commands []command.Command
	handle   func(ctx context.Context, cmd command.Command) (command.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.handle != nil {
		return f.handle(ctx, cmd)
	}
	return command.Result{}, nil
}

func (f *fakeExecutor) Commands() []command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Command(nil), f.commands...)
}

// Dispatched returns the commands that were not authorize-only pre-flights.
func (f *fakeExecutor) Dispatched() []command.Command {
	var out []command.Command
	for _, c := range f.Commands() {
		if !c.Authorizing() {
			out = append(out, c)
		}
	}
	return out
}

type recordingFaults struct {
	mu   sync.Mutex
	errs []error
}

func (f *recordingFaults) Report(_ context.Context, err error, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *recordingFaults) Errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
