package bench

import "time"

// Status is the state of one activation.
type Status string

const (
	// StatusQueued indicates the activation is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusRunning indicates the activation is dispatching.
	StatusRunning Status = "running"
	// StatusDone indicates the activation returned.
	StatusDone Status = "done"
	// StatusError indicates the activation failed.
	StatusError Status = "error"
)

// Event reports progress of one activation.
type Event struct {
	Activation  int
	Status      Status
	Err         error
	Elapsed     time.Duration
	Transferred bool
}

// ProgressSink consumes progress events. OnEvent may be called from several
// goroutines at once.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}
