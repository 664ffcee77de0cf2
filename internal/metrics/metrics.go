package metrics

import "time"

type Recorder interface {
	// MessageHandled counts an inbound message by op name and exit code.
	MessageHandled(op string, exitCode int)
	Transition(from, to string)
	ObserveDelivery(source string, d time.Duration)
}

type NoopRecorder struct{}

func (NoopRecorder) MessageHandled(string, int)            {}
func (NoopRecorder) Transition(string, string)             {}
func (NoopRecorder) ObserveDelivery(string, time.Duration) {}
