package utils

// ProgressSink receives transfer events. Events for one id come from a single
// goroutine; events for different ids arrive concurrently.
type ProgressSink interface {
	TransferPhase(id int, d Descriptor, phase Phase)
	// TransferStarted is sent once streaming begins; total is -1 when unknown.
	TransferStarted(id int, total, offset int64)
	TransferProgress(id int, delta int64)
	TransferDone(id int, o Outcome)
	// BatchProgress advances by one per terminal transfer; done is monotonic.
	BatchProgress(done, total int)
}

// NopSink ignores every event. Embed it to implement only part of ProgressSink.
type NopSink struct{}

func (NopSink) TransferPhase(int, Descriptor, Phase) {}
func (NopSink) TransferStarted(int, int64, int64)    {}
func (NopSink) TransferProgress(int, int64)          {}
func (NopSink) TransferDone(int, Outcome)            {}
func (NopSink) BatchProgress(int, int)               {}

// MultiSink fans every event out to each sink in order.
type MultiSink []ProgressSink

func (m MultiSink) TransferPhase(id int, d Descriptor, phase Phase) {
	for _, s := range m {
		s.TransferPhase(id, d, phase)
	}
}

func (m MultiSink) TransferStarted(id int, total, offset int64) {
	for _, s := range m {
		s.TransferStarted(id, total, offset)
	}
}

func (m MultiSink) TransferProgress(id int, delta int64) {
	for _, s := range m {
		s.TransferProgress(id, delta)
	}
}

func (m MultiSink) TransferDone(id int, o Outcome) {
	for _, s := range m {
		s.TransferDone(id, o)
	}
}

func (m MultiSink) BatchProgress(done, total int) {
	for _, s := range m {
		s.BatchProgress(done, total)
	}
}

// Reporter binds a sink to one transfer id so an executor only deals with its own events.
type Reporter struct {
	id   int
	sink ProgressSink
}

func NewReporter(id int, sink ProgressSink) Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	return Reporter{id: id, sink: sink}
}

func (r Reporter) ID() int { return r.id }

func (r Reporter) Phase(d Descriptor, phase Phase) { r.sink.TransferPhase(r.id, d, phase) }
func (r Reporter) Started(total, offset int64)     { r.sink.TransferStarted(r.id, total, offset) }
func (r Reporter) Progress(delta int64)            { r.sink.TransferProgress(r.id, delta) }
