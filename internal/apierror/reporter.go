package apierror

import (
	"github.com/go-logr/logr"
)

// Observer receives every counted error, typically a metrics sink.
type Observer interface {
	ObserveError(kind string)
}

// Counter is the run-wide error tally. Reconciliation is sequential so it is not locked.
type Counter struct {
	total    int
	byKind   map[Kind]int
	observer Observer
}

func NewCounter(observer Observer) *Counter {
	return &Counter{
		byKind:   make(map[Kind]int),
		observer: observer,
	}
}

func (c *Counter) Add(kind Kind) {
	c.total++
	c.byKind[kind]++
	if c.observer != nil {
		c.observer.ObserveError(kind.String())
	}
}

func (c *Counter) Total() int {
	return c.total
}

// ByKind returns a copy of the per kind tally.
func (c *Counter) ByKind() map[Kind]int {
	out := make(map[Kind]int, len(c.byKind))
	for k, v := range c.byKind {
		out[k] = v
	}
	return out
}

// Reporter applies the propagation policy to per resource failures: every error is logged and
// counted, and only debug mode or an always fatal kind hands the error back to the caller.
type Reporter struct {
	logger  logr.Logger
	counter *Counter
	debug   bool
}

func NewReporter(logger logr.Logger, counter *Counter, debug bool) *Reporter {
	return &Reporter{
		logger:  logger,
		counter: counter,
		debug:   debug,
	}
}

// Report classifies err, logs it with keysAndValues and counts it.
// It returns nil when reconciliation should carry on with the next resource.
func (r *Reporter) Report(err error, msg string, keysAndValues ...interface{}) error {
	if err == nil {
		return nil
	}
	classified := Classify(err)
	r.counter.Add(classified.Kind)

	kv := append([]interface{}{"kind", classified.Kind.String()}, keysAndValues...)
	if classified.Code != "" {
		kv = append(kv, "code", classified.Code)
	}
	r.logger.Error(classified, msg, kv...)

	if r.debug || classified.Kind.AlwaysFatal() {
		return classified
	}
	return nil
}

// Warn logs a condition that is worth attention but is not counted.
func (r *Reporter) Warn(msg string, keysAndValues ...interface{}) {
	r.logger.Info("WARNING: "+msg, keysAndValues...)
}

func (r *Reporter) Counter() *Counter {
	return r.counter
}

func (r *Reporter) Debug() bool {
	return r.debug
}
