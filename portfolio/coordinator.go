package portfolio

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/crillab/satfolio/channel"
	"github.com/crillab/satfolio/metrics"
)

// Protocol tags.
const (
	// TagVerdict tags the single result message a contributor sends to the collector.
	TagVerdict channel.Tag = 1
	// TagFinalize tags the message the collector sends to every contributor once the result was reported.
	TagFinalize channel.Tag = 2
)

// Default protocol timeouts.
const (
	DefaultReceiveTimeout  = 30 * time.Second
	DefaultFinalizeTimeout = 10 * time.Second
)

// Options tune the aggregation protocol.
type Options struct {
	// ReceiveTimeout bounds each receive of the collector, and each send of a contributor.
	ReceiveTimeout time.Duration
	// FinalizeTimeout bounds each release sent by the collector.
	// A contributor waits to be released for as long as its context lasts.
	FinalizeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return o
}

// A Coordinator runs the aggregation protocol for one member of a portfolio group.
// The last rank of the group is the collector; every other rank is a contributor.
type Coordinator struct {
	t    channel.Transport
	opts Options
	log  *logrus.Entry
}

// New returns the coordinator of the member owning t.
func New(t channel.Transport, opts Options, log *logrus.Entry) *Coordinator {
	return &Coordinator{t: t, opts: opts.withDefaults(), log: log}
}

// Collector returns the rank of the collector.
func (c *Coordinator) Collector() int { return c.t.Size() - 1 }

// IsCollector is true iff this member is the collector.
func (c *Coordinator) IsCollector() bool { return c.t.Rank() == c.Collector() }

// Run computes the local result with solve, then plays the role of this member.
// A contributor sends its result and returns a nil verdict.
// The collector receives every other result and returns the aggregate verdict,
// along with the result retained for each worker, indexed by worker id.
func (c *Coordinator) Run(ctx context.Context, solve func(context.Context) WorkerResult) (*AggregateVerdict, []WorkerResult, error) {
	own := solve(ctx)
	own.Worker = c.t.Rank()
	if !c.IsCollector() {
		return nil, nil, c.Contribute(ctx, own)
	}
	agg, results := c.Collect(ctx, own)
	return &agg, results, nil
}

// Contribute sends res to the collector. It is called exactly once per contributor.
// The send is not cancelled with ctx: an interrupted worker must still report its unknown verdict.
func (c *Coordinator) Contribute(ctx context.Context, res WorkerResult) error {
	if c.IsCollector() {
		return errors.New("the collector does not contribute")
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReceiveTimeout)
	defer cancel()
	if err := c.t.Send(sctx, c.Collector(), TagVerdict, EncodeResult(res)); err != nil {
		return errors.Wrapf(err, "worker %d could not send its result", c.t.Rank())
	}
	c.log.Debugf("sent %s to collector %d", res.Verdict, c.Collector())
	return nil
}

// Collect receives the result of every contributor, in increasing id order,
// and resolves the aggregate verdict along with own, the result of the collector.
// A contributor whose result cannot be received in time, or cannot be decoded, counts as Unknown.
func (c *Coordinator) Collect(ctx context.Context, own WorkerResult) (AggregateVerdict, []WorkerResult) {
	results := make([]WorkerResult, c.t.Size())
	for id := 0; id < c.Collector(); id++ {
		results[id] = c.receive(ctx, id)
	}
	results[c.Collector()] = own
	agg := Resolve(results)
	metrics.Aggregate(agg.Verdict.String())
	c.log.Debugf("aggregate verdict %s (model from worker %d)", agg.Verdict, agg.Worker)
	return agg, results
}

func (c *Coordinator) receive(ctx context.Context, id int) WorkerResult {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReceiveTimeout)
	defer cancel()
	payload, err := c.t.Recv(rctx, id, TagVerdict)
	switch {
	case errors.Is(err, channel.ErrTimeout):
		c.log.Warnf("no result from worker %d after %s, counting it as unknown", id, c.opts.ReceiveTimeout)
		metrics.SlotDegraded(metrics.ReasonTimeout)
		return UnknownResult(id, err)
	case errors.Is(err, channel.ErrChecksum):
		perr := &PayloadError{From: id, Reason: err.Error()}
		c.log.Errorf("%v, counting it as unknown", perr)
		metrics.SlotDegraded(metrics.ReasonPayload)
		return UnknownResult(id, perr)
	case err != nil:
		c.log.Errorf("could not receive the result of worker %d: %v", id, err)
		metrics.SlotDegraded(metrics.ReasonClosed)
		return UnknownResult(id, err)
	}
	res, err := DecodeResult(id, payload)
	if err != nil {
		c.log.Errorf("%v, counting it as unknown", err)
		metrics.SlotDegraded(metrics.ReasonPayload)
		return UnknownResult(id, err)
	}
	c.log.Debugf("received %s from worker %d", res.Verdict, id)
	return res
}

// Finalize is the barrier ending a run. The collector calls it once the result was reported:
// it releases every contributor. A contributor waits until it is released, the collector
// goes away or ctx is done; the collector may still be searching or waiting for other results.
// Failures are not fatal: they only mean a peer already left.
func (c *Coordinator) Finalize(ctx context.Context) error {
	if !c.IsCollector() {
		_, err := c.t.Recv(ctx, c.Collector(), TagFinalize)
		return errors.Wrapf(err, "worker %d was not released by the collector", c.t.Rank())
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FinalizeTimeout)
	defer cancel()
	var first error
	for id := 0; id < c.Collector(); id++ {
		if err := c.t.Send(fctx, id, TagFinalize, nil); err != nil {
			c.log.Debugf("could not release worker %d: %v", id, err)
			if first == nil {
				first = errors.Wrapf(err, "could not release worker %d", id)
			}
		}
	}
	return first
}
