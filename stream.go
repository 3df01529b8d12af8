package deepsearch

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// --- Run event stream ---

// EventType identifies the kind of streaming event.
type EventType string

const (
	// EventDelta carries an incremental model output chunk.
	EventDelta EventType = "delta"
	// EventStep carries the summary of a completed step.
	EventStep EventType = "step"
	// EventFinal carries the run result. Emitted exactly once, last.
	EventFinal EventType = "final"
)

// Event is a typed item on a run's stream. Consumers see, per step,
// zero or more deltas followed by one step summary, and a single final
// event before the channel closes.
type Event struct {
	Type   EventType    `json:"type"`
	Delta  *Delta       `json:"delta,omitempty"`
	Step   *StepSummary `json:"step,omitempty"`
	Result *RunResult   `json:"result,omitempty"`
}

// --- Stream aggregator ---

// streamBuffer sizes the producer/consumer delta channel; large enough
// that a bursty provider rarely blocks on the loop.
const streamBuffer = 64

// StreamAggregator consumes a delta stream, accumulating content and a
// token estimate while re-yielding every delta unchanged to an optional
// sink. Token counts are whitespace-split estimates unless the model
// reports authoritative usage.
type StreamAggregator struct {
	sink chan<- Delta

	content      strings.Builder
	estTokens    int
	lastNonSpace bool
	usage        Usage
	haveUsage    bool
}

// NewStreamAggregator creates an aggregator teeing to sink. A nil sink
// aggregates without republishing.
func NewStreamAggregator(sink chan<- Delta) *StreamAggregator {
	return &StreamAggregator{sink: sink}
}

// Consume drains src until it closes or a Finished delta arrives,
// whichever comes first. ctx cancellation stops early; the producer is
// expected to unwind on the same ctx.
func (a *StreamAggregator) Consume(ctx context.Context, src <-chan Delta) {
	for {
		select {
		case d, ok := <-src:
			if !ok {
				return
			}
			a.ingest(d)
			a.forward(ctx, d)
			if d.Finished || d.Err != "" {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *StreamAggregator) ingest(d Delta) {
	if d.Content != "" {
		a.addContent(d.Content)
	}
	if d.Usage != nil {
		a.usage = *d.Usage
		a.haveUsage = true
	}
}

func (a *StreamAggregator) forward(ctx context.Context, d Delta) {
	if a.sink == nil {
		return
	}
	select {
	case a.sink <- d:
	case <-ctx.Done():
	}
}

// FailWith publishes one terminal delta carrying the error marker, per
// the aggregator contract: downstream learns the stream died without
// needing a second channel.
func (a *StreamAggregator) FailWith(ctx context.Context, err error) {
	if a.sink == nil || err == nil {
		return
	}
	a.forward(ctx, Delta{Err: err.Error(), Finished: true})
}

// addContent appends a chunk and advances the whitespace-split token
// estimate. A word split across two chunks counts once: when the
// previous chunk ended mid-word and this one starts mid-word, the first
// field is a continuation.
func (a *StreamAggregator) addContent(s string) {
	a.content.WriteString(s)
	fields := len(strings.Fields(s))
	if fields > 0 && a.lastNonSpace {
		first, _ := utf8.DecodeRuneInString(s)
		if !unicode.IsSpace(first) {
			fields--
		}
	}
	a.estTokens += fields
	last, _ := utf8.DecodeLastRuneInString(s)
	a.lastNonSpace = !unicode.IsSpace(last)
}

// Content returns the accumulated text.
func (a *StreamAggregator) Content() string { return a.content.String() }

// EstTokens returns the whitespace-split token estimate.
func (a *StreamAggregator) EstTokens() int { return a.estTokens }

// Usage returns authoritative usage when the model reported it, else an
// output-token estimate.
func (a *StreamAggregator) Usage() Usage {
	if a.haveUsage {
		return a.usage
	}
	return Usage{OutputTokens: a.estTokens}
}

// streamResult carries the producer goroutine's outcome.
type streamResult struct {
	resp ChatResponse
	err  error
}

// streamCall runs one streaming model call: the model produces deltas
// on a dedicated goroutine while the calling goroutine consumes them
// through agg. Returns the final response; on producer error the
// aggregator has already published the error-marker delta.
func streamCall(ctx context.Context, model Model, req ChatRequest, agg *StreamAggregator) (ChatResponse, error) {
	inner := make(chan Delta, streamBuffer)
	resCh := make(chan streamResult, 1)
	go func() {
		resp, err := model.GenerateStream(ctx, req, inner)
		close(inner)
		resCh <- streamResult{resp: resp, err: err}
	}()

	agg.Consume(ctx, inner)
	res := <-resCh
	if res.err != nil {
		agg.FailWith(ctx, res.err)
		return ChatResponse{}, res.err
	}
	if res.resp.Usage.Total() > 0 {
		agg.usage = res.resp.Usage
		agg.haveUsage = true
	}
	return res.resp, nil
}
