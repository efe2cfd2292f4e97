// Package stream implements the server-side streaming transport: it
// consumes a model token stream, coalesces and normalizes the deltas,
// frames server-sent events, injects heartbeats, persists the final
// processed response, and emits a terminal citation event.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/llm"
)

// Config tunes the transport's batching and liveness behavior.
type Config struct {
	// CoalesceMaxTokens bounds how many upstream tokens are merged into
	// one text event.
	CoalesceMaxTokens int

	// CoalesceMaxWait bounds how long a partial batch waits for more
	// tokens before it is flushed.
	CoalesceMaxWait time.Duration

	// HeartbeatInterval is how often a comment-only line is sent when no
	// other event has been emitted.
	HeartbeatInterval time.Duration

	// MaxRetries bounds re-open attempts after the upstream returns a
	// *ProtocolError, and only applies before the first text event is
	// sent. Other upstream errors (network failures, HTTP status errors)
	// are not retried.
	MaxRetries int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		CoalesceMaxTokens: 10,
		CoalesceMaxWait:   100 * time.Millisecond,
		HeartbeatInterval: 20 * time.Second,
		MaxRetries:        1,
	}
}

// ProtocolError reports a malformed upstream frame. It is recoverable
// only before the first text event has reached the client.
type ProtocolError struct {
	Cause error
}

func (e *ProtocolError) Error() string { return "stream protocol error: " + e.Cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.Cause }

// Opener (re)establishes the upstream model token stream. It is called
// once, and again on each retry of a transient pre-text failure.
type Opener func(ctx context.Context) (<-chan llm.StreamChunk, error)

// Transport drives one chat stream from upstream tokens to framed SSE
// events.
type Transport struct {
	cfg Config
}

// NewTransport builds a Transport with the given configuration.
func NewTransport(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

// Run consumes upstream tokens via open, emits coalesced text events to
// sink, and on completion renders the accumulated raw text, persists it
// via persist, and emits the terminal citation event. Caller cancellation
// of ctx stops the upstream stream and returns ctx.Err().
func (t *Transport) Run(
	ctx context.Context,
	sink *Sink,
	open Opener,
	citations []docmodel.Citation,
	render func(raw string) string,
	persist func(rendered string),
) error {
	attempts := 0
	firstTextSent := false

	var buffer string
	flushedLen := 0

	heartbeat := time.NewTicker(t.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		chunks, err := open(ctx)
		if err != nil {
			if !firstTextSent && attempts < t.cfg.MaxRetries && isRetryable(err) {
				attempts++
				continue
			}
			return t.fail(sink, err)
		}

		var batch []string
		batchTimer := time.NewTimer(t.cfg.CoalesceMaxWait)
		stopTimer(batchTimer)

		streamErr := error(nil)
		done := false

	consume:
		for !done {
			select {
			case <-ctx.Done():
				stopTimer(batchTimer)
				return ctx.Err()

			case chunk, ok := <-chunks:
				if !ok {
					done = true
					break
				}
				if chunk.Error != nil {
					streamErr = chunk.Error
					done = true
					break
				}
				if chunk.Token != "" {
					if len(batch) == 0 {
						resetTimer(batchTimer, t.cfg.CoalesceMaxWait)
					}
					batch = append(batch, chunk.Token)
					heartbeat.Reset(t.cfg.HeartbeatInterval)
				}
				if len(batch) >= t.cfg.CoalesceMaxTokens {
					var ferr error
					buffer, flushedLen, ferr = t.flushBatch(sink, buffer, flushedLen, batch, false)
					if ferr != nil {
						stopTimer(batchTimer)
						return ferr
					}
					firstTextSent = firstTextSent || flushedLen > 0
					batch = nil
					stopTimer(batchTimer)
				}
				if chunk.Done {
					done = true
				}

			case <-batchTimer.C:
				if len(batch) > 0 {
					var ferr error
					buffer, flushedLen, ferr = t.flushBatch(sink, buffer, flushedLen, batch, false)
					if ferr != nil {
						return ferr
					}
					firstTextSent = firstTextSent || flushedLen > 0
					batch = nil
				}

			case <-heartbeat.C:
				if err := sink.WriteHeartbeat(); err != nil {
					stopTimer(batchTimer)
					return err
				}
			}
			if done {
				break consume
			}
		}
		stopTimer(batchTimer)

		if streamErr != nil {
			if !firstTextSent && attempts < t.cfg.MaxRetries && isRetryable(streamErr) {
				attempts++
				continue
			}
			return t.fail(sink, streamErr)
		}

		// Final flush: emit any remaining batch plus any held-back
		// trailing whitespace, since no further joins can occur.
		if len(batch) > 0 {
			var ferr error
			buffer, flushedLen, ferr = t.flushBatch(sink, buffer, flushedLen, batch, true)
			if ferr != nil {
				return ferr
			}
		} else if flushedLen < len(buffer) {
			if err := sink.WriteEvent(EventText, TextPayload{Text: buffer[flushedLen:]}); err != nil {
				return err
			}
			flushedLen = len(buffer)
		}

		rendered := render(buffer)
		persist(rendered)

		if err := sink.WriteEvent(EventCitation, citations); err != nil {
			return err
		}
		return sink.WriteDone()
	}
}

// flushBatch folds pending tokens into the running buffer and emits the
// committed portion as a text event. When final is false, a trailing run
// of whitespace is held back in case a later token strips it via
// punctuation or hyphen join normalization.
func (t *Transport) flushBatch(sink *Sink, buffer string, flushedLen int, batch []string, final bool) (newBuffer string, newFlushedLen int, err error) {
	for _, tok := range batch {
		buffer = appendDelta(buffer, tok)
	}

	end := len(buffer)
	if !final {
		for end > flushedLen && isHoldableSpace(buffer[end-1]) {
			end--
		}
	}
	if end <= flushedLen {
		return buffer, flushedLen, nil
	}

	if err := sink.WriteEvent(EventText, TextPayload{Text: buffer[flushedLen:end]}); err != nil {
		return buffer, flushedLen, err
	}
	return buffer, end, nil
}

func isHoldableSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func (t *Transport) fail(sink *Sink, err error) error {
	_ = sink.WriteEvent(EventError, ErrorPayload{Message: err.Error()})
	return err
}

func isRetryable(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func stopTimer(tm *time.Timer) {
	if !tm.Stop() {
		select {
		case <-tm.C:
		default:
		}
	}
}

func resetTimer(tm *time.Timer, d time.Duration) {
	stopTimer(tm)
	tm.Reset(d)
}
