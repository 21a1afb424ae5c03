// Package queue implements the per-device serial command pipeline described
// in §4.5: a retrying, progress-reporting, optionally generator-driven
// sequence of command entries with timeout/failure semantics.
package queue

import (
	"sync"
	"time"

	"dsu/locator"
)

// MaxAttemptNum is the number of attempts (initial send + retries) before an
// entry is declared TIMED_OUT, §4.5.
const MaxAttemptNum = 3

// DefaultTimeout is the per-entry wait applied when an entry doesn't specify
// its own timeout.
const DefaultTimeout = 2 * time.Second

// Sender is implemented by the device a Queue belongs to.
type Sender interface {
	// Send transmits code/payload. code == nil means a raw (unframed)
	// ElUDP send; non-nil means a Locator-framed command.
	Send(code *locator.Cmd, payload []byte) error
}

// Generator produces a lazy sequence of payloads (the firmware generator is
// the motivating example) plus its own progress source, per §9's "sequence
// of payloads plus progress source" guidance.
type Generator interface {
	// Next returns the next payload, or ok=false when exhausted.
	Next() (payload []byte, ok bool)
	// Progress returns the generator's own [0,100] progress.
	Progress() int
}

// Outcome is the terminal result of a command entry or the whole queue.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFail
	OutcomeTimeout
	OutcomeShutdown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeFail:
		return "FAIL"
	case OutcomeTimeout:
		return "TIMEOUT"
	case OutcomeShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// CallbackArgs is passed to an entry callback describing how it resolved.
type CallbackArgs struct {
	Outcome Outcome
	// Pack is the response payload when classification treated it as data
	// (READ_SETTINGS-as-data, and the opaque-data command family).
	Pack []byte
	// HasResult is true when classification instead produced a
	// (Result, ErrCode) pair (the short-result command family, or a short
	// READ_SETTINGS reply).
	HasResult bool
	Result    locator.Result
	ErrCode   byte
}

// EntryCallback is invoked once an entry (or one element of a generator
// entry) reaches a terminal state.
type EntryCallback func(args CallbackArgs)

// QueueCallback is invoked once when the whole queue finishes or aborts.
type QueueCallback func(outcome Outcome)

// Entry is one command in the queue, §4.5.
type Entry struct {
	// Code is the LocatorCmd this entry sends, or nil for a raw ElUDP send.
	Code *locator.Cmd
	// Pack is the payload for a non-generator entry.
	Pack []byte
	// Gen, if set, makes this a generator entry: Pack is ignored and each
	// generated payload is sent and awaited in turn.
	Gen Generator
	// Timeout overrides the queue's default per-attempt timeout.
	Timeout time.Duration
	// Pause is how long to sleep after this entry succeeds, before the
	// next entry starts.
	Pause time.Duration
	// Callback is invoked for this entry's outcome(s).
	Callback EntryCallback
}

type response struct {
	code    *locator.Cmd
	payload []byte
}

// Queue is the per-device serial command pipeline.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	sender  Sender

	defaultTimeout time.Duration
	callback       QueueCallback

	running          bool
	currentIdx       int
	pendingHundred   bool
	finished         bool
	shutdownCh       chan struct{}
	responseCh       chan response
	wg               sync.WaitGroup
	logf             func(format string, args ...interface{})
}

// New creates an empty Queue bound to sender.
func New(sender Sender) *Queue {
	return &Queue{
		sender:         sender,
		defaultTimeout: DefaultTimeout,
		currentIdx:     -1,
		logf:           func(string, ...interface{}) {},
	}
}

// SetLogger installs a logging callback used for non-fatal diagnostics.
func (q *Queue) SetLogger(fn func(format string, args ...interface{})) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	q.logf = fn
}

// SetCallback installs the queue-level completion callback.
func (q *Queue) SetCallback(cb QueueCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callback = cb
}

// Append adds an entry to the queue. Per §4.5, appends are silently rejected
// while the queue is mid-run (progress ∈ (0,100), i.e. Run has been called
// and the queue hasn't yet finished).
func (q *Queue) Append(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	if e.Timeout <= 0 {
		e.Timeout = q.defaultTimeout
	}
	q.entries = append(q.entries, e)
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run starts the worker goroutine and returns immediately. Subsequent
// Append calls are rejected until the run completes.
func (q *Queue) Run() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.finished = false
	q.pendingHundred = false
	q.currentIdx = -1
	q.shutdownCh = make(chan struct{})
	q.responseCh = make(chan response, 8)
	entries := append([]*Entry(nil), q.entries...)
	q.mu.Unlock()

	q.wg.Add(1)
	go q.worker(entries)
}

// Stop requests a cooperative shutdown of the in-flight run.
func (q *Queue) Stop() {
	q.mu.Lock()
	ch := q.shutdownCh
	q.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Wait blocks until the current run's worker goroutine has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// HandleResponse delivers an inbound response to whichever entry is
// currently waiting. code is the Locator command the response answers, or
// nil for a raw ElUDP datagram. Never blocks: while a run exists the response
// is buffered for the waiting (or next) entry; if no run has started, or the
// buffer is full, the response is dropped, matching §5's
// requirement that observer callbacks must not block the emitting thread.
func (q *Queue) HandleResponse(code *locator.Cmd, payload []byte) {
	q.mu.Lock()
	ch := q.responseCh
	q.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- response{code: code, payload: payload}:
	default:
	}
}

// Progress implements §4.5's progress formula, including the "100 once,
// then latch to 0" observation semantics.
func (q *Queue) Progress() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pendingHundred {
		q.pendingHundred = false
		return 100
	}
	if !q.running && !q.finished {
		return 0
	}
	if q.finished {
		return 0
	}
	if q.currentIdx < 0 {
		return 1
	}
	return q.computeProgressLocked()
}

// PeekProgress reports the same value Progress would, but never consumes
// the "100 once, then latch to 0" observation flag. It exists for passive
// samplers (the telemetry package's per-device gauge, §4.10) that must not
// interfere with a caller's own Progress() observation sequence.
func (q *Queue) PeekProgress() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pendingHundred {
		return 100
	}
	if !q.running && !q.finished {
		return 0
	}
	if q.finished {
		return 0
	}
	if q.currentIdx < 0 {
		return 1
	}
	return q.computeProgressLocked()
}

func (q *Queue) computeProgressLocked() int {
	total := len(q.entries)
	if total == 0 {
		return 2
	}

	hasGen := false
	nonGenCount := 0
	genCount := 0
	for _, e := range q.entries {
		if e.Gen != nil {
			hasGen = true
			genCount++
		} else {
			nonGenCount++
		}
	}

	if !hasGen {
		pct := 100 * q.currentIdx / total
		if pct < 2 {
			pct = 2
		}
		return pct
	}

	genShare := float64(97-nonGenCount) / float64(genCount)
	if genShare < 0 {
		genShare = 0
	}

	sum := 0.0
	for i, e := range q.entries {
		switch {
		case i < q.currentIdx:
			if e.Gen != nil {
				sum += genShare
			} else {
				sum += 1
			}
		case i == q.currentIdx:
			if e.Gen != nil {
				sum += genShare * float64(e.Gen.Progress()) / 100
			}
			// a non-generator current entry contributes nothing extra
			// until it completes (it is counted at i < currentIdx then).
		}
	}

	pct := int(sum)
	if pct < 2 {
		pct = 2
	}
	if pct > 99 {
		pct = 99
	}
	return pct
}

type entryResult struct {
	outcome Outcome
}

func (q *Queue) worker(entries []*Entry) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for i, e := range entries {
		select {
		case <-q.shutdownCh:
			q.finish(OutcomeShutdown)
			return
		default:
		}

		q.mu.Lock()
		q.currentIdx = i
		q.mu.Unlock()

		res := q.runEntry(e)
		if res.outcome != OutcomeOK {
			q.finish(res.outcome)
			return
		}
		if e.Pause > 0 {
			select {
			case <-q.shutdownCh:
				q.finish(OutcomeShutdown)
				return
			case <-time.After(e.Pause):
			}
		}
	}
	q.finish(OutcomeOK)
}

func (q *Queue) runEntry(e *Entry) entryResult {
	if e.Gen == nil {
		return q.sendAndWait(e, e.Pack)
	}
	for {
		payload, ok := e.Gen.Next()
		if !ok {
			return entryResult{outcome: OutcomeOK}
		}
		res := q.sendAndWait(e, payload)
		if res.outcome != OutcomeOK {
			return res
		}
	}
}

func (q *Queue) sendAndWait(e *Entry, payload []byte) entryResult {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}

	attempt := 1
	for {
		if err := q.sender.Send(e.Code, payload); err != nil {
			q.logf("queue: send failed: %v", err)
		}

		deadline := time.Now().Add(timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			select {
			case <-q.shutdownCh:
				return entryResult{outcome: OutcomeShutdown}
			case resp := <-q.responseCh:
				outcome, args, matched := classify(e.Code, resp.code, resp.payload)
				if !matched {
					continue
				}
				if e.Callback != nil {
					e.Callback(args)
				}
				return entryResult{outcome: outcome}
			case <-time.After(remaining):
			}
		}

		if attempt >= MaxAttemptNum {
			if e.Callback != nil {
				e.Callback(CallbackArgs{Outcome: OutcomeTimeout})
			}
			return entryResult{outcome: OutcomeTimeout}
		}
		attempt++
	}
}

func (q *Queue) finish(outcome Outcome) {
	q.mu.Lock()
	q.finished = true
	if outcome == OutcomeOK {
		q.pendingHundred = true
	}
	cb := q.callback
	q.mu.Unlock()

	if cb != nil {
		cb(outcome)
	}
}

func codeEqual(a, b *locator.Cmd) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// isOpaqueDataCmd reports the LocatorCmd values whose response payload is opaque
// data (always RESPONSE_OK), per §4.5.
func isOpaqueDataCmd(c locator.Cmd) bool {
	switch c {
	case locator.CmdReadMemProp, locator.CmdReadMemDump, locator.CmdGetMap,
		locator.CmdGetLog, locator.CmdSetUser, locator.CmdGetUser:
		return true
	default:
		return false
	}
}

// isShortResultCmd reports the LocatorCmd values whose response is always a
// short [result] / [result, errCode] payload, per §4.5.
func isShortResultCmd(c locator.Cmd) bool {
	switch c {
	case locator.CmdSetPrimary, locator.CmdExeElCmd, locator.CmdClearLog:
		return true
	default:
		return false
	}
}

// classify implements §4.5's response classification table. entryCode is
// the current entry's code (nil for ElUDP-raw); respCode is the responding
// frame's command (nil for a raw ElUDP datagram). matched is false when the
// response cmd doesn't match the current entry and should be ignored per
// §4.5's "any mismatch...is ignored" rule.
func classify(entryCode, respCode *locator.Cmd, payload []byte) (Outcome, CallbackArgs, bool) {
	if !codeEqual(entryCode, respCode) {
		return OutcomeOK, CallbackArgs{}, false
	}

	if entryCode == nil {
		// Raw ElUDP datagram: any receipt is a successful acknowledgement.
		return OutcomeOK, CallbackArgs{Outcome: OutcomeOK, Pack: payload}, true
	}

	switch {
	case isShortResultCmd(*entryCode):
		result, errCode, hasErrCode, ok := locator.DecodeShortResult(payload)
		if !ok {
			return OutcomeFail, CallbackArgs{Outcome: OutcomeFail, HasResult: true, Result: locator.ResultError}, true
		}
		if result == locator.ResultOK {
			args := CallbackArgs{Outcome: OutcomeOK, HasResult: true, Result: result}
			if hasErrCode {
				args.ErrCode = errCode
			} else {
				args.ErrCode = locator.DefaultErrCode
			}
			return OutcomeOK, args, true
		}
		args := CallbackArgs{Outcome: OutcomeFail, HasResult: true, Result: result}
		if hasErrCode {
			args.ErrCode = errCode
		} else {
			args.ErrCode = locator.DefaultErrCode
		}
		return OutcomeFail, args, true

	case *entryCode == locator.CmdReadSettings:
		if len(payload) <= 2 && len(payload) > 0 && locator.IsKnownResult(payload[0]) {
			result, errCode, hasErrCode, _ := locator.DecodeShortResult(payload)
			if result == locator.ResultOK {
				args := CallbackArgs{Outcome: OutcomeOK, HasResult: true, Result: result}
				if hasErrCode {
					args.ErrCode = errCode
				} else {
					args.ErrCode = locator.DefaultErrCode
				}
				return OutcomeOK, args, true
			}
			args := CallbackArgs{Outcome: OutcomeFail, HasResult: true, Result: result}
			if hasErrCode {
				args.ErrCode = errCode
			} else {
				args.ErrCode = locator.DefaultErrCode
			}
			return OutcomeFail, args, true
		}
		return OutcomeOK, CallbackArgs{Outcome: OutcomeOK, Pack: payload}, true

	case isOpaqueDataCmd(*entryCode):
		return OutcomeOK, CallbackArgs{Outcome: OutcomeOK, Pack: payload}, true

	default:
		// Unclassified command family: treat the payload as opaque data,
		// the same fallback the teacher applies for unrecognized frames.
		return OutcomeOK, CallbackArgs{Outcome: OutcomeOK, Pack: payload}, true
	}
}
