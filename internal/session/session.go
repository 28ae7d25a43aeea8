// Package session implements the transport-agnostic processing
// fixpoint described in spec.md §4.3: drive the protocol parser,
// accumulate command bodies, execute finished commands against
// storage, and frame responses. It has no notion of file descriptors,
// epoll, or goroutines — it is fed bytes and drained of response
// frames by whichever transport owns it.
package session

import (
	"bytes"

	"gomemcached/internal/protocol"
	"gomemcached/internal/storage"
)

// Session is owned by exactly one connection (non-blocking or
// coroutine) for that connection's lifetime. It is not safe for
// concurrent use; a connection drives its Session from a single
// goroutine (coroutine backend) or a single reactor worker (ST/MT
// backends), matching the "at most one inflight Execute" invariant
// from spec.md §5.
type Session struct {
	store storage.Storage

	parser  *protocol.Parser
	pending protocol.Command
	active  bool // a command header has been parsed and not yet completed

	body          bytes.Buffer
	bodyRemaining int // spec.md §4.3's body_remaining: includes trailing "\r\n"

	fatal bool // set once a protocol error has been reported

	swallow bool // discard input through the next "\r\n" (after a bad data chunk)
}

// New returns a Session that executes commands against store.
func New(store storage.Storage) *Session {
	return &Session{
		store:  store,
		parser: protocol.NewParser(),
	}
}

// Feed runs the §4.3 processing fixpoint over buf: as many complete
// steps (header parse, body accumulation, command execution) as buf's
// contents allow. It returns the number of bytes consumed from the
// front of buf and the response frames produced, in order, to be
// enqueued for writing. Feed never blocks and never retains buf past
// its return.
//
// fatal reports a protocol error (spec.md §7: "Enqueue ERROR; mark
// dead after drain"): the caller must stop feeding this Session
// further bytes and transition the connection to Draining once the
// returned frames have been enqueued.
func (s *Session) Feed(buf []byte) (consumed int, frames []string, fatal bool) {
	for {
		n, frame, progressed := s.step(buf[consumed:])
		consumed += n
		if frame != "" {
			frames = append(frames, frame)
		}
		if s.fatal {
			return consumed, frames, true
		}
		if !progressed {
			break
		}
	}
	return consumed, frames, false
}

// step performs at most one iteration of the §4.3 fixpoint: a header
// parse, a body append, a command execution, or discarding the rest of
// the line that followed a bad data chunk. It reports how many bytes
// of buf it consumed and whether it made progress (false means buf
// holds insufficient bytes for the next step and the caller must wait
// for more).
func (s *Session) step(buf []byte) (consumed int, frame string, progressed bool) {
	if s.swallow {
		idx := bytes.Index(buf, crlf)
		if idx < 0 {
			return 0, "", false
		}
		s.swallow = false
		return idx + 2, "", true
	}

	if !s.active {
		parsed, complete, err := s.parser.Parse(buf)
		if err != nil {
			s.parser.Reset()
			s.active = false
			s.fatal = protocol.IsProtocolError(err)
			return parsed, errorFrame(err), true
		}
		if !complete {
			return 0, "", false
		}

		cmd, bodyBytes, err := s.parser.Build()
		if err != nil {
			// Build can only fail on programmer error (Build called
			// without a completed Parse), which can't happen here.
			panic(err)
		}
		s.pending = cmd
		s.active = true
		if bodyBytes > 0 {
			s.bodyRemaining = bodyBytes + 2
		}
		return parsed, "", true
	}

	if s.bodyRemaining > 0 {
		take := s.bodyRemaining
		if take > len(buf) {
			take = len(buf)
		}
		if take == 0 {
			return 0, "", false
		}
		s.body.Write(buf[:take])
		s.bodyRemaining -= take
		return take, "", true
	}

	frame = s.execute()
	return 0, frame, true
}

// execute runs the in-progress command to completion, resetting
// session state for the next command header.
func (s *Session) execute() string {
	raw := s.body.Bytes()
	var body []byte
	var frame string

	if s.pending.Kind.HasBody() {
		if !bytes.HasSuffix(raw, crlf) {
			frame = protocol.ClientError("bad data chunk")
			s.reset()
			s.swallow = true
			return appendCRLF(frame)
		}
		body = raw[:len(raw)-2]
	}

	result := s.pending.Execute(s.store, body)
	noReply := s.pending.NoReply
	s.reset()

	if noReply {
		return ""
	}
	return appendCRLF(result)
}

func (s *Session) reset() {
	s.parser.Reset()
	s.pending = protocol.Command{}
	s.active = false
	s.body.Reset()
	s.bodyRemaining = 0
}

var crlf = []byte("\r\n")

func appendCRLF(frame string) string { return frame + "\r\n" }

func errorFrame(err error) string {
	if protocol.IsProtocolError(err) {
		return "ERROR\r\n"
	}
	return "SERVER_ERROR " + err.Error() + "\r\n"
}
