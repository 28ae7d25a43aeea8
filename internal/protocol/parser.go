package protocol

import (
	"bytes"
	"errors"
	"strings"
)

// Phase is the parser's current position in the restartable header
// scan described by the data model: scanning the command name,
// scanning its positional arguments, scanning the CRLF terminator, or
// complete (a Command is ready to Build).
type Phase int

const (
	PhaseName Phase = iota
	PhaseArgs
	PhaseCRLF
	PhaseComplete
)

// ErrProtocol is the error kind Parse returns for a malformed or
// unrecognized command header, distinct from "more input needed"
// (which is reported as (false, nil), not an error).
type ErrProtocol struct {
	Msg string
}

func (e *ErrProtocol) Error() string { return e.Msg }

func errProtocol(msg string) error { return &ErrProtocol{Msg: msg} }

// IsProtocolError reports whether err came from a rejected header, as
// opposed to an I/O error further up the stack.
func IsProtocolError(err error) bool {
	var pe *ErrProtocol
	return errors.As(err, &pe)
}

// Parser is the byte-incremental command-header recognizer. A single
// instance is reused for the lifetime of a connection: Parse/Build/Reset
// cycle once per command header.
//
// Every unsuccessful call re-scans the caller's buffer from byte zero,
// which is what makes Parse idempotent and stateless across
// insufficient-input returns: the connection never shifts bytes out of
// its read buffer until Parse reports a complete header, so the same
// prefix is simply presented again, grown by whatever the next read
// added. Parse keeps no reference to the buffer once it returns.
type Parser struct {
	phase   Phase
	pending Command
}

// NewParser returns a parser in its initial phase.
func NewParser() *Parser {
	return &Parser{phase: PhaseName}
}

// Parse examines buf looking for a complete "<name> <args...>\r\n"
// header. It returns the number of bytes consumed from the front of
// buf and whether a header was recognized. On insufficient input it
// returns (0, false, nil) and the caller must wait for more bytes. On
// a malformed or unrecognized command it returns a *ErrProtocol, with
// consumed covering the rejected line through its CRLF.
func (p *Parser) Parse(buf []byte) (consumed int, complete bool, err error) {
	idx := bytes.Index(buf, crlf)
	if idx < 0 {
		p.phase = PhaseArgs
		return 0, false, nil
	}
	p.phase = PhaseCRLF

	line := buf[:idx]
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return idx + 2, false, errProtocol("empty command line")
	}

	name := strings.ToLower(string(fields[0]))
	cmd, buildErr := newCommand(name, fields[1:])
	if buildErr != nil {
		return idx + 2, false, buildErr
	}

	p.pending = cmd
	p.phase = PhaseComplete
	return idx + 2, true, nil
}

// Build returns the Command recognized by the most recent successful
// Parse call, along with the declared body length in bytes (0 for
// commands with no body). Legal only immediately after Parse returned
// true; Reset (or a fresh Parser) is required before parsing the next
// header.
func (p *Parser) Build() (cmd Command, bodyBytes int, err error) {
	if p.phase != PhaseComplete {
		return Command{}, 0, errors.New("protocol: Build called without a completed Parse")
	}
	cmd = p.pending
	if cmd.Kind.HasBody() {
		bodyBytes = cmd.Bytes
	}
	return cmd, bodyBytes, nil
}

// Reset returns the parser to its initial phase. It does not touch any
// buffer: the caller owns buffer positions.
func (p *Parser) Reset() {
	p.phase = PhaseName
	p.pending = Command{}
}

// Phase reports the parser's current phase, mostly useful for tests
// and diagnostics.
func (p *Parser) Phase() Phase { return p.phase }

var crlf = []byte("\r\n")

func newCommand(name string, args [][]byte) (Command, error) {
	switch name {
	case "set", "add", "replace", "append", "prepend":
		return newStorageCommand(kindForName(name), args)
	case "get":
		return newGetCommand(args)
	case "delete":
		return newDeleteCommand(args)
	default:
		return Command{}, errProtocol("unknown command '" + name + "'")
	}
}

func kindForName(name string) Kind {
	switch name {
	case "set":
		return Set
	case "add":
		return Add
	case "replace":
		return Replace
	case "append":
		return Append
	case "prepend":
		return Prepend
	}
	panic("protocol: kindForName called with non-storage name " + name)
}

func newStorageCommand(kind Kind, args [][]byte) (Command, error) {
	if len(args) != 4 && len(args) != 5 {
		return Command{}, errProtocol("wrong number of arguments for '" + kind.String() + "'")
	}

	key := string(args[0])
	flags, err := parseUint32(string(args[1]))
	if err != nil {
		return Command{}, errProtocol("invalid flags argument")
	}
	exptime, err := parseInt64(string(args[2]))
	if err != nil {
		return Command{}, errProtocol("invalid exptime argument")
	}
	nbytes, err := parseInt(string(args[3]))
	if err != nil || nbytes < 0 {
		return Command{}, errProtocol("invalid byte count")
	}

	noreply := false
	if len(args) == 5 {
		if string(args[4]) != "noreply" {
			return Command{}, errProtocol("unexpected trailing token")
		}
		noreply = true
	}

	return Command{
		Kind:    kind,
		Keys:    []string{key},
		Flags:   flags,
		Exptime: exptime,
		Bytes:   nbytes,
		NoReply: noreply,
	}, nil
}

func newGetCommand(args [][]byte) (Command, error) {
	if len(args) < 1 {
		return Command{}, errProtocol("wrong number of arguments for 'get'")
	}
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	return Command{Kind: Get, Keys: keys}, nil
}

func newDeleteCommand(args [][]byte) (Command, error) {
	if len(args) != 1 {
		return Command{}, errProtocol("wrong number of arguments for 'delete'")
	}
	return Command{Kind: Delete, Keys: []string{string(args[0])}}, nil
}
