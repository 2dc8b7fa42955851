package bf

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/containerd/log"
)

// how many instructions run between two looks at the context
const contextCheckInterval = 1 << 12

type Interpreter struct {
	Program  *Program
	Input    InputSource
	Output   io.Writer
	Encoding Encoding

	tape  *Tape
	pc    int
	steps uint64
	buf   []byte
}

// NewInterpreter prepares program for execution. A nil input reads zeros and
// a nil output discards everything.
func NewInterpreter(program *Program, input InputSource, output io.Writer) *Interpreter {
	if input == nil {
		input = ZeroInput{}
	}
	if output == nil {
		output = io.Discard
	}
	return &Interpreter{
		Program:  program,
		Input:    input,
		Output:   output,
		Encoding: Latin1,
		tape:     NewTape(),
		buf:      make([]byte, 0, utf8.UTFMax),
	}
}

func (i *Interpreter) Reset() {
	i.pc = 0
	i.steps = 0
	i.tape.Reset()
}

func (i *Interpreter) Tape() *Tape {
	return i.tape
}

// At returns the value of tape cell j.
func (i *Interpreter) At(j int) uint8 {
	return i.tape.At(j)
}

// Steps returns the number of instructions executed so far.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

func (i *Interpreter) Halted() bool {
	return i.pc >= i.Program.Len()
}

func (i *Interpreter) fail(err error) error {
	return &RuntimeError{
		PC:      i.pc,
		Command: i.Program.Commands[i.pc],
		Cursor:  i.tape.Cursor(),
		Err:     err,
	}
}

// step executes the instruction under the program counter and advances it.
func (i *Interpreter) step(ctx context.Context) error {
	switch i.Program.Commands[i.pc] {
	case Right:
		i.tape.Advance()
	case Left:
		if err := i.tape.Retreat(); err != nil {
			return i.fail(err)
		}
	case Increment:
		i.tape.Increment()
	case Decrement:
		i.tape.Decrement()
	case Output:
		var err error
		if i.buf, err = i.Encoding.Append(i.buf[:0], i.tape.Value()); err != nil {
			return i.fail(err)
		}
		if err := writeFlush(i.Output, i.buf); err != nil {
			return i.fail(err)
		}
	case Input:
		b, err := i.readByte(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return i.fail(fmt.Errorf("%w: %w", ErrInput, err))
		}
		i.tape.Set(b)
	case LoopStart:
		if i.tape.IsEmpty() {
			i.pc = i.Program.jumps[i.pc]
		}
	case LoopEnd:
		if !i.tape.IsEmpty() {
			i.pc = i.Program.jumps[i.pc]
		}
	}
	// a jump lands on the matching bracket, so the increment steps past it
	i.pc++
	i.steps++
	return nil
}

func (i *Interpreter) readByte(ctx context.Context) (byte, error) {
	if in, ok := i.Input.(ContextInput); ok {
		return in.ReadByteContext(ctx)
	}
	return i.Input.ReadByte()
}

// RunContext runs the program until the program counter runs off the end, an
// instruction fails or ctx is done. There is no step limit.
//
// A ',' waiting on a ContextInput returns as soon as ctx is done. Any other
// input source, and writes to Output, are only interrupted by the I/O itself
// returning, so a write blocked on a full pipe delays cancellation until the
// pipe drains or is closed.
func (i *Interpreter) RunContext(ctx context.Context) error {
	for !i.Halted() {
		if i.steps%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := i.step(ctx); err != nil {
			log.G(ctx).WithError(err).Debug("program aborted")
			return err
		}
	}
	log.G(ctx).WithField("steps", i.steps).WithField("cells", i.tape.Len()).Debug("program halted")
	return nil
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}
