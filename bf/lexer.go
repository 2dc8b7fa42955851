package bf

import "strings"

// Command is a single instruction of the language. Its value is the symbol
// it is written with.
type Command rune

const (
	Right     Command = '>'
	Left      Command = '<'
	Increment Command = '+'
	Decrement Command = '-'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

func parse(c rune) Command {
	switch c {
	case '>':
		return Right
	case '<':
		return Left
	case '+':
		return Increment
	case '-':
		return Decrement
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	if parse(rune(c)) == Ignore {
		return " "
	}
	return string(rune(c))
}

// Program is a parsed instruction sequence together with its jump table.
type Program struct {
	Commands []Command
	// jumps[i] is the position of the bracket matching Commands[i], or -1
	// when Commands[i] is not a bracket.
	jumps []int
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Commands)
}

// Partner returns the position of the bracket matched with the one at pc.
func (p *Program) Partner(pc int) (int, bool) {
	if pc < 0 || pc >= len(p.jumps) || p.jumps[pc] < 0 {
		return 0, false
	}
	return p.jumps[pc], true
}

func (p *Program) String() string {
	var sb strings.Builder
	sb.Grow(len(p.Commands))
	for _, c := range p.Commands {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// Token is an instruction and where it was written. Offset is the byte offset
// into the source, Line and Column are 1-based.
type Token struct {
	Command Command
	Offset  int
	Line    int
	Column  int
}

type Lexer struct {
	chars string
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		chars: input,
	}
}

// Lex returns the instructions of the source, skipping everything else.
// Brackets are not checked.
func (l *Lexer) Lex() []Token {
	tokens := []Token{}
	line, col := 1, 0
	for offset, c := range l.chars {
		col++
		if c == '\n' {
			line++
			col = 0
			continue
		}
		if cmd := parse(c); cmd != Ignore {
			tokens = append(tokens, Token{Command: cmd, Offset: offset, Line: line, Column: col})
		}
	}
	return tokens
}

func (t Token) syntaxError() *SyntaxError {
	return &SyntaxError{Bracket: t.Command, Offset: t.Offset, Line: t.Line, Column: t.Column}
}

// Parse lexes the source and resolves every loop to its matching bracket. An
// unmatched bracket on either side is a *SyntaxError.
func (l *Lexer) Parse() (*Program, error) {
	tokens := l.Lex()
	p := &Program{
		Commands: make([]Command, len(tokens)),
		jumps:    make([]int, len(tokens)),
	}
	// positions of the loops still open
	var stack []int

	for pos, tok := range tokens {
		p.Commands[pos] = tok.Command
		p.jumps[pos] = -1

		switch tok.Command {
		case LoopStart:
			stack = append(stack, pos)
		case LoopEnd:
			if len(stack) == 0 {
				return nil, tok.syntaxError()
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			p.jumps[open] = pos
			p.jumps[pos] = open
		}
	}

	if len(stack) > 0 {
		// report the innermost loop left open
		return nil, tokens[stack[len(stack)-1]].syntaxError()
	}
	return p, nil
}

func Lex(input string) []Token {
	return NewLexer(input).Lex()
}

func Parse(input string) (*Program, error) {
	return NewLexer(input).Parse()
}
