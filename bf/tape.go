package bf

// Tape is a cursor-addressed array of 8-bit cells which grows to the right on
// demand. It never shrinks and cannot be addressed left of cell 0. The zero
// value is a tape holding a single zero cell.
type Tape struct {
	cells  []uint8
	cursor int
	// value mirrors cells[cursor]
	value uint8
}

func NewTape() *Tape {
	return &Tape{cells: []uint8{0}}
}

// grow appends zero cells until the cursor is a valid index.
func (t *Tape) grow() {
	for t.cursor >= len(t.cells) {
		t.cells = append(t.cells, 0)
	}
}

func (t *Tape) sync() {
	t.value = t.cells[t.cursor]
}

// Advance moves the cursor one cell right, appending a zero cell when it
// walks off the end.
func (t *Tape) Advance() {
	t.grow()
	t.cursor++
	t.grow()
	t.sync()
}

// Retreat moves the cursor one cell left. It fails with ErrTapeUnderflow at
// cell 0.
func (t *Tape) Retreat() error {
	if t.cursor == 0 {
		return ErrTapeUnderflow
	}
	t.cursor--
	t.sync()
	return nil
}

// Increment adds one to the current cell, wrapping 255 to 0.
func (t *Tape) Increment() {
	t.grow()
	t.cells[t.cursor]++
	t.sync()
}

// Decrement subtracts one from the current cell, wrapping 0 to 255.
func (t *Tape) Decrement() {
	t.grow()
	t.cells[t.cursor]--
	t.sync()
}

func (t *Tape) Set(v uint8) {
	t.grow()
	t.cells[t.cursor] = v
	t.sync()
}

func (t *Tape) Value() uint8 {
	return t.value
}

func (t *Tape) IsEmpty() bool {
	return t.value == 0
}

func (t *Tape) Cursor() int {
	return t.cursor
}

func (t *Tape) Len() int {
	return max(len(t.cells), 1)
}

// At returns the cell at index i. Cells past the end read as zero.
func (t *Tape) At(i int) uint8 {
	if i < 0 || i >= len(t.cells) {
		return 0
	}
	return t.cells[i]
}

// Reset starts the tape over from a single zero cell.
func (t *Tape) Reset() {
	t.cells = append(t.cells[:0], 0)
	t.cursor = 0
	t.sync()
}
