package engine

import "errors"

// BoardSize is the fixed width and height of the grid.
const BoardSize = 3

var (
	ErrOutOfBounds  = errors.New("cell is out of bounds")
	ErrCellOccupied = errors.New("cell already occupied")
	ErrBoardFrozen  = errors.New("board is frozen")
	ErrInvalidMark  = errors.New("invalid mark")
)

// Mark is the content of a single cell
type Mark string

const (
	Empty Mark = ""
	MarkX Mark = "X"
	MarkO Mark = "O"
)

// Board is the 3x3 grid indexed as [row][column]
type Board [BoardSize][BoardSize]Mark

// Move places a mark on a cell
type Move struct {
	Row    int  `json:"row"`
	Column int  `json:"column"`
	Mark   Mark `json:"mark"`
}

// winLines lists every three-in-a-row as (row, column) triples.
var winLines = [8][3][2]int{
	{{0, 0}, {0, 1}, {0, 2}}, // top row
	{{1, 0}, {1, 1}, {1, 2}}, // middle row
	{{2, 0}, {2, 1}, {2, 2}}, // bottom row
	{{0, 0}, {1, 0}, {2, 0}}, // left column
	{{0, 1}, {1, 1}, {2, 1}}, // middle column
	{{0, 2}, {1, 2}, {2, 2}}, // right column
	{{0, 0}, {1, 1}, {2, 2}}, // diagonal
	{{0, 2}, {1, 1}, {2, 0}}, // anti-diagonal
}

// InBounds reports whether (row, column) addresses a cell on the board
func InBounds(row, column int) bool {
	return row >= 0 && row < BoardSize && column >= 0 && column < BoardSize
}

// Validate checks that the move targets an empty in-bounds cell of a playable board
func (b *Board) Validate(m Move) error {
	if m.Mark != MarkX && m.Mark != MarkO {
		return ErrInvalidMark
	}
	if !InBounds(m.Row, m.Column) {
		return ErrOutOfBounds
	}
	if b.Terminal() {
		return ErrBoardFrozen
	}
	if b[m.Row][m.Column] != Empty {
		return ErrCellOccupied
	}
	return nil
}

// Place applies a validated move
func (b *Board) Place(m Move) error {
	if err := b.Validate(m); err != nil {
		return err
	}
	b[m.Row][m.Column] = m.Mark
	return nil
}

// Winner returns the mark holding a complete line, if any
func (b *Board) Winner() (Mark, bool) {
	for _, line := range winLines {
		a := b[line[0][0]][line[0][1]]
		if a == Empty {
			continue
		}
		if a == b[line[1][0]][line[1][1]] && a == b[line[2][0]][line[2][1]] {
			return a, true
		}
	}
	return Empty, false
}

// Full reports whether every cell holds a mark
func (b *Board) Full() bool {
	return b.Count(Empty) == 0
}

// Terminal reports whether a winning line exists or the board is full
func (b *Board) Terminal() bool {
	if _, ok := b.Winner(); ok {
		return true
	}
	return b.Full()
}

// Count returns how many cells hold the given mark
func (b *Board) Count(m Mark) int {
	n := 0
	for _, row := range b {
		for _, cell := range row {
			if cell == m {
				n++
			}
		}
	}
	return n
}

// Marks returns the total number of placed marks
func (b *Board) Marks() int {
	return BoardSize*BoardSize - b.Count(Empty)
}

// Snapshot renders the board as strings, empty cells as ""
func (b *Board) Snapshot() [BoardSize][BoardSize]string {
	var out [BoardSize][BoardSize]string
	for r, row := range b {
		for c, cell := range row {
			out[r][c] = string(cell)
		}
	}
	return out
}
