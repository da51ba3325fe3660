// Package gcode compiles a pixel grid into a raster engraving program for a
// GRBL laser.
//
// Rows are scanned top to bottom in a serpentine: even rows left to right,
// odd rows right to left. Every burn segment is approached and left with an
// overscan margin so the head is at speed while the laser is on.
package gcode

import (
	"fmt"
	"io"
	"iter"

	"tomgalvin.uk/lasergrave/internal/bitmap"
)

// Program is a lazily generated G-code program. It can be ranged over any
// number of times and yields the same lines each time.
type Program iter.Seq[string]

// WriteTo writes every line of the program, comments included, each followed
// by a newline.
func (p Program) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for line := range p {
		n, err := io.WriteString(w, line+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Collect materialises the program.
func Collect(p Program) []string {
	var lines []string
	for line := range p {
		lines = append(lines, line)
	}
	return lines
}

// CountInstructions counts the lines that would be transmitted.
func CountInstructions(p Program) int {
	n := 0
	for line := range p {
		if !IsComment(line) {
			n++
		}
	}
	return n
}

const (
	beginMarker = "--- BEGIN ---"
	endMarker   = "--- END ---"
)

// Compile validates the grid and parameters and returns the program. Nothing
// is generated until the program is ranged over.
func Compile(g *bitmap.Grid, p Params) (Program, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: no grid", ErrInvalidGrid)
	}
	if g.Width() <= 0 || g.Height() <= 0 {
		return nil, fmt.Errorf("%w: grid is %dx%d", ErrInvalidGrid, g.Width(), g.Height())
	}
	if !(g.PixelsPerMM > 0) {
		return nil, fmt.Errorf("%w: pixels per mm must be positive, got %v", ErrInvalidGrid, g.PixelsPerMM)
	}
	if err := p.validate(g.Mode == bitmap.Gray8); err != nil {
		return nil, err
	}

	c := compiler{grid: g, params: p, step: 1 / g.PixelsPerMM}
	return func(yield func(string) bool) {
		c.emit(yield)
	}, nil
}

type compiler struct {
	grid   *bitmap.Grid
	params Params
	step   float64
}

// per row scan state
type scanState struct {
	open  bool
	start int
	power int
	head  float64
}

// yielder stops emitting once the consumer has stopped ranging.
type yielder struct {
	yield func(string) bool
	done  bool
}

func (y *yielder) emit(lines ...string) bool {
	for _, l := range lines {
		if y.done {
			return false
		}
		if !y.yield(l) {
			y.done = true
		}
	}
	return !y.done
}

func (c *compiler) x(col int) float64 {
	return c.params.OriginX + float64(col)*c.step
}

func (c *compiler) y(row int) float64 {
	return c.params.OriginY + float64(c.grid.Height()-1-row)*c.step
}

func (c *compiler) emit(yield func(string) bool) {
	out := &yielder{yield: yield}
	if !out.emit(Comment(beginMarker), Units(), Absolute(), LaserOff(), Feed(c.params.TravelFeed)) {
		return
	}
	for row := 0; row < c.grid.Height(); row++ {
		if !c.row(out, row) {
			return
		}
		if !out.emit(Feed(c.params.TravelFeed)) {
			return
		}
	}
	out.emit(LaserOff(), Comment(endMarker))
}

// columns in scan order for a row
func (c *compiler) columns(row int) iter.Seq[int] {
	w := c.grid.Width()
	return func(yield func(int) bool) {
		if row%2 == 0 {
			for col := 0; col < w; col++ {
				if !yield(col) {
					return
				}
			}
			return
		}
		for col := w - 1; col >= 0; col-- {
			if !yield(col) {
				return
			}
		}
	}
}

func (c *compiler) row(out *yielder, row int) bool {
	first := 0
	if row%2 == 1 {
		first = c.grid.Width() - 1
	}
	y := c.y(row)
	if !out.emit(Rapid(c.x(first)-c.params.Overscan, y), Feed(c.params.EngraveFeed)) {
		return false
	}

	if c.grid.Mode == bitmap.Gray8 {
		return c.grayRow(out, row, first, y)
	}
	return c.binaryRow(out, row, first, y)
}

// Binary rows burn whole runs at full power. A run closes at the first pixel
// that is off, or at the last pixel of the row.
func (c *compiler) binaryRow(out *yielder, row, first int, y float64) bool {
	var s scanState
	last := first
	for col := range c.columns(row) {
		last = col
		burn := c.grid.Burn(col, row)
		switch {
		case burn && !s.open:
			s.open, s.start = true, col
			if col != first && !out.emit(Rapid(c.x(col), y)) {
				return false
			}
		case !burn && s.open:
			if !c.closeBinary(out, col, y) {
				return false
			}
			s = scanState{}
		}
	}
	if s.open {
		return c.closeBinary(out, last, y)
	}
	return true
}

func (c *compiler) closeBinary(out *yielder, col int, y float64) bool {
	x := c.x(col)
	return out.emit(
		LaserOn(c.params.MaxPower),
		Linear(x, y),
		Linear(x+c.params.Overscan, y),
		LaserOff(),
	)
}

// Grayscale rows keep a segment open while the power stays above zero,
// changing the power as the intensity changes along the way. The head
// position is tracked across segments so a move is only emitted when it goes
// somewhere.
func (c *compiler) grayRow(out *yielder, row, first int, y float64) bool {
	s := scanState{head: c.x(first) - c.params.Overscan}
	for col := range c.columns(row) {
		x := c.x(col)
		power := c.params.Power(c.grid.Intensity(col, row))

		if power == 0 {
			if s.open {
				if !c.closeGray(out, &s, x, y) {
					return false
				}
			}
			continue
		}

		if !s.open {
			if col != first {
				if !out.emit(Rapid(x, y)) {
					return false
				}
				s.head = x
			}
			s.open, s.start, s.power = true, col, 0
		}
		if power != s.power {
			if !out.emit(LaserOn(power)) {
				return false
			}
			s.power = power
		}
		if x != s.head {
			if !out.emit(Linear(x, y)) {
				return false
			}
			s.head = x
		}
	}
	if s.open {
		return c.closeGray(out, &s, s.head, y)
	}
	return true
}

// runs out past x by the overscan with the last power still set, then turns
// the laser off
func (c *compiler) closeGray(out *yielder, s *scanState, x, y float64) bool {
	end := x + c.params.Overscan
	if !out.emit(Linear(end, y), LaserOff()) {
		return false
	}
	s.open, s.power, s.head = false, 0, end
	return true
}
