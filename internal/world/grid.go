package world

import (
	"math"
)

// Grid is a uniform broad-phase grid over the XZ plane. Colliders are
// registered in every cell their bounds overlap; positions outside the grid
// clamp to the border cells, so queries stay conservative.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type Grid struct {
	cellSize    float64
	invCellSize float64
	originX     float64
	originZ     float64
	cols, rows  int
	cells       [][]ObjectID
	scratch     []ObjectID
	seen        map[ObjectID]struct{}
}

// NewGrid creates a grid covering [minX,maxX]x[minZ,maxZ].
func NewGrid(minX, minZ, maxX, maxZ, cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 32
	}
	cols := int(math.Ceil((maxX - minX) / cellSize))
	rows := int(math.Ceil((maxZ - minZ) / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]ObjectID, cols*rows)
	for i := range cells {
		cells[i] = make([]ObjectID, 0, 4)
	}

	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		originX:     minX,
		originZ:     minZ,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]ObjectID, 0, 32),
		seen:        make(map[ObjectID]struct{}, 32),
	}
}

// Insert registers id in every cell overlapped by b.
func (g *Grid) Insert(id ObjectID, b Bounds) {
	c0, c1, r0, r1 := g.cellRange(b)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			idx := row*g.cols + col
			g.cells[idx] = append(g.cells[idx], id)
		}
	}
}

// Remove unregisters id from the cells overlapped by b.
func (g *Grid) Remove(id ObjectID, b Bounds) {
	c0, c1, r0, r1 := g.cellRange(b)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			idx := row*g.cols + col
			cell := g.cells[idx]
			for i, other := range cell {
				if other == id {
					cell[i] = cell[len(cell)-1]
					g.cells[idx] = cell[:len(cell)-1]
					break
				}
			}
		}
	}
}

// Query returns the distinct IDs registered in cells overlapped by b.
// The returned slice is reused by the next call.
func (g *Grid) Query(b Bounds) []ObjectID {
	g.scratch = g.scratch[:0]
	for k := range g.seen {
		delete(g.seen, k)
	}

	c0, c1, r0, r1 := g.cellRange(b)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			for _, id := range g.cells[row*g.cols+col] {
				if _, dup := g.seen[id]; dup {
					continue
				}
				g.seen[id] = struct{}{}
				g.scratch = append(g.scratch, id)
			}
		}
	}
	return g.scratch
}

func (g *Grid) cellRange(b Bounds) (c0, c1, r0, r1 int) {
	c0 = g.clampCol(int(math.Floor((b.Min[0] - g.originX) * g.invCellSize)))
	c1 = g.clampCol(int(math.Floor((b.Max[0] - g.originX) * g.invCellSize)))
	r0 = g.clampRow(int(math.Floor((b.Min[2] - g.originZ) * g.invCellSize)))
	r1 = g.clampRow(int(math.Floor((b.Max[2] - g.originZ) * g.invCellSize)))
	return
}

func (g *Grid) clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c >= g.cols {
		return g.cols - 1
	}
	return c
}

func (g *Grid) clampRow(r int) int {
	if r < 0 {
		return 0
	}
	if r >= g.rows {
		return g.rows - 1
	}
	return r
}
