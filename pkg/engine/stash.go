package engine

const (
	stashSlabSize = 256
	stashCellSlab = 4096
)

// Stash is a scratch arena for evaluation results. Everything handed out by a
// Stash is invalid after Reset. A nil *Stash allocates on the heap.
//
// A Stash is not safe for concurrent use.
type Stash struct {
	doubles   [][]DoubleValue
	numDouble int

	tensors   [][]TensorValue
	numTensor int

	cells     [][]float64
	cellSlab  int
	cellUsed  int
	overflows int
}

func NewStash() *Stash {
	return &Stash{}
}

// Double returns a double value owned by the stash.
func (s *Stash) Double(v float64) *DoubleValue {
	if s == nil {
		return NewDoubleValue(v)
	}
	slab, pos := s.numDouble/stashSlabSize, s.numDouble%stashSlabSize
	if slab == len(s.doubles) {
		s.doubles = append(s.doubles, make([]DoubleValue, stashSlabSize))
	}
	s.numDouble++
	d := &s.doubles[slab][pos]
	d.value = v
	return d
}

// Tensor wraps t in a tensor value owned by the stash.
func (s *Stash) Tensor(t Tensor) *TensorValue {
	if s == nil {
		return NewTensorValue(t)
	}
	slab, pos := s.numTensor/stashSlabSize, s.numTensor%stashSlabSize
	if slab == len(s.tensors) {
		s.tensors = append(s.tensors, make([]TensorValue, stashSlabSize))
	}
	s.numTensor++
	tv := &s.tensors[slab][pos]
	tv.tensor = t
	return tv
}

// Cells returns n zeroed cells. Requests larger than a slab go to the heap.
func (s *Stash) Cells(n int) []float64 {
	if s == nil || n > stashCellSlab {
		if s != nil {
			s.overflows++
		}
		return make([]float64, n)
	}
	if len(s.cells) == 0 {
		s.cells = append(s.cells, make([]float64, stashCellSlab))
	}
	if s.cellUsed+n > stashCellSlab {
		s.cellSlab++
		s.cellUsed = 0
		if s.cellSlab == len(s.cells) {
			s.cells = append(s.cells, make([]float64, stashCellSlab))
		}
	}
	buf := s.cells[s.cellSlab][s.cellUsed : s.cellUsed+n : s.cellUsed+n]
	s.cellUsed += n
	clear(buf)
	return buf
}

// Reset releases everything handed out so far. Slabs are kept for reuse.
func (s *Stash) Reset() {
	for i := 0; i < s.numTensor; i++ {
		s.tensors[i/stashSlabSize][i%stashSlabSize].tensor = nil
	}
	s.numDouble = 0
	s.numTensor = 0
	s.cellSlab = 0
	s.cellUsed = 0
	s.overflows = 0
}

// StashStats reports how much of a stash is in use.
type StashStats struct {
	Doubles   int
	Tensors   int
	Slabs     int
	Overflows int
}

func (s *Stash) Stats() StashStats {
	return StashStats{
		Doubles:   s.numDouble,
		Tensors:   s.numTensor,
		Slabs:     len(s.doubles) + len(s.tensors) + len(s.cells),
		Overflows: s.overflows,
	}
}
