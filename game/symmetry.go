package game

// NumSymmetries is the size of the dihedral group of the square.
const NumSymmetries = 8

// transformPoint applies symmetry k to (row, col): k%4 clockwise quarter
// turns followed by a horizontal mirror when k >= 4.
func transformPoint(size, row, col, k int) (int, int) {
	for i := 0; i < k%4; i++ {
		row, col = col, size-1-row
	}
	if k >= 4 {
		col = size - 1 - col
	}
	return row, col
}

// InverseSymmetry returns j such that applying k then j is the identity.
func InverseSymmetry(k int) int {
	if k >= 4 {
		return k
	}
	return (4 - k) % 4
}

// TransformAction maps an action index through symmetry k. Pass is fixed.
func TransformAction(size, action, k int) int {
	if action >= size*size || action < 0 {
		return action
	}
	r, c := transformPoint(size, action/size, action%size, k)
	return r*size + c
}

// TransformPolicy maps a distribution over actions through symmetry k.
func TransformPolicy(size int, pi []float32, k int) []float32 {
	out := make([]float32, len(pi))
	for a, p := range pi {
		out[TransformAction(size, a, k)] = p
	}
	return out
}

// Symmetry returns a copy of s with symmetry k applied to the board and ko point.
func Symmetry(s *State, k int) *State {
	out := s.Clone()
	for i, c := range s.Board {
		out.Board[TransformAction(s.Size, i, k)] = c
	}
	if s.Ko != NoKo {
		out.Ko = TransformAction(s.Size, s.Ko, k)
	}
	return out
}

// Symmetries returns all eight dihedral images of s; index 0 is s itself.
func Symmetries(s *State) []*State {
	out := make([]*State, NumSymmetries)
	for k := range out {
		out[k] = Symmetry(s, k)
	}
	return out
}
