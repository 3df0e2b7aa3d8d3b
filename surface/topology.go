package surface

// A cell face is ambiguous when all four of its edges change sign: two occupied corners on one
// diagonal and two empty corners on the other. Its crossings pair up around the occupied
// corners, keeping diagonal voxels apart, unless the cells on both sides of the face would join
// the two pairs into one sheet. Then they pair up around the empty corners, which splits those
// sheets so no edge of the output is shared by more than two faces.

// cellFace is one of a cell's six faces, numbered 2*axis+side.
type cellFace struct {
	corners [4]uint8
	edges   [4]int
}

// cellTopology splits the sign-changing edges of a cell into sheets, each getting its own vertex.
type cellTopology struct {
	count int
	sheet [12]int8 // -1 where the edge does not change sign
}

var (
	cellFaces [6]cellFace
	// edgeIndex[a][b] is the cell edge joining corners a and b, -1 if they do not share one.
	edgeIndex [8][8]int

	baseTopology [256]cellTopology
	// sheetsMeet[mask][f] reports an ambiguous face whose two crossing pairs share a sheet.
	sheetsMeet [256][6]bool
)

func init() {
	for a := range edgeIndex {
		for b := range edgeIndex[a] {
			edgeIndex[a][b] = -1
		}
	}
	for i, e := range cellEdges {
		edgeIndex[e[0]][e[1]] = i
		edgeIndex[e[1]][e[0]] = i
	}

	for f := range cellFaces {
		axis, side := uint8(f/2), uint8(f%2)
		var face cellFace
		n := 0
		for c := uint8(0); c < 8; c++ {
			if c>>axis&1 == side {
				face.corners[n] = c
				n++
			}
		}
		n = 0
		for i, e := range cellEdges {
			if e[0]>>axis&1 == side && e[1]>>axis&1 == side {
				face.edges[n] = i
				n++
			}
		}
		cellFaces[f] = face
	}

	for m := 0; m < 256; m++ {
		mask := uint8(m)
		baseTopology[m] = newCellTopology(mask, 0)
		for f, face := range cellFaces {
			if !ambiguous(mask, f) {
				continue
			}
			var sheets []int8
			for _, c := range face.corners {
				if mask&(1<<c) != 0 {
					e, _ := faceEdgesAt(f, c)
					sheets = append(sheets, baseTopology[m].sheet[e])
				}
			}
			sheetsMeet[m][f] = sheets[0] == sheets[1]
		}
	}
}

func signChange(mask uint8, e int) bool {
	return mask>>cellEdges[e][0]&1 != mask>>cellEdges[e][1]&1
}

func ambiguous(mask uint8, f int) bool {
	for _, e := range cellFaces[f].edges {
		if !signChange(mask, e) {
			return false
		}
	}
	return true
}

// faceEdgesAt returns the two edges of face f meeting at corner c.
func faceEdgesAt(f int, c uint8) (int, int) {
	var out [2]int
	n := 0
	for _, e := range cellFaces[f].edges {
		if cellEdges[e][0] == c || cellEdges[e][1] == c {
			out[n] = e
			n++
		}
	}
	return out[0], out[1]
}

// newCellTopology groups the crossings of a cell into sheets. Two crossings on a face belong to
// the same sheet when the surface runs between them across that face. Bit f of flips pairs the
// crossings of ambiguous face f around its empty corners.
func newCellTopology(mask, flips uint8) cellTopology {
	var parent [12]int
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		parent[find(a)] = find(b)
	}

	for f, face := range cellFaces {
		var changed []int
		for _, e := range face.edges {
			if signChange(mask, e) {
				changed = append(changed, e)
			}
		}
		switch len(changed) {
		case 2:
			union(changed[0], changed[1])
		case 4:
			around := flips&(1<<uint(f)) == 0
			for _, c := range face.corners {
				if (mask&(1<<c) != 0) == around {
					union(faceEdgesAt(f, c))
				}
			}
		}
	}

	t := cellTopology{}
	var label [12]int8
	for i := range label {
		label[i] = -1
	}
	for i := range t.sheet {
		t.sheet[i] = -1
		if !signChange(mask, i) {
			continue
		}
		r := find(i)
		if label[r] < 0 {
			label[r] = int8(t.count)
			t.count++
		}
		t.sheet[i] = label[r]
	}
	return t
}
