package feature

// Frame is the fixed-width batch the pipeline consumes: one column per base
// feature, in metadata order, one row per claim. Columns the input never
// mentioned hold the missing marker; columns outside the base features are
// dropped during assembly.
type Frame struct {
	Columns []string
	Rows    [][]Value
}

// AssembleFrame projects engineered records onto the base feature columns.
// The output shape is len(records) x len(columns) for any input, which is the
// only invariant the pipeline relies on.
func AssembleFrame(columns []string, records []Record) *Frame {
	cols := make([]string, len(columns))
	copy(cols, columns)

	rows := make([][]Value, len(records))
	for i, rec := range records {
		row := make([]Value, len(cols))
		for j, c := range cols {
			if v, ok := rec[c]; ok {
				row[j] = v
			} else {
				row[j] = Missing()
			}
		}
		rows[i] = row
	}
	return &Frame{Columns: cols, Rows: rows}
}

// NumRows returns the number of claims in the frame.
func (f *Frame) NumRows() int {
	return len(f.Rows)
}

// NumCols returns the frame width.
func (f *Frame) NumCols() int {
	return len(f.Columns)
}

// ColumnIndex returns the position of a column by canonical name.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	return indexOf(f.Columns, name)
}
