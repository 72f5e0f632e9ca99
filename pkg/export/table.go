package export

// Table is a rectangular export payload. Every row must have len(Headers) cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

func (t Table) validate(format string) error {
	if len(t.Headers) == 0 {
		return errMissingHeaders(format)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return errRowWidth(format, i, len(row), len(t.Headers))
		}
	}
	return nil
}
