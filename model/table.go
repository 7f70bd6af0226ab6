package model

// CombinedTable is the unified CSV produced by aggregation.
type CombinedTable struct {
	Header []string
	Rows   []Row
}

// Row maps header names to cell values. Missing names read as "".
type Row map[string]string

// Record returns the row's cells laid out in header order.
func (r Row) Record(header []string) []string {
	record := make([]string, len(header))
	for i, name := range header {
		record[i] = r[name]
	}
	return record
}
