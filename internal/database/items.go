package database

// DbItem is one element of the executor's output stream, emitted in strict
// statement order. The set of implementations is closed: Row, FinishedQuery
// and Error.
type DbItem interface{ dbItem() }

// Row is one decoded result row.
type Row struct {
	Data map[string]any
}

// FinishedQuery marks the end of one statement's results. The render layer
// counts these to number statements in error messages.
type FinishedQuery struct{}

// Error reports a failed statement. The stream continues with the next
// statement unless the connection itself could not be obtained.
type Error struct {
	Err error
}

func (Row) dbItem()           {}
func (FinishedQuery) dbItem() {}
func (Error) dbItem()         {}
