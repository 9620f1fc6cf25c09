package store

import (
	"fmt"

	"sitekv/pkg/dberrors"
)

var (
	ErrNotInitialized = fmt.Errorf("%w: store not initialized", dberrors.ErrClosed)
	// ErrNotWritable is returned by writes after a failed append could not be
	// rolled back. Reads keep working; restart to recover.
	ErrNotWritable = fmt.Errorf("%w: log tail could not be discarded, store is read-only", dberrors.ErrIO)
)
