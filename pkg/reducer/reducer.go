// Package reducer defines the sandboxed-reducer contract: applying one
// opaque mutation against a transaction by running a deterministic guest
// program that issues Query/Exec requests back into the host. Concrete
// sandboxes (see pkg/reducer/wazerosandbox) implement Reducer.
package reducer

import (
	"context"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
)

// Reducer applies mutations to a database transaction by driving a
// sandboxed guest program, grounded on the original Reducer::apply.
type Reducer interface {
	// Apply runs mutation against tx, executing every Query/Exec request
	// the guest issues until it signals completion.
	Apply(ctx context.Context, tx sqlengine.Tx, mutation []byte) error

	// Close releases the sandbox's resources.
	Close(ctx context.Context) error
}
