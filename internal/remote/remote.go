// Package remote carries query execution across processes.
//
// The boundary is the Executor interface: a function name and JSON
// arguments go in, a JSON reply comes out. The package ships one HTTP
// rendering of it. Server exposes a query engine under
// /api/v1/execute/{fn}, Client executes against such a server, and
// Fetcher turns any Executor back into the engine's query surface, so
// a derived-channel handler or a tool works the same against a local
// and a remote archive.
//
// Failures cross the boundary as error-kind strings, so errors.Is
// holds on both sides of the wire.
package remote

import (
	"context"
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
)

var log = logging.Component("remote")

// Function names accepted by Execute.
const (
	FnFetch       = "fetch"
	FnFetchMany   = "fetch_many"
	FnInterpolate = "interpolate"
)

// Executor runs a named function on an archive that may live in
// another process. args must encode to JSON and reply decode from it;
// passing a nil reply discards the result. Implementations must be
// safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, fn string, args any, reply any) error
}

// CallError is a failure reported by the server. It unwraps to the
// sentinel its kind maps to, so errors.Is sees the same category the
// server saw.
type CallError struct {
	Fn      string
	Kind    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Fn, e.Message)
}

func (e *CallError) Unwrap() error { return errors.KindToError(e.Kind) }
