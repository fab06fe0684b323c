package dbsource

import "context"

// ConnFunc is a unit of work bound to a resolved connection.
type ConnFunc func(ctx context.Context, conn Conn) error

// WithConnection resolves source, runs body with the connection, and
// releases the connection according to how it was obtained: a Conn source
// is left alone, a Pool borrow is returned, a Config-opened connection is
// closed. The release runs exactly once on every exit path, including a
// panic escaping body, so a failing body never leaks a borrowed or opened
// connection.
//
// Results travel out of body by closure capture. The body error propagates
// unchanged; a release failure surfaces only when body itself succeeded.
func WithConnection(ctx context.Context, source any, body ConnFunc) (err error) {
	conn, release, err := resolve(ctx, "WithConnection", source)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return body(ctx, conn)
}
