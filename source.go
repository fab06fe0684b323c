package dbsource

import "context"

// A source is any value a connection can be obtained from: a Conn is used
// as-is, a Pool is borrowed from, and a Config opens a fresh connection.
// Classification is a closed type switch; everything else is rejected
// before any resource is touched.

// releaseFunc undoes a resolution: a no-op for caller-owned connections,
// a pool return for borrowed ones, a close for locally-opened ones.
type releaseFunc func() error

func releaseNothing() error { return nil }

// resolve classifies source and pairs the resulting connection with the
// release action its ownership requires. Resolving a Conn is free of side
// effects and repeatable; resolving a Pool or Config acquires a fresh
// resource each call and the returned release must run exactly once.
func resolve(ctx context.Context, op string, source any) (Conn, releaseFunc, error) {
	switch s := source.(type) {
	case nil:
		return nil, nil, errNilSource(op)
	case Conn:
		return s, releaseNothing, nil
	case Pool:
		conn, err := s.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() error {
			s.Release(conn)
			return nil
		}, nil
	case *Config:
		if s == nil {
			return nil, nil, errNilSource(op)
		}
		conn, err := s.Connect(ctx)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() error {
			return conn.Close(ctx)
		}, nil
	case Config:
		cfg := s
		return resolve(ctx, op, &cfg)
	default:
		return nil, nil, errUnsupportedSource(op, source)
	}
}

// ResolveConnection resolves a source into a usable connection. A Conn
// comes back unchanged. A Pool source borrows a connection and a Config
// source opens one; in both cases the caller owns the result and must
// return or close it, unless the work runs inside WithConnection or
// WithTransaction, which release automatically.
func ResolveConnection(ctx context.Context, source any) (Conn, error) {
	conn, _, err := resolve(ctx, "ResolveConnection", source)
	return conn, err
}
