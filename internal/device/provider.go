package device

import "context"

// NullProvider satisfies Provider with inert handles. The daemon uses it
// when capture hardware is reached through the API boundary rather than
// opened in-process; the registry still enforces exclusive ownership.
type NullProvider struct{}

type nullHandle struct{}

func (nullHandle) Close() error { return nil }

// Open always succeeds with an inert handle.
func (NullProvider) Open(ctx context.Context, kind Kind) (Handle, error) {
	return nullHandle{}, nil
}

// DeniedProvider fails every open with the given error, modelling a user
// who declined the permission prompt or a machine with no such device.
type DeniedProvider struct {
	Err error
}

// Open always fails.
func (p DeniedProvider) Open(ctx context.Context, kind Kind) (Handle, error) {
	return nil, p.Err
}
