package system

import "context"

// Service is a component with a boot and shutdown phase, such as the
// scheduled ledger audit.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
