package relay

import (
	"context"
	"fmt"
)

// errUnsupportedPlatform is returned by unsupportedUnitManager for every
// operation on a platform with no registered UnitManager.
var errUnsupportedPlatform = fmt.Errorf("relay: service management not supported on this platform")

// UnitManager starts/stops/restarts an OS-managed service by name, backing
// the relay's startservice/stopservice/restartservice commands (§4.4).
type UnitManager interface {
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error
}

// platformUnitManager is set by an init() in the platform-specific file
// compiled for this GOOS (matching internal/watcher/file_watcher.go's
// platformFactory idiom). It is nil on platforms with no registered
// implementation.
var platformUnitManager UnitManager

// NewUnitManager returns the UnitManager registered for the current
// platform, or a stub that reports every operation as unsupported.
func NewUnitManager() UnitManager {
	if platformUnitManager != nil {
		return platformUnitManager
	}
	return unsupportedUnitManager{}
}

type unsupportedUnitManager struct{}

func (unsupportedUnitManager) Start(context.Context, string) error   { return errUnsupportedPlatform }
func (unsupportedUnitManager) Stop(context.Context, string) error    { return errUnsupportedPlatform }
func (unsupportedUnitManager) Restart(context.Context, string) error { return errUnsupportedPlatform }
