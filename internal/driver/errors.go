package driver

import (
	"errors"
	"fmt"

	"github.com/banshee-data/smallsmt/internal/protocol"
)

var (
	// ErrNotEnabled is returned for any command issued while the driver is not
	// connected and enabled.
	ErrNotEnabled = errors.New("driver is not enabled")
	// ErrConnect marks a failure to create the sockets, resolve the
	// controller address or bring the controller to its disabled state.
	ErrConnect = errors.New("cannot establish UDP connection to controller")
	// ErrEnable marks a failure to enable the machine.
	ErrEnable = errors.New("driver cannot enable the machine")
	// ErrTimeout is returned when no response at all arrives within the
	// response window of a dispatch.
	ErrTimeout = errors.New("no response from controller")
	// ErrFatalProtocol is returned when the controller answers a command with
	// a negative status. The machine cannot continue.
	ErrFatalProtocol = errors.New("fatal error reported by controller")
	// ErrSend marks a failure to transmit a request frame.
	ErrSend = errors.New("failed to send command")
)

// FatalError carries the status of a fatal controller response.
type FatalError struct {
	PacketID uint32
	Status   int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%v: status %d on packet %d, see machine log", ErrFatalProtocol, e.Status, e.PacketID)
}

func (e *FatalError) Unwrap() error { return ErrFatalProtocol }

// CommandError wraps a failed dispatch with the verb and packet id involved.
type CommandError struct {
	Verb     protocol.Verb
	PacketID uint32
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (packet %d): %v", e.Verb, e.PacketID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
