package groupcast

import (
	"errors"
	"fmt"

	"github.com/banyan-group/groupcast/membership"
)

// Sentinel errors corresponding to the error taxonomy in spec §7. Use
// errors.Is to test for these; RemoteError and SendFailure are concrete
// types used with errors.As.
var (
	// ErrInvalidArgument is returned for malformed calls, e.g. a nil
	// unicast destination.
	ErrInvalidArgument = errors.New("groupcast: invalid argument")

	// ErrChannelNotConnected is returned when a send is attempted while the
	// underlying channel reports itself disconnected.
	ErrChannelNotConnected = errors.New("groupcast: channel not connected")

	// ErrTimeout is returned by a blocking unicast call whose deadline
	// elapsed before the completion predicate was satisfied. Group calls do
	// not return this error; a timed-out group call instead returns a
	// partial RspList (spec §7: "Timeout completes the collector; it is not
	// an exception unless the API variant is unicast-blocking").
	ErrTimeout = errors.New("groupcast: timeout")

	// ErrSuspected is returned by a blocking unicast call whose sole
	// destination was suspected or removed from the view before replying.
	ErrSuspected = errors.New("groupcast: suspected")
)

// RemoteError carries a failure reported by a remote handler, recorded in
// an Exception response slot (spec §7 "RemoteException").
type RemoteError struct {
	From membership.Address
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %v: %v", e.From, e.Err)
}

// Unwrap returns the underlying handler error.
func (e *RemoteError) Unwrap() error { return e.Err }

// SendFailure is returned synchronously from the facade when the transport
// rejects a request outright (spec §7: "Send failures abort the request
// synchronously and never leave a collector in the table").
type SendFailure struct {
	Dests []membership.Address
	Err   error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send failed for %v: %v", e.Dests, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *SendFailure) Unwrap() error { return e.Err }

// panicError converts a recovered panic value into an error, so a handler
// panic cannot take down the correlator's dispatch goroutine (chirp's
// dispatchRequestLocked does the same).
func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("handler panic: %w", err)
	}
	return fmt.Errorf("handler panic: %v", v)
}

// encodeRemoteError renders a handler error for the wire. wrap controls
// whether the message text is preserved (WithWrapExceptions, spec §4 item
// 7) or discarded in favor of a generic marker, mirroring JGroups'
// wrapExceptions(boolean).
func encodeRemoteError(err error, wrap bool) []byte {
	if !wrap || err == nil {
		return nil
	}
	return []byte(err.Error())
}

// decodeRemoteError is the receiving side of encodeRemoteError.
func decodeRemoteError(body []byte) error {
	if len(body) == 0 {
		return errors.New("remote handler error")
	}
	return errors.New(string(body))
}
