package retrycall

import (
	"context"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Transport opens call attempts against a remote peer. Implementations wrap
// the real wire transport; the orchestrator only ever talks to this interface.
type Transport interface {
	// OpenAttempt starts one attempt of the given method. The returned handle
	// is owned by the orchestrator until it cancels or drains it. The context
	// is the per-attempt cancellation scope.
	OpenAttempt(ctx context.Context, method string, headers metadata.MD) (AttemptHandle, error)
}

// AttemptHandle is one in-flight attempt on the transport.
type AttemptHandle interface {
	// Send delivers one request message. Messages are delivered in the order
	// submitted.
	Send(msg []byte) error

	// CloseSend signals that no further request messages will be sent.
	CloseSend() error

	// ReceiveHeaders blocks until the response headers arrive or the attempt
	// terminates without them. A nil error means the server has started a
	// usable response.
	ReceiveHeaders() (metadata.MD, error)

	// ReceiveNext returns the next response message, or io.EOF at the end of
	// the response stream.
	ReceiveNext() ([]byte, error)

	// ReceiveStatus blocks until the attempt is terminal and returns the
	// final status and trailers.
	ReceiveStatus() (*status.Status, metadata.MD)

	// Cancel tears down the attempt and propagates cancellation to the
	// remote peer. It must be safe to call more than once and after the
	// attempt already terminated.
	Cancel()
}
