package grpcconn

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/agglayer/callkit/retrycall"
)

// rawCodec moves opaque byte frames through the stream. Payload marshalling
// is the caller's responsibility; the codec name stays "proto" so servers
// accept the content-type.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec.Marshal: expected []byte, got %T", v)
	}
	return b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec.Unmarshal: expected *[]byte, got %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string {
	return "proto"
}

// StreamTransport opens one gRPC client stream per call attempt. It is the
// bridge between the in-process call orchestrator and a real connection.
type StreamTransport struct {
	conn *grpc.ClientConn
}

var _ retrycall.Transport = (*StreamTransport)(nil)

// NewStreamTransport wraps an established gRPC connection.
func NewStreamTransport(conn *grpc.ClientConn) *StreamTransport {
	return &StreamTransport{conn: conn}
}

// OpenAttempt starts one attempt as a fresh client stream carrying the call's
// request headers.
func (t *StreamTransport) OpenAttempt(ctx context.Context, method string,
	headers metadata.MD) (retrycall.AttemptHandle, error) {
	if len(headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, headers)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}
	stream, err := t.conn.NewStream(attemptCtx, desc, method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		cancel()
		return nil, err
	}
	return &streamAttempt{stream: stream, cancel: cancel}, nil
}

// streamAttempt adapts one grpc.ClientStream to the orchestrator's attempt
// handle contract.
type streamAttempt struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu       sync.Mutex
	recvErr  error
	finalSt  *status.Status
	trailers metadata.MD
}

func (a *streamAttempt) Send(msg []byte) error {
	return a.stream.SendMsg(msg)
}

func (a *streamAttempt) CloseSend() error {
	return a.stream.CloseSend()
}

func (a *streamAttempt) ReceiveHeaders() (metadata.MD, error) {
	return a.stream.Header()
}

func (a *streamAttempt) ReceiveNext() ([]byte, error) {
	var msg []byte
	err := a.stream.RecvMsg(&msg)
	if err != nil {
		a.recordTerminal(err)
		return nil, err
	}
	return msg, nil
}

// ReceiveStatus drains the response stream if needed and returns the terminal
// status and trailers of the attempt.
func (a *streamAttempt) ReceiveStatus() (*status.Status, metadata.MD) {
	a.mu.Lock()
	final := a.finalSt
	a.mu.Unlock()
	if final != nil {
		return final, a.trailers
	}

	for {
		var discard []byte
		if err := a.stream.RecvMsg(&discard); err != nil {
			a.recordTerminal(err)
			break
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalSt, a.trailers
}

func (a *streamAttempt) Cancel() {
	a.cancel()
}

func (a *streamAttempt) recordTerminal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalSt != nil {
		return
	}
	switch {
	case err == io.EOF:
		a.finalSt = status.New(codes.OK, "")
	default:
		a.finalSt = status.Convert(err)
	}
	a.trailers = a.stream.Trailer()
}
