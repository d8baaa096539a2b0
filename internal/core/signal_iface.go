package core

// Frame is one serialized outbound message.
type Frame []byte

// SignalConnection abstracts a duplex messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking. It fails with domain.ErrBackpressure
	// when the peer's buffer is full and domain.ErrConnClosed after Close.
	TrySend(f Frame) error
	Close()
}
