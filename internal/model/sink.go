package model

import (
	"context"
	"io"
)

// Sink stores the captured output of a completed pipeline.
type Sink interface {
	Store(ctx context.Context, name string, output []byte) error
}

type SinkCloser interface {
	Sink
	io.Closer
}
