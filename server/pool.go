package server

import (
	"bytes"
	"sync"
)

// Buffer pools for reducing allocations

// chunkBufferPool holds 4KB buffers for reading from connections
var chunkBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 4096)
		return &buf
	},
}

// frameBufferPool holds 8KB buffers for accumulating a request until the header delimiter
var frameBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 8192)
		return &buf
	},
}

// responseBufferPool holds bytes.Buffer for serializing responses
var responseBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Pool size limits - buffers larger than this are discarded
const (
	maxPoolBufferSize = 16384 // 16KB
)
