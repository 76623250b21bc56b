package util

import "sync"

// ChunkPool provides reusable receive buffers for session read loops,
// reducing GC pressure when many connections are open at once.
var ChunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultChunkSize)
		return &buf
	},
}

// GetChunk retrieves a buffer from the pool.  Callers must return it
// with [PutChunk] when finished.
func GetChunk() *[]byte {
	return ChunkPool.Get().(*[]byte)
}

// PutChunk returns a buffer to the pool for reuse.
func PutChunk(buf *[]byte) {
	if buf == nil {
		return
	}
	ChunkPool.Put(buf)
}
