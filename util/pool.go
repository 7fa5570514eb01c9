package util

import "sync"

// DefaultBufSize is the size of a session read buffer (4 KiB).  Terminal
// traffic arrives in small bursts, so larger buffers only waste memory
// across many idle sessions.
const DefaultBufSize = 4 * 1024

// BufPool provides reusable byte buffers for transport reads, reducing
// GC pressure when sessions come and go.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
