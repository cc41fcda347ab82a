package buffer

import "sync"

const (
	// Pool limits to prevent memory bloat
	poolMaxCap  = 64 << 10
	poolInitCap = 256
)

var bytesPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, poolInitCap)
		return &buf
	},
}

func getBytes() *[]byte {
	return bytesPool.Get().(*[]byte)
}

func putBytes(buf *[]byte) {
	if buf == nil || cap(*buf) > poolMaxCap {
		return // reject oversized
	}
	*buf = (*buf)[:0]
	bytesPool.Put(buf)
}
