package util

import (
	"io"
)

// DefaultChunkSize is the bounded size of a single receive call.
const DefaultChunkSize = 1024

// WriteFull writes all of p to w, calling Write as many times as needed
// and checking every return against the requested length.  A Write that
// makes no progress without an error yields [io.ErrShortWrite].
func WriteFull(w io.Writer, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		if n < 0 || n > len(p)-total {
			return total, io.ErrShortWrite
		}
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
