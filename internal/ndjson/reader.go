// Package ndjson frames newline-delimited JSON byte streams into discrete
// records. Splitting is independent of how the underlying stream chunks its
// reads: a partial trailing line is retained until the next chunk completes
// it. A stream that closes mid-line is considered not to have completed that
// record, so the remainder is discarded.
package ndjson

import (
	"bytes"
	"io"
)

// Reader frames an io.Reader into newline-delimited records.
type Reader struct {
	r       io.Reader
	buf     []byte
	pending [][]byte
	readBuf []byte
	err     error
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       r,
		readBuf: make([]byte, 32*1024),
	}
}

// ReadLine returns the next complete line, without its trailing newline.
// Empty lines are skipped. Returns io.EOF when the stream closes; any
// non-empty remainder without a newline is discarded.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		if len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			if len(line) == 0 {
				continue
			}
			return line, nil
		}

		if r.err != nil {
			return nil, r.err
		}

		n, err := r.r.Read(r.readBuf)
		if n > 0 {
			r.split(r.readBuf[:n])
		}
		if err != nil {
			r.err = err
		}
	}
}

// split appends chunk to the retained partial line and queues every complete
// line found.
func (r *Reader) split(chunk []byte) {
	r.buf = append(r.buf, chunk...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return
		}
		line := make([]byte, i)
		copy(line, r.buf[:i])
		line = bytes.TrimSuffix(line, []byte{'\r'})
		r.pending = append(r.pending, line)
		r.buf = r.buf[i+1:]
	}
}
