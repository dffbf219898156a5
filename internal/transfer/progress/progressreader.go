// Package progress reports bytes flowing through an io.Reader.
package progress

import (
	"errors"
	"io"
)

// Reader wraps an io.Reader and calls OnProgress every Interval bytes and once at EOF.
type Reader struct {
	Reader     io.Reader
	Total      int64
	Interval   int64
	OnProgress func(delta, read, total int64)

	read       int64
	sinceLast  int64
	reportedAt int64
}

func NewReader(r io.Reader, total, interval int64, cb func(delta, read, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		Interval:   interval,
		OnProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.sinceLast >= pr.Interval {
			pr.report()
		}
	}

	if errors.Is(err, io.EOF) && pr.read > pr.reportedAt {
		pr.report()
	}

	return n, err
}

// BytesRead returns the bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) report() {
	if pr.OnProgress != nil {
		pr.OnProgress(pr.read-pr.reportedAt, pr.read, pr.Total)
	}

	pr.reportedAt = pr.read
	pr.sinceLast = 0
}
