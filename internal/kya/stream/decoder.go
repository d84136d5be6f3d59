// Package stream decodes "data: " framed chat completion streams into text deltas.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// Decoder yields the assistant text deltas carried by a chat completion stream.
//
// Lines are split on '\n' across reads, so the output does not depend on how
// the transport chunks the body. Blank lines, ':' comments and lines without a
// "data: " prefix are skipped. A payload that is not valid JSON is held and
// joined with the lines that follow until it parses; a well-formed record
// arriving meanwhile drops the held fragment.
type Decoder struct {
	r    io.Reader
	read []byte
	buf  []byte // bytes not yet split into lines
	held []byte // payload awaiting continuation

	pending []string
	done    bool
	err     error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, read: make([]byte, readSize)}
}

// Next returns the next non-empty delta. It returns io.EOF after "[DONE]" or
// when the transport ends, and the transport's error if a read fails. A
// trailing partial line is discarded.
func (d *Decoder) Next() (string, error) {
	for {
		if len(d.pending) > 0 {
			delta := d.pending[0]
			d.pending = d.pending[1:]
			return delta, nil
		}
		if d.done {
			return "", d.err
		}

		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf = append(d.buf, d.read[:n]...)
			d.scan()
		}
		if err != nil && !d.done {
			d.finish(err)
		}
	}
}

// All ranges over the remaining deltas. Iteration stops after the first error,
// which is yielded with an empty delta; a clean end of stream yields nothing.
func (d *Decoder) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			delta, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(delta, err) || err != nil {
				return
			}
		}
	}
}

func (d *Decoder) finish(err error) {
	d.done = true
	d.err = err
	d.buf = nil
	d.held = nil
}

func (d *Decoder) scan() {
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte{'\r'})
		d.buf = d.buf[i+1:]
		d.line(line)
	}
}

func (d *Decoder) line(line []byte) {
	if len(line) == 0 || line[0] == ':' {
		return
	}

	payload, isData := bytes.CutPrefix(line, []byte(dataPrefix))
	payload = bytes.TrimSpace(payload)

	if d.held != nil {
		if isData && (string(payload) == doneSentinel || gjson.ValidBytes(payload)) {
			d.held = nil
		} else {
			joined := append(d.held, bytes.TrimSpace(line)...)
			if !gjson.ValidBytes(joined) {
				d.held = joined
				return
			}
			d.held = nil
			d.emit(joined)
			return
		}
	}

	if !isData {
		return
	}
	if string(payload) == doneSentinel {
		d.finish(io.EOF)
		return
	}
	if !gjson.ValidBytes(payload) {
		d.held = append([]byte(nil), payload...)
		return
	}
	d.emit(payload)
}

func (d *Decoder) emit(payload []byte) {
	content := gjson.GetBytes(payload, "choices.0.delta.content")
	if content.Type == gjson.String && content.Str != "" {
		d.pending = append(d.pending, content.Str)
	}
}
