package proto

import (
	"bufio"
	"fmt"
	"io"
)

// Writer encodes sentences onto a byte stream. Not safe for concurrent use;
// the client serializes writes.
type Writer struct {
	w   *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteSentence encodes the given words followed by the zero-length
// terminator and flushes.
func (w *Writer) WriteSentence(words []string) error {
	for _, word := range words {
		w.writeWord(word)
	}
	w.writeLength(0)
	if w.err == nil {
		w.err = w.w.Flush()
	}
	err := w.err
	w.err = nil
	return err
}

func (w *Writer) writeWord(word string) {
	if w.err != nil {
		return
	}
	w.writeLength(int64(len(word)))
	if w.err == nil {
		_, w.err = w.w.WriteString(word)
	}
}

// writeLength emits the variable-width length prefix matching readLength.
func (w *Writer) writeLength(l int64) {
	if w.err != nil {
		return
	}
	switch {
	case l < 0x80:
		w.err = w.w.WriteByte(byte(l))
	case l < 0x4000:
		w.err = writeBytes(w.w, l|0x8000, 2)
	case l < 0x200000:
		w.err = writeBytes(w.w, l|0xC00000, 3)
	case l < maxWordLength:
		w.err = writeBytes(w.w, l|0xE0000000, 4)
	default:
		w.err = fmt.Errorf("routeros: word length %d exceeds protocol limit", l)
	}
}

func writeBytes(w *bufio.Writer, v int64, n int) error {
	for i := n - 1; i >= 0; i-- {
		if err := w.WriteByte(byte(v >> uint(i*8))); err != nil {
			return err
		}
	}
	return nil
}
