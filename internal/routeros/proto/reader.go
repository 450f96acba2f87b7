package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrBadLengthPrefix reports a malformed word length prefix. It is a
// protocol-level failure, distinct from io errors that merely mean the
// stream ended early.
var ErrBadLengthPrefix = errors.New("routeros: malformed word length prefix")

// maxWordLength caps a single word at the largest length the 4-byte prefix
// class can carry.
const maxWordLength = 0x10000000

// Reader decodes sentences from a byte stream. It reads incrementally, so
// words split across multiple socket reads are reassembled transparently.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadSentence reads words until the zero-length terminator and returns the
// decoded sentence. An empty sentence (lone terminator) is returned as a
// Sentence with no words; callers treat it as a keepalive.
func (r *Reader) ReadSentence() (*Sentence, error) {
	sen := NewSentence()
	for {
		word, err := r.readWord()
		if err != nil {
			return nil, err
		}
		if len(word) == 0 {
			return sen, nil
		}
		sen.addWord(string(word))
	}
}

func (r *Reader) readWord() ([]byte, error) {
	l, err := r.readLength()
	if err != nil {
		return nil, err
	}
	if l == 0 {
		return nil, nil
	}
	word := make([]byte, l)
	if _, err := io.ReadFull(r.r, word); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("routeros: truncated word: %w", err)
	}
	return word, nil
}

// readLength decodes the variable-width length prefix. The top bits of the
// first byte select the class: 0xxxxxxx one byte, 10 two bytes, 110 three
// bytes, 1110 four bytes. 1111 prefixes are reserved and rejected.
func (r *Reader) readLength() (int64, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}

	var l int64
	var more int
	switch {
	case b&0x80 == 0x00:
		return int64(b), nil
	case b&0xC0 == 0x80:
		l = int64(b &^ 0xC0)
		more = 1
	case b&0xE0 == 0xC0:
		l = int64(b &^ 0xE0)
		more = 2
	case b&0xF0 == 0xE0:
		l = int64(b &^ 0xF0)
		more = 3
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrBadLengthPrefix, b)
	}

	for i := 0; i < more; i++ {
		b, err = r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("routeros: truncated length prefix: %w", err)
		}
		l = l<<8 | int64(b)
	}

	if l >= maxWordLength {
		return 0, fmt.Errorf("%w: length %d out of range", ErrBadLengthPrefix, l)
	}
	return l, nil
}
