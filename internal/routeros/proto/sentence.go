// Package proto implements the RouterOS API wire format: sentences made of
// length-prefixed words, terminated by a zero-length word.
package proto

import (
	"fmt"
	"strings"
)

// Pair is one =key=value attribute word in decoded order.
type Pair struct {
	Key   string
	Value string
}

// Sentence is one decoded protocol message. Word holds the leading control
// word (!re, !done, !trap, !fatal) or the command path; attribute words are
// kept both as an ordered List and a lookup Map. The .tag pseudo-attribute
// is lifted into Tag.
type Sentence struct {
	Word string
	Tag  string
	List []Pair
	Map  map[string]string
}

func NewSentence() *Sentence {
	return &Sentence{Map: make(map[string]string)}
}

// addWord folds one raw word into the sentence.
func (s *Sentence) addWord(word string) {
	switch {
	case s.Word == "" && len(s.List) == 0 && !strings.HasPrefix(word, "="):
		s.Word = word
	case strings.HasPrefix(word, ".tag="):
		s.Tag = word[len(".tag="):]
	case strings.HasPrefix(word, "="):
		kv := strings.SplitN(word[1:], "=", 2)
		p := Pair{Key: kv[0]}
		if len(kv) == 2 {
			p.Value = kv[1]
		}
		s.List = append(s.List, p)
		s.Map[p.Key] = p.Value
	default:
		// Bare word after the control word (query replies never produce
		// these, but keep them so encode/decode stays lossless).
		s.List = append(s.List, Pair{Key: word})
	}
}

// Words reassembles the raw word list, tag included. Inverse of decoding.
func (s *Sentence) Words() []string {
	words := make([]string, 0, len(s.List)+2)
	if s.Word != "" {
		words = append(words, s.Word)
	}
	for _, p := range s.List {
		if p.Value == "" {
			if _, ok := s.Map[p.Key]; ok {
				words = append(words, "="+p.Key+"=")
			} else {
				words = append(words, p.Key)
			}
		} else {
			words = append(words, fmt.Sprintf("=%s=%s", p.Key, p.Value))
		}
	}
	if s.Tag != "" {
		words = append(words, ".tag="+s.Tag)
	}
	return words
}

func (s *Sentence) String() string {
	return strings.Join(s.Words(), " ")
}
