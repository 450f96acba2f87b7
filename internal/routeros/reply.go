package routeros

import (
	"strings"

	"github.com/talkincode/routerman/internal/routeros/proto"
)

// Reply is one fully buffered command result: zero or more !re data rows
// and the terminating !done sentence.
type Reply struct {
	Re   []*proto.Sentence
	Done *proto.Sentence
}

func (r *Reply) String() string {
	b := &strings.Builder{}
	for _, re := range r.Re {
		b.WriteString(re.String())
		b.WriteByte('\n')
	}
	if r.Done != nil {
		b.WriteString(r.Done.String())
	}
	return b.String()
}
