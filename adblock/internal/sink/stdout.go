package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Stdout writes one envelope per line.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink writing to w, or to os.Stdout if w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, rep dom.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(wrap(rep))
}

func (s *Stdout) Close() error { return nil }
