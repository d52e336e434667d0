package link

import (
	"encoding/json"
	"sync"
)

// Stats are the counters of a link.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	WordsSent      uint64
	WordsReceived  uint64
	Errors         map[error]uint64
}

// ErrorCount returns the number of failed frames of the given kind.
func (s Stats) ErrorCount(kind error) uint64 {
	return s.Errors[kind]
}

// TotalErrors returns the number of failed frames.
func (s Stats) TotalErrors() uint64 {
	var n uint64
	for _, c := range s.Errors {
		n += c
	}

	return n
}

type statistics struct {
	lock   sync.Mutex
	sent   uint64
	recvd  uint64
	wSent  uint64
	wRecvd uint64
	errors map[error]uint64
}

func (s *statistics) frameSent(words int) {
	s.lock.Lock()
	s.sent++
	s.wSent += uint64(words)
	s.lock.Unlock()
}

func (s *statistics) frameReceived(words int) {
	s.lock.Lock()
	s.recvd++
	s.wRecvd += uint64(words)
	s.lock.Unlock()
}

func (s *statistics) frameFailed(kind error) {
	s.lock.Lock()
	s.errors[kind]++
	s.lock.Unlock()
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() Stats {
	l.stats.lock.Lock()
	defer l.stats.lock.Unlock()

	errs := make(map[error]uint64, len(l.stats.errors))
	for k, v := range l.stats.errors {
		errs[k] = v
	}

	return Stats{
		FramesSent:     l.stats.sent,
		FramesReceived: l.stats.recvd,
		WordsSent:      l.stats.wSent,
		WordsReceived:  l.stats.wRecvd,
		Errors:         errs,
	}
}

// MarshalJSON encodes the error counts keyed by the error text.
func (s Stats) MarshalJSON() ([]byte, error) {
	errs := make(map[string]uint64, len(s.Errors))
	for k, v := range s.Errors {
		errs[k.Error()] = v
	}

	return json.Marshal(struct {
		FramesSent     uint64            `json:"frames_sent"`
		FramesReceived uint64            `json:"frames_received"`
		WordsSent      uint64            `json:"words_sent"`
		WordsReceived  uint64            `json:"words_received"`
		Errors         map[string]uint64 `json:"errors"`
	}{s.FramesSent, s.FramesReceived, s.WordsSent, s.WordsReceived, errs})
}
