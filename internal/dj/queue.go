package dj

import (
	"math/rand"

	"noteblockdj.ai/internal/nbs"
)

// Queue is an ordered playlist. Current is -1 when nothing is selected.
// It is not locked; Module guards it.
type Queue struct {
	Songs   []*nbs.Song
	Current int
	Repeat  bool
	Shuffle bool

	rnd *rand.Rand
}

func NewQueue(rnd *rand.Rand) *Queue {
	return &Queue{Current: -1, rnd: rnd}
}

func (q *Queue) intn(n int) int {
	if q.rnd == nil {
		return rand.Intn(n)
	}
	return q.rnd.Intn(n)
}

func (q *Queue) CurrentSong() *nbs.Song {
	if q.Current < 0 || q.Current >= len(q.Songs) {
		return nil
	}
	return q.Songs[q.Current]
}

func (q *Queue) Clear() {
	q.Songs = nil
	q.Current = -1
}

// Activate selects the first song if none is selected.
func (q *Queue) Activate() {
	if q.Current < 0 && len(q.Songs) > 0 {
		q.Current = 0
	}
}

// Next moves forward: stop at the end, wrap with Repeat, or pick any other
// song at random with Shuffle.
func (q *Queue) Next() {
	if len(q.Songs) == 0 {
		q.Current = -1
		return
	}
	if q.Current < 0 {
		return
	}
	switch {
	case q.Shuffle:
		q.shuffleNext()
	case q.Repeat:
		q.Current = (q.Current + 1) % len(q.Songs)
	case q.Current == len(q.Songs)-1:
		q.Current = -1
	default:
		q.Current++
	}
}

// Previous mirrors Next. With Shuffle it behaves exactly like Next.
func (q *Queue) Previous() {
	if len(q.Songs) == 0 {
		q.Current = -1
		return
	}
	if q.Current < 0 {
		return
	}
	switch {
	case q.Shuffle:
		q.shuffleNext()
	case q.Current > 0:
		q.Current--
	case q.Repeat:
		q.Current = len(q.Songs) - 1
	default:
		q.Current = -1
	}
}

func (q *Queue) shuffleNext() {
	if len(q.Songs) == 1 {
		q.Current = 0
		return
	}
	next := q.intn(len(q.Songs) - 1)
	if next >= q.Current {
		next++
	}
	q.Current = next
}

// Remove drops the song at index i. It reports whether the removed song was
// the current one, in which case the queue has already moved on.
func (q *Queue) Remove(i int) (wasCurrent bool) {
	if i < 0 || i >= len(q.Songs) {
		return false
	}
	q.Songs = append(q.Songs[:i], q.Songs[i+1:]...)
	switch {
	case q.Current < 0:
	case i < q.Current:
		q.Current--
	case i == q.Current:
		// Next from the previous slot lands on the song that took its place.
		q.Current--
		if q.Current < 0 {
			if len(q.Songs) == 0 {
				q.Current = -1
			} else {
				q.Current = 0
			}
			return true
		}
		q.Next()
		return true
	}
	return false
}

func (q *Queue) IndexOf(song *nbs.Song) int {
	for i, s := range q.Songs {
		if s == song {
			return i
		}
	}
	return -1
}
