package faktory

import (
	"fmt"
	"math/rand"
	"time"
)

// QueueSelector yields the list of queue names to pass to each FETCH.
type QueueSelector interface {
	// Queues returns the queue names for the next FETCH, most-preferred
	// first.
	Queues() []string
}

// orderedQueues always returns the same list, unchanged, letting the server
// honor that order as a priority preference.
type orderedQueues struct {
	names []string
}

// NewOrderedQueues builds a QueueSelector that yields names in the fixed
// order given. An empty list means ["default"].
func NewOrderedQueues(names ...string) QueueSelector {
	if len(names) == 0 {
		names = []string{DefaultQueue}
	}
	cp := make([]string, len(names))
	copy(cp, names)
	return &orderedQueues{names: cp}
}

func (o *orderedQueues) Queues() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// weightedQueues produces a "drum" of queue names replicated by weight, then
// shuffles it (Fisher-Yates) on every call and returns the deduplicated
// order. Over many calls the first-position frequency of a queue converges
// to its weight divided by the total weight.
type weightedQueues struct {
	drum []string
	rnd  *rand.Rand
}

// NewWeightedQueues builds a QueueSelector from a queue-name → weight map.
// An empty map means ["default"].
func NewWeightedQueues(weights map[string]int) QueueSelector {
	seed := time.Now().UnixNano()
	if len(weights) == 0 {
		return &weightedQueues{drum: []string{DefaultQueue}, rnd: rand.New(rand.NewSource(seed))}
	}
	drum := make([]string, 0, len(weights))
	for name, weight := range weights {
		for i := 0; i < weight; i++ {
			drum = append(drum, name)
		}
	}
	return &weightedQueues{drum: drum, rnd: rand.New(rand.NewSource(seed))}
}

func (w *weightedQueues) Queues() []string {
	shuffled := make([]string, len(w.drum))
	copy(shuffled, w.drum)
	w.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	seen := make(map[string]bool, len(shuffled))
	out := make([]string, 0, len(shuffled))
	for _, name := range shuffled {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ErrMixedQueueSpec is returned by configuration helpers that detect both an
// ordered list and a weight map supplied for the same worker.
var ErrMixedQueueSpec = fmt.Errorf("faktory: cannot mix ordered and weighted queue specifications")
