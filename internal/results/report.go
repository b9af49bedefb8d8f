package results

import "sync"

// Report is the insertion-ordered collection of records for one site run,
// keyed by Combination.Key. It is safe for concurrent use.
type Report struct {
	mu         sync.RWMutex
	order      []string
	records    map[string]Record
	notReached []Skip
}

func NewReport() *Report {
	return &Report{records: make(map[string]Record)}
}

// Record stores rec. A NotGateway record is ignored. Re-recording an existing
// key overwrites the value but keeps its original position.
func (r *Report) Record(rec Record) {
	if rec.Result.Verdict == NotGateway {
		return
	}
	key := rec.Combination.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; !ok {
		r.order = append(r.order, key)
	}
	r.records[key] = rec
}

// MarkNotReached notes a subtree the walk had to give up on.
func (r *Report) MarkNotReached(path []string, reason string) {
	p := append([]string(nil), path...)
	r.mu.Lock()
	r.notReached = append(r.notReached, Skip{Path: p, Reason: reason})
	r.mu.Unlock()
}

func (r *Report) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[key]
	return ok
}

func (r *Report) Get(key string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	return rec, ok
}

func (r *Report) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Records returns a copy of all records in insertion order.
func (r *Report) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.records[k])
	}
	return out
}

// NotReached returns a copy of the skipped subtrees.
func (r *Report) NotReached() []Skip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Skip(nil), r.notReached...)
}

// Summarize partitions the records by verdict.
func (r *Report) Summarize() Summary {
	var s Summary
	for _, rec := range r.Records() {
		switch rec.Result.Verdict {
		case Success:
			s.Succeeded = append(s.Succeeded, rec)
		case Failure:
			s.Failed = append(s.Failed, rec)
		case Unknown:
			s.Unknown = append(s.Unknown, rec)
		}
	}
	s.NotReached = r.NotReached()
	return s
}
