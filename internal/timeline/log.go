package timeline

// Change is an immutable record of one atomic state transition.
type Change interface {
	Kind() string
	String() string
}

// Record is a published change with its position in the log.
type Record struct {
	Seq    uint64
	Time   float64
	Change Change
}

// Observer receives every published record, synchronously and in
// publication order. Observers must not mutate simulation state.
type Observer interface {
	OnChange(r Record)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Record)

// OnChange calls f(r).
func (f ObserverFunc) OnChange(r Record) { f(r) }

// Log is the append-only timeline of published changes.
type Log struct {
	records   []Record
	observers []Observer
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Subscribe registers an observer. Observers are notified in subscription order.
func (l *Log) Subscribe(o Observer) {
	l.observers = append(l.observers, o)
}

// Publish appends c at time t and notifies every observer before returning.
func (l *Log) Publish(t float64, c Change) Record {
	r := Record{Seq: uint64(len(l.records)), Time: t, Change: c}
	l.records = append(l.records, r)
	for _, o := range l.observers {
		o.OnChange(r)
	}
	return r
}

// Records returns a copy of the published records.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of published records.
func (l *Log) Len() int { return len(l.records) }
