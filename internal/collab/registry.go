package collab

import "reflect"

// record is a logical interest in a topic. It outlives any single connection.
type record struct {
	topic   string
	handler Handler
	keyed   bool
	refs    int

	// Live binding; nil while pending.
	unbind  func() error
	boundTo Conn
}

// recordKey identifies a deduplicable registration.
type recordKey struct {
	topic   string
	handler Handler
}

// registry holds subscription records in registration order.
type registry struct {
	records []*record
	byKey   map[recordKey]*record
}

func newRegistry() *registry {
	return &registry{byKey: make(map[recordKey]*record)}
}

// add registers (topic, h). A comparable handler already registered on topic
// gains a reference instead of a second record.
func (r *registry) add(topic string, h Handler) (rec *record, created bool) {
	keyed := reflect.ValueOf(h).Comparable()
	if keyed {
		if existing, ok := r.byKey[recordKey{topic, h}]; ok {
			existing.refs++
			return existing, false
		}
	}

	rec = &record{topic: topic, handler: h, keyed: keyed, refs: 1}
	r.records = append(r.records, rec)
	if keyed {
		r.byKey[recordKey{topic, h}] = rec
	}
	return rec, true
}

func (r *registry) contains(rec *record) bool {
	for _, existing := range r.records {
		if existing == rec {
			return true
		}
	}
	return false
}

func (r *registry) remove(rec *record) {
	for i, existing := range r.records {
		if existing == rec {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	if rec.keyed {
		delete(r.byKey, recordKey{rec.topic, rec.handler})
	}
}

// reset drops every record and returns what was registered.
func (r *registry) reset() []*record {
	records := r.records
	r.records = nil
	r.byKey = make(map[recordKey]*record)
	return records
}

func (r *registry) all() []*record {
	return r.records
}

func (r *registry) len() int {
	return len(r.records)
}
