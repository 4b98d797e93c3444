package layering

import "sort"

// Draft stages record writes against one layer. Reads through the draft see
// the staged fields; nothing reaches the layer until Commit. Discarding a
// draft leaves the stack untouched.
type Draft struct {
	stack   *Stack
	target  *layer
	pending map[string]Record
	// written holds the fields passed to Merge, without the seeded copy.
	written map[string]Record
	closed  bool
}

// Begin opens a draft targeting layerID (BaseLayerID for the base layer).
func (s *Stack) Begin(layerID string) (*Draft, error) {
	target, err := s.layer(layerID)
	if err != nil {
		return nil, err
	}
	return &Draft{
		stack:   s,
		target:  target,
		pending: map[string]Record{},
		written: map[string]Record{},
	}, nil
}

// LayerID returns the id of the targeted layer.
func (d *Draft) LayerID() string {
	return d.target.id
}

// Resolve returns the record visible through the draft.
func (d *Draft) Resolve(entityID string, optimistic bool) (Record, bool) {
	return d.stack.resolve(entityID, optimistic, d)
}

// Merge overwrites fields of entityID field by field. Nested values are
// replaced wholesale, never deep merged. An optimistic layer that does not
// hold the entity yet starts from the record visible beneath it, so the
// layer always holds whole entities. The layer also remembers which fields
// it wrote so it can be rebuilt when a layer beneath it goes away.
func (d *Draft) Merge(entityID string, fields Record) {
	staged, ok := d.pending[entityID]
	if !ok {
		staged = make(Record, len(fields))
		if _, held := d.target.records[entityID]; !held {
			if beneath, found := d.stack.beneath(d.target, entityID); found {
				for key, value := range beneath {
					staged[key] = value
				}
			}
		}
		d.pending[entityID] = staged
	}
	own, ok := d.written[entityID]
	if !ok {
		own = make(Record, len(fields))
		d.written[entityID] = own
	}
	for key, value := range fields {
		staged[key] = value
		own[key] = value
	}
}

// Touched returns the sorted ids staged in the draft.
func (d *Draft) Touched() []string {
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commit applies the staged fields to the target layer and closes the
// draft. It returns the ids that received writes.
func (d *Draft) Commit() []string {
	if d.closed {
		return nil
	}
	d.closed = true
	touched := d.Touched()
	optimistic := d.target != d.stack.base
	for _, id := range touched {
		fields := d.pending[id]
		if optimistic {
			d.target.writes[id] = overlay(d.target.writes[id], d.written[id])
		}
		existing, ok := d.target.records[id]
		if !ok {
			d.target.records[id] = fields
			continue
		}
		// Copy before writing so records handed out earlier stay stable.
		d.target.records[id] = overlay(existing, fields)
	}
	d.pending = nil
	d.written = nil
	return touched
}

// Discard drops the staged writes.
func (d *Draft) Discard() {
	d.closed = true
	d.pending = nil
	d.written = nil
}

// Attached reports whether the targeted layer is still on the stack. A
// Reset or a Pop of the target detaches the draft; committing a detached
// draft reaches nothing visible.
func (d *Draft) Attached() bool {
	return d.stack.attached(d.target)
}

// Abandon discards the draft and removes its optimistic target layer when
// that layer is still on the stack. The base layer is never removed.
func (d *Draft) Abandon() {
	d.Discard()
	if d.target == d.stack.base {
		return
	}
	if idx := d.stack.indexOf(d.target); idx >= 0 {
		d.stack.removeAt(idx)
	}
}

// Closed reports whether Commit or Discard already ran.
func (d *Draft) Closed() bool {
	return d.closed
}
