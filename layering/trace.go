package layering

// Provenance describes what one layer holds for an entity.
type Provenance struct {
	LayerID string `json:"layer_id"`
	Base    bool   `json:"base"`
	Found   bool   `json:"found"`
	Visible bool   `json:"visible"`
	Fields  Record `json:"fields,omitempty"`
}

// Trace lists every layer's contribution for entityID from strongest to
// weakest. Exactly one entry is Visible when any layer defines the entity.
func (s *Stack) Trace(entityID string) []Provenance {
	out := make([]Provenance, 0, len(s.optimistic)+1)
	visible := false
	add := func(l *layer, base bool) {
		record, ok := l.records[entityID]
		entry := Provenance{LayerID: l.id, Base: base, Found: ok}
		if ok {
			entry.Fields = record.Clone()
			if !visible {
				entry.Visible = true
				visible = true
			}
		}
		out = append(out, entry)
	}
	for i := len(s.optimistic) - 1; i >= 0; i-- {
		add(s.optimistic[i], false)
	}
	add(s.base, true)
	return out
}
