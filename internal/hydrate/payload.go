package hydrate

import "strings"

// Payload is a transport response: the result data plus any errors the
// server reported alongside it.
type Payload struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

// HasErrors reports whether the server returned errors.
func (p Payload) HasErrors() bool {
	return len(p.Errors) > 0
}

// ErrorMessages returns the message of each reported error.
func (p Payload) ErrorMessages() []string {
	out := make([]string, 0, len(p.Errors))
	for _, entry := range p.Errors {
		if msg, ok := entry["message"].(string); ok && strings.TrimSpace(msg) != "" {
			out = append(out, msg)
		}
	}
	return out
}

// NewPayloadDecoder returns a Decoder for transport payloads. Numbers are
// kept as json.Number so ids and large integers survive unchanged.
func NewPayloadDecoder(opts ...DecoderOption[Payload]) *Decoder[Payload] {
	all := append([]DecoderOption[Payload]{WithUseNumber[Payload]()}, opts...)
	return NewDecoder[Payload](all...)
}
