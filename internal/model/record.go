package model

import "encoding/json"

// recordFields are the top-level keys the resolver handles explicitly.
// Every other key on an incoming record is passed through verbatim.
var recordFields = map[string]bool{
	"email":        true,
	"cookie":       true,
	"interests":    true,
	"demographics": true,
	"location":     true,
}

// IngestRecord is one raw observation delivered by the ingest boundary.
// Email and cookie are the only identity keys; a record carrying neither is
// rejected by the resolver. Interests stay untyped here because upstream
// payloads occasionally carry non-string entries, which the normalizer
// silently discards.
type IngestRecord struct {
	Email        string         `json:"email,omitempty"`
	Cookie       string         `json:"cookie,omitempty"`
	Interests    []any          `json:"interests,omitempty"`
	Demographics *Demographics  `json:"demographics,omitempty"`
	Location     *Location      `json:"location,omitempty"`
	Extra        map[string]any `json:"-"`
}

// HasIdentityKey reports whether the record can resolve to an identity at all.
func (r *IngestRecord) HasIdentityKey() bool {
	return r.Email != "" || r.Cookie != ""
}

// UnmarshalJSON decodes the known fields and routes every unrecognized
// top-level key into Extra, preserving it for verbatim passthrough.
func (r *IngestRecord) UnmarshalJSON(data []byte) error {
	type alias IngestRecord
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if recordFields[k] {
			delete(raw, k)
		}
	}

	*r = IngestRecord(known)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON re-inlines Extra so a round-tripped record matches the raw
// payload the ingest boundary logged.
func (r IngestRecord) MarshalJSON() ([]byte, error) {
	type alias IngestRecord
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}
