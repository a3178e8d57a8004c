// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// OALocation describes where an open-access copy of a resource can be
// found. Only URLForPDF is consulted by the pipeline, and it is the only
// field of the location that is kept; the pointer distinguishes an absent
// field from an explicit JSON null, both of which cause the catalog
// reader to skip the line.
type OALocation struct {
	URLForPDF *string `json:"url_for_pdf"`
}

// knownEntryFields lists the JSON keys Entry owns directly. Anything else
// found on an incoming catalog line is treated as an opaque extra field
// and preserved verbatim through Entry's custom (Un)MarshalJSON.
var knownEntryFields = map[string]struct{}{
	"id":               {},
	"doi":              {},
	"pmcid":            {},
	"pmid":             {},
	"best_oa_location": {},
}

// Entry is one OA resource record: id is a fresh UUID assigned at
// enqueue time, doi is the primary external key, pmcid and pmid are
// PMC-only optional identifiers, and Extra preserves any additional
// top-level catalog fields the source line carried so that they survive
// round-tripping through Entries and dump. Fields nested inside
// best_oa_location other than url_for_pdf are not preserved.
type Entry struct {
	ID              string                     `json:"id"`
	DOI             string                     `json:"doi"`
	PMCID           string                     `json:"pmcid,omitempty"`
	PMID            string                     `json:"pmid,omitempty"`
	BestOALocation  *OALocation                `json:"best_oa_location,omitempty"`
	Extra           map[string]json.RawMessage `json:"-"`
}

// URLForPDF returns the configured download URL, or "" if none is set.
func (e *Entry) URLForPDF() string {
	if e.BestOALocation == nil || e.BestOALocation.URLForPDF == nil {
		return ""
	}
	return *e.BestOALocation.URLForPDF
}

// MarshalJSON emits the known fields alongside any opaque extra fields
// captured at unmarshal time, so Entry round-trips through Entries/dump
// without dropping top-level catalog fields it doesn't otherwise
// understand.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+5)
	for k, v := range e.Extra {
		out[k] = v
	}

	type known struct {
		ID             string      `json:"id"`
		DOI            string      `json:"doi"`
		PMCID          string      `json:"pmcid,omitempty"`
		PMID           string      `json:"pmid,omitempty"`
		BestOALocation *OALocation `json:"best_oa_location,omitempty"`
	}
	kb, err := json.Marshal(known{e.ID, e.DOI, e.PMCID, e.PMID, e.BestOALocation})
	if err != nil {
		return nil, err
	}
	var kf map[string]json.RawMessage
	if err := json.Unmarshal(kb, &kf); err != nil {
		return nil, err
	}
	for k, v := range kf {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the known fields and stashes everything else in
// Extra, so arbitrary catalog columns survive unchanged.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["id"]; ok {
		json.Unmarshal(v, &e.ID)
	}
	if v, ok := raw["doi"]; ok {
		json.Unmarshal(v, &e.DOI)
	}
	if v, ok := raw["pmcid"]; ok {
		json.Unmarshal(v, &e.PMCID)
	}
	if v, ok := raw["pmid"]; ok {
		json.Unmarshal(v, &e.PMID)
	}
	if v, ok := raw["best_oa_location"]; ok && string(v) != "null" {
		var loc OALocation
		if err := json.Unmarshal(v, &loc); err != nil {
			return err
		}
		e.BestOALocation = &loc
	}

	e.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, known := knownEntryFields[k]; !known {
			e.Extra[k] = v
		}
	}
	return nil
}
