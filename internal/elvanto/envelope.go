package elvanto

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"

	"elvcal/internal/model"
)

// envelope is the decoded outer shape of a getAll response:
//
//	{"status": "ok", "events": {"total": 3, "page": 1, ..., "event": [...]}}
type envelope struct {
	Status       string
	APIError     json.RawMessage
	TopLevelKeys []string
	WrapperKeys  []string
	Pagination   *model.Pagination
	Records      []json.RawMessage
}

var errNotObject = errors.New("response is not a JSON object")

// parseEnvelope extracts records from body[resource][singular]. When the
// singular key is absent and body[resource] is itself an array, that array
// is used. Any other shape yields no records and no error.
func parseEnvelope(body []byte, resource, singular string) (envelope, error) {
	var env envelope

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return env, errors.Join(errNotObject, err)
	}
	if top == nil {
		return env, errNotObject
	}
	env.TopLevelKeys = sortedKeys(top)

	if raw, ok := top["status"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			env.Status = s
		}
	}
	if raw, ok := top["error"]; ok && !isNull(raw) {
		env.APIError = raw
	}

	raw, ok := top[resource]
	if !ok {
		return env, nil
	}
	raw = bytes.TrimSpace(raw)

	switch {
	case isArray(raw):
		_ = json.Unmarshal(raw, &env.Records)
	case isObject(raw):
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return env, nil
		}
		env.WrapperKeys = sortedKeys(wrapper)
		env.Pagination = parsePagination(raw, wrapper)

		inner := bytes.TrimSpace(wrapper[singular])
		switch {
		case isArray(inner):
			_ = json.Unmarshal(inner, &env.Records)
		case isObject(inner):
			// A lone record is sometimes sent without the array.
			env.Records = []json.RawMessage{inner}
		}
	}

	return env, nil
}

func parsePagination(raw json.RawMessage, wrapper map[string]json.RawMessage) *model.Pagination {
	var p struct {
		Total      model.Int `json:"total"`
		Page       model.Int `json:"page"`
		PerPage    model.Int `json:"per_page"`
		OnThisPage model.Int `json:"on_this_page"`
	}
	_ = json.Unmarshal(raw, &p)

	out := &model.Pagination{
		Total:      int(p.Total),
		Page:       int(p.Page),
		PerPage:    int(p.PerPage),
		OnThisPage: int(p.OnThisPage),
	}
	if _, ok := wrapper["page"]; !ok {
		out.Page = 1
	}
	return out
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

func isArray(b []byte) bool {
	return len(b) > 0 && b[0] == '['
}

func isObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}
