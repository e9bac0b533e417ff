package requestqueue

import (
	"encoding/json"
	"time"
)

// Request is a crawl target. Its JSON representation is the exact object a
// caller submitted, with id added; any top-level field this type does not
// know about is preserved verbatim in Extra so round-trips never lose data
// (spec.md §6, "Request JSON").
type Request struct {
	ID         string          `json:"-"`
	URL        string          `json:"-"`
	UniqueKey  string          `json:"-"`
	Method     string          `json:"-"`
	RetryCount int             `json:"-"`
	HandledAt  *time.Time      `json:"-"`
	UserData   json.RawMessage `json:"-"`

	// Extra carries any additional top-level fields supplied by the
	// caller that this package does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsHandled reports whether the request carries a handledAt timestamp.
func (r *Request) IsHandled() bool { return r.HandledAt != nil }

func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+7)
	for k, v := range r.Extra {
		out[k] = v
	}

	set := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}

	if r.ID != "" {
		if err := set("id", r.ID); err != nil {
			return nil, err
		}
	}
	if err := set("url", r.URL); err != nil {
		return nil, err
	}
	if err := set("uniqueKey", r.UniqueKey); err != nil {
		return nil, err
	}
	if err := set("method", r.Method); err != nil {
		return nil, err
	}
	if err := set("retryCount", r.RetryCount); err != nil {
		return nil, err
	}
	if r.HandledAt != nil {
		if err := set("handledAt", r.HandledAt); err != nil {
			return nil, err
		}
	}
	if len(r.UserData) > 0 {
		out["userData"] = r.UserData
	}

	return json.Marshal(out)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		return json.Unmarshal(v, dst)
	}

	if err := take("id", &r.ID); err != nil {
		return err
	}
	if err := take("url", &r.URL); err != nil {
		return err
	}
	if err := take("uniqueKey", &r.UniqueKey); err != nil {
		return err
	}
	if err := take("method", &r.Method); err != nil {
		return err
	}
	if err := take("retryCount", &r.RetryCount); err != nil {
		return err
	}
	if v, ok := raw["handledAt"]; ok {
		delete(raw, "handledAt")
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		r.HandledAt = &t
	}
	if v, ok := raw["userData"]; ok {
		delete(raw, "userData")
		r.UserData = v
	}

	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}
