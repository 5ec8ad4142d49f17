package model

import "encoding/json"

// Secret is the logical view of one stored secret: an opaque JSON value
// addressed by key inside a project scope. The JSON tags match the row shape
// returned by the search endpoint.
type Secret struct {
	Key     string          `json:"secret_key"`
	Project string          `json:"project_key"`
	Value   json.RawMessage `json:"secret_value"`
}
