package rules

import (
	"context"
	"encoding/json"
	"reflect"
)

func decodePayload(ev *Event) (map[string]interface{}, bool) {
	if ev.Message == nil || ev.Message.Payload == "" {
		return nil, false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(ev.Message.Payload), &payload); err != nil {
		// Malformed payloads fail closed, they are not dispatch errors.
		return nil, false
	}
	return payload, true
}

type payloadExactRule struct {
	want map[string]interface{}
}

// PayloadExact matches when the decoded keyboard payload equals want.
func PayloadExact(want map[string]interface{}) Rule {
	return &payloadExactRule{want: want}
}

func (r *payloadExactRule) Check(_ context.Context, ev *Event) Result {
	payload, ok := decodePayload(ev)
	if !ok || !reflect.DeepEqual(payload, r.want) {
		return NoMatch()
	}
	return Match()
}

type payloadContainsRule struct {
	want map[string]interface{}
}

// PayloadContains matches when every key/value pair of want is present in
// the decoded keyboard payload. The full payload is contributed as
// extracted data under "payload".
func PayloadContains(want map[string]interface{}) Rule {
	return &payloadContainsRule{want: want}
}

func (r *payloadContainsRule) Check(_ context.Context, ev *Event) Result {
	payload, ok := decodePayload(ev)
	if !ok {
		return NoMatch()
	}
	for k, v := range r.want {
		got, present := payload[k]
		if !present || !reflect.DeepEqual(got, v) {
			return NoMatch()
		}
	}
	return MatchWith(map[string]interface{}{"payload": payload})
}

// SchemaValidator validates a decoded payload against a JSON schema. The
// concrete implementation lives in internal/schema and caches compiled
// schemas.
type SchemaValidator interface {
	Validate(ctx context.Context, schema map[string]interface{}, value map[string]interface{}) error
}

type payloadSchemaRule struct {
	validator SchemaValidator
	schema    map[string]interface{}
}

// PayloadSchema matches when the decoded keyboard payload validates against
// schema. The payload is contributed as extracted data under "payload".
func PayloadSchema(validator SchemaValidator, schema map[string]interface{}) Rule {
	return &payloadSchemaRule{validator: validator, schema: schema}
}

func (r *payloadSchemaRule) Check(ctx context.Context, ev *Event) Result {
	payload, ok := decodePayload(ev)
	if !ok {
		return NoMatch()
	}
	if err := r.validator.Validate(ctx, r.schema, payload); err != nil {
		return NoMatch()
	}
	return MatchWith(map[string]interface{}{"payload": payload})
}
