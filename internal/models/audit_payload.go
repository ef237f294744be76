package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// AuditPayload is the free-form body stored with a payment audit row
// (gateway callback, failure context). It maps to a JSONB column.
type AuditPayload map[string]interface{}

// Value encodes the payload as a JSON string so it also binds under the
// pgx simple protocol used behind transaction poolers
func (p AuditPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return string(data), nil
}

// Scan decodes a JSONB column read back as bytes or text
func (p *AuditPayload) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AuditPayload", value)
	}
	if len(data) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(data, p)
}
