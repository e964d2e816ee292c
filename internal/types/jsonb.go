package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*ChannelList)(nil)
	_ driver.Valuer = ChannelList(nil)
	_ sql.Scanner   = (*RoutingConditions)(nil)
	_ driver.Valuer = RoutingConditions{}
	_ sql.Scanner   = (*TransformSpec)(nil)
	_ driver.Valuer = (*TransformSpec)(nil)
	_ sql.Scanner   = (*MessageContent)(nil)
	_ driver.Valuer = MessageContent{}
	_ sql.Scanner   = (*MessageStatus)(nil)
	_ driver.Valuer = MessageStatus{}
)

// scanJSONB scans a JSON column value into dest. It handles nil values, []byte,
// and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSON-encoded driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// database/sql drivers such as sqlite store []byte as BLOB; a string keeps
	// the column readable as TEXT. pgx accepts both for jsonb.
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (cl *ChannelList) Scan(value interface{}) error {
	if value == nil {
		*cl = nil
		return nil
	}
	return scanJSONB(cl, value)
}

// Value implements the driver.Valuer interface.
func (cl ChannelList) Value() (driver.Value, error) {
	if cl == nil {
		return "[]", nil
	}
	return valueJSONB([]ChannelEntry(cl))
}

// Scan implements the sql.Scanner interface.
func (rc *RoutingConditions) Scan(value interface{}) error {
	return scanJSONB(rc, value)
}

// Value implements the driver.Valuer interface.
func (rc RoutingConditions) Value() (driver.Value, error) {
	return valueJSONB(rc)
}

// Scan implements the sql.Scanner interface.
func (ts *TransformSpec) Scan(value interface{}) error {
	return scanJSONB(ts, value)
}

// Value implements the driver.Valuer interface. A nil spec is stored as NULL.
func (ts *TransformSpec) Value() (driver.Value, error) {
	if ts == nil {
		return nil, nil
	}
	return valueJSONB(*ts)
}

// Scan implements the sql.Scanner interface.
func (mc *MessageContent) Scan(value interface{}) error {
	return scanJSONB(mc, value)
}

// Value implements the driver.Valuer interface.
func (mc MessageContent) Value() (driver.Value, error) {
	return valueJSONB(mc)
}

// Scan implements the sql.Scanner interface.
func (ms *MessageStatus) Scan(value interface{}) error {
	return scanJSONB(ms, value)
}

// Value implements the driver.Valuer interface.
func (ms MessageStatus) Value() (driver.Value, error) {
	return valueJSONB(ms)
}
