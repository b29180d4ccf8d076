package dialectic

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// messageContent is the JSONB payload of one dialectic_messages row.
type messageContent struct {
	Reasoning          string             `json:"reasoning"`
	ProposedConditions []string           `json:"proposed_conditions"`
	RootCause          string             `json:"root_cause"`
	ObservedMetrics    map[string]float64 `json:"observed_metrics"`
	Agrees             *bool              `json:"agrees"`
}

// Value implements driver.Valuer so pgx can write this as jsonb.
func (c messageContent) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner so pgx can read jsonb into this type.
func (c *messageContent) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("dialectic: cannot scan %T into messageContent", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}
