package wager

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// The per-participant maps and the participant list are persisted as JSON
// text columns, keyed by player name.

type StringList []string

type IntMap map[string]int64

type TimeMap map[string]time.Time

type BoolMap map[string]bool

type StrMap map[string]string

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(dst any, src any) error {
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(s, dst)
	case string:
		return json.Unmarshal([]byte(s), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return jsonValue(l)
}

func (l *StringList) Scan(src any) error { return jsonScan(l, src) }

func (m IntMap) Value() (driver.Value, error) {
	if m == nil {
		m = IntMap{}
	}
	return jsonValue(m)
}

func (m *IntMap) Scan(src any) error { return jsonScan(m, src) }

func (m TimeMap) Value() (driver.Value, error) {
	if m == nil {
		m = TimeMap{}
	}
	return jsonValue(m)
}

func (m *TimeMap) Scan(src any) error { return jsonScan(m, src) }

func (m BoolMap) Value() (driver.Value, error) {
	if m == nil {
		m = BoolMap{}
	}
	return jsonValue(m)
}

func (m *BoolMap) Scan(src any) error { return jsonScan(m, src) }

func (m StrMap) Value() (driver.Value, error) {
	if m == nil {
		m = StrMap{}
	}
	return jsonValue(m)
}

func (m *StrMap) Scan(src any) error { return jsonScan(m, src) }
