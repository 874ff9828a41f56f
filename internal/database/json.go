package database

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON holds a raw JSON document that may be a bare scalar, like the
// parameters of the Sum score type. It is stored as text on SQLite so a
// number keeps its text form; Scan still accepts numbers for columns
// created with numeric affinity.
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSON(nil), v...)
	case string:
		*j = JSON(v)
	case int64:
		*j = strconv.AppendInt(nil, v, 10)
	case float64:
		*j = strconv.AppendFloat(nil, v, 'g', -1, 64)
	case bool:
		*j = strconv.AppendBool(nil, v)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", value)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(b []byte) error {
	*j = append(JSON(nil), b...)
	return nil
}

func (JSON) GormDataType() string {
	return "json"
}

func (JSON) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "TEXT"
}
