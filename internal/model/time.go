package model

import (
	"strconv"
	"time"
)

// localTimeLayout drops the timezone suffix of RFC 3339; registry
// timestamps are shown in server-local time.
const localTimeLayout = "2006-01-02 15:04:05"

// LocalTime renders registry timestamps as "2006-01-02 15:04:05" in API
// responses.
type LocalTime time.Time

// MarshalJSON implements json.Marshaler.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Time(t).Format(localTimeLayout))), nil
}

// String returns the formatted timestamp.
func (t LocalTime) String() string {
	return time.Time(t).Format(localTimeLayout)
}
