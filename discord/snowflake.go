package discord

import (
	"strconv"

	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
)

// Snowflake represents a discord ID. It is sent as a string on the wire.
type Snowflake int64

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = 0

		return nil
	}

	var str string

	if b[0] == '"' {
		if err := sandwichjson.Unmarshal(b, &str); err != nil {
			return err
		}
	} else {
		str = string(b)
	}

	value, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return err
	}

	*s = Snowflake(value)

	return nil
}
