package gateway

import (
	"encoding/json"
	"fmt"
)

// Long is a 64-bit integer scalar. Monetary amounts are minor units, which
// overflow GraphQL's 32-bit Int; clients send and receive them as JSON
// numbers or numeric strings.
type Long int64

// ImplementsGraphQLType names the scalar in the schema.
func (Long) ImplementsGraphQLType(name string) bool { return name == "Long" }

// UnmarshalGraphQL decodes a Long from a literal or variable.
func (l *Long) UnmarshalGraphQL(input interface{}) error {
	switch v := input.(type) {
	case int32:
		*l = Long(v)
	case int64:
		*l = Long(v)
	case int:
		*l = Long(v)
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("Long must be integral, got %v", v)
		}
		*l = Long(int64(v))
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return fmt.Errorf("invalid Long %q", v)
		}
		*l = Long(n)
	default:
		return fmt.Errorf("cannot decode %T as Long", input)
	}
	return nil
}

// MarshalJSON renders the Long as a JSON number.
func (l Long) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(l))
}
