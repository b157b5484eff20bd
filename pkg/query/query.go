package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryType is the mongo shell method a logged query stands for.
type QueryType string

const (
	FindOne   QueryType = "findOne"
	UpdateOne QueryType = "updateOne"
)

// maxLogLength bounds rendered queries; JWKS documents can carry several 4096-bit moduli.
const maxLogLength = 2048

// Render renders a mongo shell statement such as
// db.jwks_state.updateOne({'_id':'jwks'}, {'$set':{...}}) for dependency logs.
func Render(collection string, queryType QueryType, args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Sprintf("db.%s.%s(...)", collection, queryType)
		}
		parts = append(parts, shellFormat(string(b)))
	}
	return Truncate(fmt.Sprintf("db.%s.%s(%s)", collection, queryType, strings.Join(parts, ", ")), maxLogLength)
}

func Find(collection string, filter any) string {
	return Render(collection, FindOne, filter)
}

func Update(collection string, filter, update any, opts ...any) string {
	return Render(collection, UpdateOne, append([]any{filter, update}, opts...)...)
}

// shellFormat swaps JSON double quotes for the single quotes the mongo shell prints.
func shellFormat(jsonStr string) string {
	result := strings.ReplaceAll(jsonStr, `"`, `'`)
	result = strings.ReplaceAll(result, `\'`, `'`)
	return strings.ReplaceAll(result, `\\`, `\`)
}

func Truncate(query string, maxLength int) string {
	if len(query) <= maxLength {
		return query
	}
	return query[:maxLength-3] + "..."
}
