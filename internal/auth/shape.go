package auth

import (
	"encoding/json"
	"strings"
)

// tokenFields are the accepted names of the token field, in priority order.
var tokenFields = []string{"token", "access_token", "auth_token"}

type loginShapeKind int

const (
	shapeUnrecognised loginShapeKind = iota
	shapeTokenBacked
	shapeMessageOnly
)

// loginShape is the resolved form of a login response.
type loginShape struct {
	kind     loginShapeKind
	token    string
	username string
	message  string
	err      string
}

// matchLogin resolves a login response through an ordered match list:
// a token plus a username, then a bare success message with no error
// field, then nothing.
func matchLogin(raw json.RawMessage, requestUsername string) loginShape {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return loginShape{kind: shapeUnrecognised}
	}

	token := ""
	for _, name := range tokenFields {
		if s := stringField(fields, name); s != "" {
			token = s
			break
		}
	}
	username := stringField(fields, "username")
	if username == "" {
		username = strings.TrimSpace(requestUsername)
	}
	message := stringField(fields, "message")
	hasError := fields["error"] != nil && fields["error"] != ""

	switch {
	case token != "" && username != "":
		return loginShape{kind: shapeTokenBacked, token: token, username: username}
	// A success message alone; any error field, or nobody to log in as,
	// means the login did not happen.
	case token == "" && message != "" && !hasError && username != "":
		return loginShape{kind: shapeMessageOnly, username: username, message: message}
	default:
		return loginShape{kind: shapeUnrecognised, message: message, err: stringField(fields, "error")}
	}
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}
