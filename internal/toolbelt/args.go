package toolbelt

import (
	"errors"
	"fmt"
	"strconv"
)

// argumentError marks a mismatch between the decision's argument map and
// an operation's expected parameters. It is recovered into the
// InvalidArguments envelope rather than failing the agent loop.
type argumentError struct {
	msg string
}

func (e *argumentError) Error() string { return e.msg }

func argErrorf(format string, a ...any) error {
	return &argumentError{msg: fmt.Sprintf(format, a...)}
}

func asArgumentError(err error, target **argumentError) bool {
	return errors.As(err, target)
}

// stringArg fetches a required string argument. Numeric values are
// formatted rather than rejected; models routinely send numbers where
// strings are expected.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", argErrorf("missing required argument %q", key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", argErrorf("argument %q must be a string, got %T", key, v)
	}
}

// intArg fetches a required integer argument. JSON numbers arrive as
// float64; digit strings are accepted because models quote numbers
// unpredictably.
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, argErrorf("missing required argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, argErrorf("argument %q must be an integer, got %v", key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, argErrorf("argument %q must be an integer, got %q", key, n)
		}
		return parsed, nil
	default:
		return 0, argErrorf("argument %q must be an integer, got %T", key, v)
	}
}
