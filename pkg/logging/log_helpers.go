package logging

import "fmt"

// WrapAndLog wraps err with message, logs the result at error level with the
// given key/value pairs, and returns the wrapped error. A nil err is a no-op.
// This mirrors errors.WrapAndLog but lives here too so packages that only
// depend on logging (and not on pkg/errors) have the same convenience.
func WrapAndLog(err error, message string, kv ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", message, err)
	event := Error().Err(wrapped)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	event.Msg(message)
	return wrapped
}
