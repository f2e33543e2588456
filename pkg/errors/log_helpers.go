package errors

import "github.com/chunkwise/uploadengine/pkg/logging"

// WrapAndLog wraps err with message, logs it at error level with the given
// key/value pairs, and returns the wrapped error. A nil err is a no-op.
func WrapAndLog(err error, message string, kv ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, message)
	logWithFields(wrapped, kv...)
	return wrapped
}

// WrapfAndLog is WrapAndLog with a formatted message.
func WrapfAndLog(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := Wrapf(err, format, args...)
	logWithFields(wrapped)
	return wrapped
}

// LogAndReturn logs err at error level with the given key/value pairs and
// returns it unchanged. Use this at the point an error is first observed,
// before propagating it up through Wrap calls.
func LogAndReturn(err error, message string, kv ...interface{}) error {
	if err == nil {
		return nil
	}
	event := logging.Error().Err(err)
	event = applyFields(event, kv...)
	event.Msg(message)
	return err
}

func logWithFields(err error, kv ...interface{}) {
	event := logging.Error().Err(err)
	event = applyFields(event, kv...)
	event.Msg(err.Error())
}

func applyFields(event logging.Event, kv ...interface{}) logging.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	return event
}
