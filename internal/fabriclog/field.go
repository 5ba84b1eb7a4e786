package fabriclog

import "go.uber.org/zap"

// Field is a structured log field wrapping a zap.Field, matching the
// teacher's utils.Field constructors (String, Int, Err, ...).
type Field struct{ z zap.Field }

func String(key, val string) Field   { return Field{zap.String(key, val)} }
func Int(key string, val int) Field  { return Field{zap.Int(key, val)} }
func Uint32(key string, val uint32) Field { return Field{zap.Uint32(key, val)} }
func Uint64(key string, val uint64) Field { return Field{zap.Uint64(key, val)} }
func Bool(key string, val bool) Field { return Field{zap.Bool(key, val)} }
func Err(err error) Field            { return Field{zap.Error(err)} }
func Duration(key string, nanos int64) Field {
	return Field{zap.Int64(key, nanos)}
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = f.z
	}
	return out
}
