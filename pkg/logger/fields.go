package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field type alias for convenience.
type Field = zap.Field

func String(key string, val string) Field  { return zap.String(key, val) }
func Strings(key string, val []string) Field { return zap.Strings(key, val) }
func Int(key string, val int) Field         { return zap.Int(key, val) }
func Int64(key string, val int64) Field     { return zap.Int64(key, val) }
func Bool(key string, val bool) Field       { return zap.Bool(key, val) }
func Time(key string, val time.Time) Field  { return zap.Time(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Error(err error) Field                 { return zap.Error(err) }
func NamedError(key string, err error) Field { return zap.NamedError(key, err) }
func Any(key string, val interface{}) Field { return zap.Any(key, val) }
func Stringer(key string, val fmt.Stringer) Field { return zap.Stringer(key, val) }
func Object(key string, val zapcore.ObjectMarshaler) Field { return zap.Object(key, val) }

// HTTP/request related fields.

func RequestID(id string) Field  { return String("request_id", id) }
func Method(method string) Field { return String("method", method) }
func Path(path string) Field     { return String("path", path) }
func Query(q string) Field       { return String("query", q) }
func StatusCode(code int) Field  { return Int("status_code", code) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
func ClientIP(ip string) Field   { return String("client_ip", ip) }
func UserAgent(ua string) Field  { return String("user_agent", ua) }
func TraceID(id string) Field    { return String("trace_id", id) }
func SpanID(id string) Field     { return String("span_id", id) }

func Component(name string) Field { return String("component", name) }
func Operation(name string) Field { return String("operation", name) }

// Git-domain fields.

func Producer(id string) Field    { return String("producer", id) }
func Env(name string) Field       { return String("env", name) }
func Branch(name string) Field    { return String("branch", name) }
func Revision(hex string) Field   { return String("revision", hex) }
func FilePath(path string) Field  { return String("file_path", path) }
