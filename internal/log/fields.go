package log

import "time"

// Field names shared by the HTTP layer and the binaries.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldUserID        = "user_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldAmountCents   = "amount_cents"
)

// Component names, one per binary or layer that owns a logger.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentRecurring = "recurring"
	ComponentWorker    = "worker"
	ComponentSeed      = "seed"
)

const OpShutdown = "shutdown"

// LogFields accumulates key/value pairs for one log line.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

// WithHTTPRequest records the request line; empty query and user agent are omitted.
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, elapsed time.Duration) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = elapsed.Milliseconds()
	f[FieldDurationHuman] = elapsed.String()
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	if ip != "" {
		f[FieldClientIP] = ip
	}
	return f
}

// ToSlice flattens the fields into slog's alternating key/value form.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
