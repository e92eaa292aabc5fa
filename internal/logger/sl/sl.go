package sl

import (
	"fmt"
	"log/slog"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

// Secret keeps only the first 3 characters of value, used for phone numbers
// and credentials in logs.
func Secret(key, value string) slog.Attr {
	r := "***"
	if runes := []rune(value); len(runes) > 3 {
		r = fmt.Sprintf("%s***", string(runes[:3]))
	}
	if value == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(r),
	}
}
