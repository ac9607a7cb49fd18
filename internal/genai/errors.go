package genai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
)

// ErrOverloaded marks provider-side saturation. Callers that see it wrapped
// in another error can still detect it with errors.Is.
var ErrOverloaded = errors.New("model overloaded")

// overloadMarkers are substrings that indicate provider saturation when the
// error does not carry a usable HTTP status.
var overloadMarkers = []string{
	"overloaded",
	"rate limit",
	"quota",
	"capacity",
	"unavailable",
	"429",
	"503",
}

// IsOverloaded reports whether err indicates the model is saturated and the
// same request is worth retrying or diverting to the fallback model.
// Context cancellation is never treated as overload.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrOverloaded) {
		return true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range overloadMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
