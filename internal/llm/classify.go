package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// Classify marks provider errors that retrying cannot fix as permanent. Timeouts, connection
// failures, HTTP 408/409/429 and 5xx stay retryable, as does anything unrecognized.
func Classify(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		return NewPermanentError(err)
	}
	if code, ok := statusCode(err); ok && !retryableStatus(code) {
		return NewPermanentError(err)
	}
	return err
}

func statusCode(err error) (int, bool) {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	// genai returns APIError by value.
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	var gp *genai.APIError
	if errors.As(err, &gp) && gp != nil {
		return gp.Code, true
	}
	return 0, false
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}
