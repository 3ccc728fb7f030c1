package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits,
	// server errors and dropped connections.
	ErrTransient = errors.New("transient backend failure")
	// ErrFatal marks failures that will not succeed on retry.
	ErrFatal = errors.New("fatal backend failure")
	// ErrNotConfigured is returned when a request names a provider that has
	// no credentials or endpoint configured.
	ErrNotConfigured = errors.New("provider not configured")
)

// StatusError is a non-2xx response from an HTTP backend without its own SDK.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status of a provider error, or 0.
func StatusCode(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var anth *anthropic.Error
	if errors.As(err, &anth) {
		return anth.StatusCode
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Classify wraps err with ErrTransient or ErrFatal. Errors that are already
// classified and caller cancellations are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransient), errors.Is(err, ErrFatal):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrNotConfigured):
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	if code := StatusCode(err); code != 0 {
		if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

func IsTransient(err error) bool {
	return errors.Is(Classify(err), ErrTransient)
}
