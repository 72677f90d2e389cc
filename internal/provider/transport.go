package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"shotforge/internal/domain"
)

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d from %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// ClassifyTransport maps an error raised while talking to a provider onto the
// error taxonomy. Errors that are already classified pass through.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewError(domain.KindCanceled, op, err)
	case isUnreachable(err):
		return domain.NewError(domain.KindTransportFatal, op, err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode == http.StatusRequestTimeout {
			return domain.NewError(domain.KindTransportTransient, op, err)
		}
		return domain.NewError(domain.KindProvider, op, err)
	}
	return domain.NewError(domain.KindTransportTransient, op, err)
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "no such host", "network is unreachable", "no route to host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
