package notifications

import (
	"context"
	"errors"

	"order-messaging-automation/internal/domain/transport"
	"order-messaging-automation/internal/infra/resilience"
)

// transportSender adapts a transport.ChatTransport into a MessageSender,
// routing every delivery attempt through the Network-Resilience Wrapper's
// "transport-send" family and classifying the outcome into SendOutcome.
type transportSender struct {
	transport  transport.ChatTransport
	resilience *resilience.Wrapper
}

// NewTransportSender wraps transport with retry/backoff/circuit-breaking via wrapper.
func NewTransportSender(t transport.ChatTransport, wrapper *resilience.Wrapper) MessageSender {
	return &transportSender{transport: t, resilience: wrapper}
}

func (s *transportSender) Deliver(ctx context.Context, job Job) (SendOutcome, error) {
	if !s.transport.IsOnline() {
		return SendOutcome{NetworkDown: true}, nil
	}

	err := s.resilience.Do(ctx, resilience.FamilyTransportSend, func() error {
		return s.transport.Send(ctx, job.Phone, job.Text)
	})
	if err == nil {
		return SendOutcome{}, nil
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return SendOutcome{NetworkDown: true}, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SendOutcome{}, err
	}

	var stopper resilience.StopRetryer
	if errors.As(err, &stopper) && stopper.StopRetry() {
		return SendOutcome{PermanentFailure: true, PermanentError: err}, nil
	}

	return SendOutcome{Retry: true}, nil
}
