package gosocketcluster

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

const maxLoggedMessage = 256

// readLoop is the only reader of the transport. It exits when the session terminates.
func (s *Socket) readLoop() {
	for {
		text, err := s.conn.Receive(s.ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.terminate(ctxErr)
				return
			}
			s.terminate(&TransportError{Op: "receive", Err: err})
			return
		}

		if !s.handleMessage(text) {
			s.terminate(nil)
			return
		}
	}
}

// handleMessage dispatches one inbound frame and reports whether the loop should continue
func (s *Socket) handleMessage(text string) bool {
	if text == PingFrame {
		return s.write(s.ctx, PongFrame) == nil
	}

	env, err := DecodeEnvelope(text)
	if err != nil {
		s.report(text, err)
		return true
	}

	switch env.Kind() {
	case EnvelopeResponse:
		s.handleResponse(env, text)
	case EnvelopeEvent, EnvelopeRequest:
		return s.handleEvent(env, text)
	default:
		s.report(text, ErrMalformed)
	}
	return true
}

func (s *Socket) handleResponse(env *Envelope, text string) {
	result := callResult{data: env.Data}
	if len(env.Error) > 0 {
		result.err = newRemoteError(env.Error)
	}

	if err := s.calls.resolve(*env.RID, result); err != nil {
		s.report(text, err)
	}
}

func (s *Socket) handleEvent(env *Envelope, text string) bool {
	switch env.Event {
	case EventDisconnect:
		s.logger.WithField("data", string(env.Data)).Info("stopping on #disconnect")
		return false

	case EventPublish:
		var pub publication
		if err := json.Unmarshal(env.Data, &pub); err != nil || pub.Channel == "" {
			s.report(text, ErrMalformed)
			return true
		}
		if err := s.subs.publish(pub.Channel, env.Data); err != nil {
			s.report(text, err)
		}

	case EventSetAuthToken:
		var push authTokenPush
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &push); err != nil {
				s.report(text, ErrMalformed)
				return true
			}
		}
		first := s.auth.setToken(push.Token)
		s.logger.WithField("first", first).Info("authentication token set")

	case EventRemoveAuthToken:
		s.auth.removeToken()
		s.logger.Info("authentication token removed")

	default:
		s.report(text, ErrUnknownEvent)
	}
	return true
}

func (s *Socket) report(text string, cause error) {
	perr := &ProtocolError{Message: text, Err: cause}

	logged := text
	if len(logged) > maxLoggedMessage {
		logged = logged[:maxLoggedMessage] + "..."
	}
	s.logger.WithFields(logrus.Fields{
		"message": logged,
	}).WithError(cause).Warn("protocol violation")

	if s.config.OnProtocolError != nil {
		s.config.OnProtocolError(perr)
	}
}
