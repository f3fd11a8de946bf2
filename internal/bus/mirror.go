package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

const traceHeader = "Loqa-Trace-Id"

// ObserveEvent publishes a control event on its event subject.
func (c *Client) ObserveEvent(ctx context.Context, ev protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := nats.NewMsg(c.EventSubject(ev.Event))
	msg.Data = data
	if id := ev.TraceID(); id != "" {
		msg.Header.Set(traceHeader, id)
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Handler answers one control request.
type Handler interface {
	HandleRequest(req protocol.Request) protocol.Response
}

// ServeCommands answers control requests arriving on the command subject
// until ctx is done.
func (c *Client) ServeCommands(ctx context.Context, h Handler) error {
	sub, err := c.conn.Subscribe(c.CommandSubject(), func(m *nats.Msg) {
		var req protocol.Request
		var resp protocol.Response
		if err := json.Unmarshal(m.Data, &req); err != nil {
			resp = protocol.NewErrorResponse(nil, protocol.ErrorCodeRequestFailed, "Invalid JSON: "+err.Error())
		} else {
			resp = h.HandleRequest(req)
		}
		data, err := json.Marshal(resp)
		if err != nil {
			c.log.Warn("encode command response failed", slog.String("error", err.Error()))
			return
		}
		if err := m.Respond(data); err != nil {
			c.log.Warn("command reply failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.CommandSubject(), err)
	}
	c.log.Info("serving remote commands", slog.String("subject", c.CommandSubject()))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && c.conn.Status() == nats.CONNECTED {
			c.log.Debug("unsubscribe commands", slog.String("error", err.Error()))
		}
	}()
	return nil
}
