package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/router"
	"github.com/ksawyer/wirehub/internal/store"
)

// DefaultChannel receives chat messages that name no channel.
const DefaultChannel = "general"

// ChatMessageData is the payload of a "chat.message" envelope.
type ChatMessageData struct {
	Channel string `json:"channel,omitempty"`
	Body    string `json:"body"`
}

// ChatHistoryRequest is the payload of a "chat.history" request.
type ChatHistoryRequest struct {
	Channel string `json:"channel,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// ChatRecord is one stored message on the wire.
type ChatRecord struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Body    string `json:"body"`
	SentAt  string `json:"sentAt"`
}

// ChatHistoryReply is the payload of a "chat.history" response.
type ChatHistoryReply struct {
	Channel  string       `json:"channel"`
	Messages []ChatRecord `json:"messages"`
}

// ChatDeleteData is the payload of "chat.delete" and its ack.
type ChatDeleteData struct {
	ID string `json:"id"`
}

// registerControlHandlers wires the reserved protocol types.
func (s *Server) registerControlHandlers() {
	s.table.Register(envelope.TypePing, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		pong, err := envelope.New(envelope.TypePong, nil)
		if err != nil {
			return err
		}
		return from.Send(pong)
	}, 0)

	// A pong acknowledges the heartbeat probe: flip the liveness flag
	// back before the next sweep.
	s.table.Register(envelope.TypePong, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		if conn, ok := s.reg.Find(from.ID()); ok {
			conn.SetAlive(true)
		}
		return nil
	}, 0)

	s.table.Register(envelope.TypeSubscribe, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var data envelope.SubscribeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed subscribe payload: %w", err)
		}
		conn, ok := s.reg.Find(from.ID())
		if !ok {
			return fmt.Errorf("unknown connection %s", from.ID())
		}
		conn.Subscribe(data.EventTypes)
		s.logger.Debug("subscriptions updated", "conn_id", from.ID(), "event_types", data.EventTypes)

		ack, err := envelope.New(envelope.TypeSubscribed, data)
		if err != nil {
			return err
		}
		return from.Send(ack)
	}, 0)

	s.table.Register(envelope.TypeUnsubscribe, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var data envelope.SubscribeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed unsubscribe payload: %w", err)
		}
		conn, ok := s.reg.Find(from.ID())
		if !ok {
			return fmt.Errorf("unknown connection %s", from.ID())
		}
		conn.Unsubscribe(data.EventTypes)

		ack, err := envelope.New(envelope.TypeUnsubscribed, data)
		if err != nil {
			return err
		}
		return from.Send(ack)
	}, 0)

	s.table.Register(envelope.TypeEvent, s.bridge.HandleInbound, 0)
}

// registerChatHandlers wires the store-backed chat operations.
func (s *Server) registerChatHandlers() {
	s.table.Register("chat.message", func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var data ChatMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed chat message: %w", err)
		}
		if data.Body == "" {
			return fmt.Errorf("chat message body must not be empty")
		}
		if data.Channel == "" {
			data.Channel = DefaultChannel
		}

		msg := &store.Message{
			Channel: data.Channel,
			Sender:  from.ID(),
			Body:    data.Body,
		}
		if err := s.store.SaveMessage(ctx, msg); err != nil {
			return fmt.Errorf("save chat message: %w", err)
		}

		// The bridge fans the stored record out to subscribers.
		s.bus.Emit("chat.message", toRecord(*msg), from.ID(), nil)
		return nil
	}, 0)

	s.table.Register("chat.history", func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var req ChatHistoryRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				return fmt.Errorf("malformed history request: %w", err)
			}
		}
		if req.Channel == "" {
			req.Channel = DefaultChannel
		}
		if req.Limit <= 0 || req.Limit > s.cfg.Server.HistoryLimit {
			req.Limit = s.cfg.Server.HistoryLimit
		}

		msgs, err := s.store.RecentMessages(ctx, req.Channel, req.Limit)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		reply := ChatHistoryReply{Channel: req.Channel, Messages: make([]ChatRecord, 0, len(msgs))}
		for _, m := range msgs {
			reply.Messages = append(reply.Messages, toRecord(m))
		}

		out, err := envelope.New("chat.history", reply)
		if err != nil {
			return err
		}
		return from.Send(out)
	}, 0)

	s.table.Register("chat.delete", func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var data ChatDeleteData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed delete request: %w", err)
		}
		id, err := uuid.Parse(data.ID)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", data.ID, err)
		}
		if err := s.store.DeleteMessage(ctx, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}

		ack, err := envelope.New("chat.deleted", data)
		if err != nil {
			return err
		}
		return from.Send(ack)
	}, 0)
}

func toRecord(m store.Message) ChatRecord {
	return ChatRecord{
		ID:      m.ID.String(),
		Channel: m.Channel,
		Sender:  m.Sender,
		Body:    m.Body,
		SentAt:  m.SentAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
