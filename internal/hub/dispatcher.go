package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chat-hub/internal/models"
)

const defaultStorageTimeout = 5 * time.Second

type Options struct {
	Storage Storage
	// Participants overrides the membership source used by the gate, for
	// example with a cache in front of Storage.
	Participants   ParticipantChecker
	Logger         *zap.Logger
	StorageTimeout time.Duration
	Now            func() time.Time
}

type caller struct {
	id       ConnID
	identity models.Identity
}

type handlerFunc func(ctx context.Context, c caller, data json.RawMessage) error

// Stats is a point-in-time view of the hub's population.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Dispatcher is the single entry point for connection lifecycle and
// inbound events. It validates, authorizes, mutates the registry and fans
// events out to sinks.
type Dispatcher struct {
	registry *Registry
	gate     *Gate
	presence *Presence
	store    Storage
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time

	// conversations serializes persist-then-broadcast per conversation;
	// users serializes connect/disconnect per user so presence sees every
	// 0↔1 transition exactly once.
	conversations *keyedMutex[models.ConversationID]
	users         *keyedMutex[models.UserID]

	handlers map[models.EventType]handlerFunc
	closed   atomic.Bool
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = defaultStorageTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	participants := opts.Participants
	if participants == nil {
		participants = opts.Storage
	}

	registry := NewRegistry()
	d := &Dispatcher{
		registry:      registry,
		gate:          NewGate(participants),
		presence:      NewPresence(registry, opts.Now),
		store:         opts.Storage,
		log:           opts.Logger.Named("hub"),
		timeout:       opts.StorageTimeout,
		now:           opts.Now,
		conversations: newKeyedMutex[models.ConversationID](),
		users:         newKeyedMutex[models.UserID](),
	}
	d.handlers = map[models.EventType]handlerFunc{
		models.EventJoinConversation:  d.handleJoinConversation,
		models.EventLeaveConversation: d.handleLeaveConversation,
		models.EventSendMessage:       d.handleSendMessage,
		models.EventTyping:            d.handleTyping,
	}
	return d
}

// Connect registers a resolved identity, subscribes it to every
// conversation the user participates in and announces the user online if
// this is their first connection.
func (d *Dispatcher) Connect(ctx context.Context, id ConnID, identity models.Identity, sink Sink) error {
	if d.closed.Load() {
		return ErrClosed
	}

	if err := d.attach(ctx, id, identity, sink); err != nil {
		return err
	}

	// Shutdown may have snapshotted the registry before this connection
	// was added.
	if d.closed.Load() {
		_ = d.Disconnect(ctx, id)
		return ErrClosed
	}
	return nil
}

// attach registers the connection before reading the user's conversations.
// A conversation committed before the read is in the snapshot; one
// committed after it reaches the registered connection through JoinUser.
func (d *Dispatcher) attach(ctx context.Context, id ConnID, identity models.Identity, sink Sink) error {
	unlock := d.users.Lock(identity.UserID)
	defer unlock()

	if err := d.registry.Register(id, identity, sink); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	rooms, err := d.store.ParticipantsOf(sctx, identity.UserID)
	cancel()
	if err != nil {
		if _, uerr := d.registry.Unregister(id); uerr != nil {
			d.log.Debug("rollback of failed connect raced", connField(id), zap.Error(uerr))
		}
		return fmt.Errorf("%w: conversations of user %d: %v", ErrStorageFailure, identity.UserID, err)
	}
	for _, conversationID := range rooms {
		if err := d.registry.Join(id, conversationID); err != nil {
			return err
		}
	}

	d.log.Info("connection registered",
		connField(id),
		zap.Int("user_id", int(identity.UserID)),
		zap.Int("rooms", len(rooms)),
	)

	if status, ok := d.presence.OnConnectionAdded(identity.UserID); ok {
		d.broadcastAll(models.EventUserStatus, status)
		d.recordPresence(ctx, identity.UserID, true, d.now().UTC())
	}
	return nil
}

// Disconnect removes a connection and its memberships. Disconnecting an
// unknown connection is a no-op, since transport teardown can race.
func (d *Dispatcher) Disconnect(ctx context.Context, id ConnID) error {
	identity, ok := d.registry.Lookup(id)
	if !ok {
		d.log.Debug("disconnect of unknown connection", connField(id))
		return nil
	}

	unlock := d.users.Lock(identity.UserID)
	defer unlock()

	if _, err := d.registry.LeaveAll(id); err != nil {
		d.log.Debug("disconnect raced", connField(id), zap.Error(err))
		return nil
	}
	departure, err := d.registry.Unregister(id)
	if err != nil {
		d.log.Debug("disconnect raced", connField(id), zap.Error(err))
		return nil
	}
	departure.Sink.Close()

	d.log.Info("connection unregistered", connField(id), zap.Int("user_id", int(identity.UserID)))

	if status, ok := d.presence.OnConnectionRemoved(identity.UserID); ok {
		d.broadcastAll(models.EventUserStatus, status)
		d.recordPresence(ctx, identity.UserID, false, *status.LastSeen)
	}
	return nil
}

func (d *Dispatcher) recordPresence(ctx context.Context, userID models.UserID, online bool, at time.Time) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.store.SetPresence(sctx, userID, online, at); err != nil {
		d.log.Warn("failed to record presence",
			zap.Int("user_id", int(userID)),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

// authorize runs the participant check under the storage timeout, since
// the caller is a connection's read loop.
func (d *Dispatcher) authorize(ctx context.Context, userID models.UserID, conversationID models.ConversationID) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.gate.Authorize(sctx, userID, conversationID)
}

// Dispatch decodes a raw inbound frame, runs its handler and reports the
// outcome to the requester where the event policy says so.
func (d *Dispatcher) Dispatch(ctx context.Context, id ConnID, raw []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.report(id, "", invalid("Malformed event"))
		return
	}
	d.report(id, frame.Event, d.Handle(ctx, id, frame.Event, frame.Data))
}

// Handle routes one decoded event and returns its outcome.
func (d *Dispatcher) Handle(ctx context.Context, id ConnID, event models.EventType, data json.RawMessage) error {
	identity, ok := d.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%s from %s: %w", event, id, ErrUnknownConnection)
	}
	handler, ok := d.handlers[event]
	if !ok {
		return fmt.Errorf("%q: %w", event, ErrUnknownEvent)
	}
	return handler(ctx, caller{id: id, identity: identity}, data)
}

func (d *Dispatcher) report(id ConnID, event models.EventType, err error) {
	message, tell := clientMessage(event, err)
	if !tell {
		if err != nil {
			d.log.Debug("event dropped", connField(id), zap.String("event", string(event)), zap.Error(err))
		}
		return
	}

	if errors.Is(err, ErrStorageFailure) {
		d.log.Error("event failed", connField(id), zap.String("event", string(event)), zap.Error(err))
	} else {
		d.log.Debug("event rejected", connField(id), zap.String("event", string(event)), zap.Error(err))
	}
	d.sendTo(id, models.EventError, models.ErrorPayload{Message: message})
}

func (d *Dispatcher) handleJoinConversation(ctx context.Context, c caller, data json.RawMessage) error {
	var in models.ConversationRef
	if err := decode(data, &in); err != nil {
		return err
	}
	conversationID, err := requireConversation(in.ConversationID)
	if err != nil {
		return err
	}

	if err := d.authorize(ctx, c.identity.UserID, conversationID); err != nil {
		return err
	}
	if err := d.registry.Join(c.id, conversationID); err != nil {
		return err
	}

	d.sendTo(c.id, models.EventJoinedConversation, models.JoinedConversation{ConversationID: conversationID})
	return nil
}

func (d *Dispatcher) handleLeaveConversation(_ context.Context, c caller, data json.RawMessage) error {
	var in models.ConversationRef
	if err := decode(data, &in); err != nil {
		return err
	}
	conversationID, err := requireConversation(in.ConversationID)
	if err != nil {
		return err
	}
	return d.registry.Leave(c.id, conversationID)
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, c caller, data json.RawMessage) error {
	var in models.SendMessageData
	if err := decode(data, &in); err != nil {
		return err
	}
	conversationID, err := requireConversation(in.ConversationID)
	if err != nil {
		return err
	}

	if err := d.authorize(ctx, c.identity.UserID, conversationID); err != nil {
		return err
	}

	content := strings.TrimSpace(in.Content)
	messageType := in.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !messageType.Valid() {
		return invalid("Unsupported message type")
	}
	if content == "" && messageType == models.MessageTypeText {
		return invalid("Message content is required")
	}

	unlock := d.conversations.Lock(conversationID)
	defer unlock()

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.store.PersistMessage(sctx, models.NewMessage{
		ConversationID: conversationID,
		SenderID:       c.identity.UserID,
		Content:        content,
		MessageType:    messageType,
		File:           in.FileData,
	})
	if err != nil {
		return fmt.Errorf("%w: persist message: %v", ErrStorageFailure, err)
	}

	// The message is committed at this point, so a failed touch only
	// affects conversation ordering in listings.
	if err := d.store.TouchConversation(sctx, conversationID, msg.CreatedAt); err != nil {
		d.log.Warn("failed to touch conversation",
			zap.Int("conversation_id", int(conversationID)),
			zap.Error(err),
		)
	}

	d.broadcastRoom(conversationID, "", models.EventNewMessage, msg)
	return nil
}

func (d *Dispatcher) handleTyping(ctx context.Context, c caller, data json.RawMessage) error {
	var in models.TypingData
	if err := decode(data, &in); err != nil {
		return err
	}
	conversationID, err := requireConversation(in.ConversationID)
	if err != nil {
		return err
	}

	if err := d.authorize(ctx, c.identity.UserID, conversationID); err != nil {
		d.log.Debug("typing dropped", connField(c.id), zap.Error(err))
		return nil
	}

	d.broadcastRoom(conversationID, c.id, models.EventUserTyping, models.UserTyping{
		UserID:         c.identity.UserID,
		Username:       c.identity.Username,
		ConversationID: conversationID,
		IsTyping:       in.IsTyping,
	})
	return nil
}

// JoinUser subscribes every live connection of a user to a conversation,
// used when a conversation is created while its participants are online.
func (d *Dispatcher) JoinUser(userID models.UserID, conversationID models.ConversationID) int {
	return d.registry.JoinUser(userID, conversationID)
}

// Presence returns the live presence of a user.
func (d *Dispatcher) Presence(userID models.UserID) models.Presence {
	return d.presence.Snapshot(userID)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{Connections: d.registry.Len(), Rooms: d.registry.RoomCount()}
}

// Shutdown refuses new connections and disconnects every live one.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closed.Store(true)

	ids := d.registry.ids()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = d.Disconnect(ctx, id)
	}
	d.log.Info("hub shut down", zap.Int("connections", len(ids)))
	return nil
}

func (d *Dispatcher) sendTo(id ConnID, event models.EventType, data any) {
	sink, ok := d.registry.sinkOf(id)
	if !ok {
		return
	}
	d.deliver(event, data, []Sink{sink})
}

func (d *Dispatcher) broadcastRoom(conversationID models.ConversationID, except ConnID, event models.EventType, data any) {
	d.deliver(event, data, d.registry.roomSinks(conversationID, except))
}

func (d *Dispatcher) broadcastAll(event models.EventType, data any) {
	d.deliver(event, data, d.registry.allSinks())
}

// deliver enqueues one encoded frame on each sink. Sinks never block, so
// this is safe to call while holding a conversation or user lock.
func (d *Dispatcher) deliver(event models.EventType, data any, sinks []Sink) {
	if len(sinks) == 0 {
		return
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		d.log.Error("failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}

	dropped := 0
	for _, sink := range sinks {
		if !sink.Send(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		d.log.Debug("event not delivered to some recipients",
			zap.String("event", string(event)),
			zap.Int("dropped", dropped),
			zap.Int("recipients", len(sinks)),
		)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return invalid("Missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("Malformed event data")
	}
	return nil
}

func requireConversation(id *models.ConversationID) (models.ConversationID, error) {
	if id == nil {
		return 0, invalid("conversation_id is required")
	}
	return *id, nil
}

func connField(id ConnID) zap.Field {
	return zap.String("conn_id", string(id))
}
