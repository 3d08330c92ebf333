package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
	"github.com/paircast/paircast/internal/services/messenger/domain"
	"github.com/paircast/paircast/internal/services/messenger/storage"
	"github.com/paircast/paircast/internal/services/messenger/wire"
)

// coordinator owns message semantics between transport and storage:
// validation, persistence, envelope enrichment, the delete state
// machine, and read-receipt transitions.
type coordinator struct {
	store    storage.MessageStore
	registry *registry
	tracer   trace.Tracer
	now      func() time.Time
}

func newCoordinator(store storage.MessageStore, reg *registry) *coordinator {
	return &coordinator{
		store:    store,
		registry: reg,
		tracer:   otel.Tracer("messenger"),
		now:      time.Now,
	}
}

// send validates, persists, and enriches one outbound message. The
// stored status is delivered when the receiver has an active session,
// sent otherwise.
func (c *coordinator) send(ctx context.Context, senderID string, payload wire.SendPayload) (wire.Envelope, error) {
	ctx, span := c.tracer.Start(ctx, "messenger.send")
	defer span.End()

	msg, err := domain.NewMessage(senderID, payload.To, payload.Content, payload.ReplyTo, c.now())
	if err != nil {
		return wire.Envelope{}, err
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))

	if _, online := c.registry.lookup(msg.ReceiverID); online {
		msg.Status = domain.StatusDelivered
	}
	if msg.ReplyTo != "" {
		if _, err := c.store.GetMessage(ctx, msg.ReplyTo); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return wire.Envelope{}, apperrors.Wrap(apperrors.CodeStorageFailure, "resolve reply target", err)
			}
			// Dangling reply targets degrade to a plain message.
			msg.ReplyTo = ""
		}
	}

	record := storage.MessageRecord{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		ReplyTo:    msg.ReplyTo,
		Status:     string(msg.Status),
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
	if err := c.store.PutMessage(ctx, record); err != nil {
		return wire.Envelope{}, apperrors.Wrap(apperrors.CodeStorageFailure, "persist message", err)
	}
	return c.envelope(ctx, record)
}

// react upserts one reaction and returns the recomputed aggregate. Any
// authenticated user may react; participation is not checked.
func (c *coordinator) react(ctx context.Context, userID string, payload wire.ReactionPayload) (wire.ReactionUpdatePayload, error) {
	ctx, span := c.tracer.Start(ctx, "messenger.react")
	defer span.End()

	emoji := strings.TrimSpace(payload.Emoji)
	if emoji == "" {
		return wire.ReactionUpdatePayload{}, apperrors.New(apperrors.CodeInvalidArgument, "emoji is required")
	}
	record, err := c.store.GetMessage(ctx, strings.TrimSpace(payload.MessageID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return wire.ReactionUpdatePayload{}, apperrors.New(apperrors.CodeNotFound, "message not found")
		}
		return wire.ReactionUpdatePayload{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load message", err)
	}
	if err := c.store.UpsertReaction(ctx, record.ID, userID, emoji, c.now()); err != nil {
		return wire.ReactionUpdatePayload{}, apperrors.Wrap(apperrors.CodeStorageFailure, "store reaction", err)
	}
	counts, err := c.store.ReactionCounts(ctx, record.ID)
	if err != nil {
		return wire.ReactionUpdatePayload{}, apperrors.Wrap(apperrors.CodeStorageFailure, "aggregate reactions", err)
	}
	return wire.ReactionUpdatePayload{
		MessageID: record.ID,
		Reactions: wireReactions(counts),
	}, nil
}

// delete resolves a delete request through the two-step state machine.
// Requests by anyone but the sender resolve to no action.
func (c *coordinator) delete(ctx context.Context, userID, messageID string) (domain.DeleteAction, error) {
	ctx, span := c.tracer.Start(ctx, "messenger.delete")
	defer span.End()

	record, err := c.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.DeleteActionNone, apperrors.New(apperrors.CodeNotFound, "message not found")
		}
		return domain.DeleteActionNone, apperrors.Wrap(apperrors.CodeStorageFailure, "load message", err)
	}

	state := domain.DeleteStateActive
	if record.Deleted {
		state = domain.DeleteStateTombstoned
	}
	msg := domain.Message{ID: record.ID, SenderID: record.SenderID, Content: record.Content, Deleted: state}

	switch action := msg.DeleteTransition(userID); action {
	case domain.DeleteActionTombstone:
		msg.ApplyTombstone(c.now())
		if err := c.store.Tombstone(ctx, msg.ID, msg.Content, msg.UpdatedAt); err != nil {
			return domain.DeleteActionNone, apperrors.Wrap(apperrors.CodeStorageFailure, "tombstone message", err)
		}
		return action, nil
	case domain.DeleteActionPurge:
		if err := c.store.PurgeMessage(ctx, record.ID); err != nil {
			return domain.DeleteActionNone, apperrors.Wrap(apperrors.CodeStorageFailure, "purge message", err)
		}
		return action, nil
	default:
		return domain.DeleteActionNone, nil
	}
}

// markSeen bulk-transitions sender→viewer messages into seen and
// reports how many rows changed.
func (c *coordinator) markSeen(ctx context.Context, viewerID, senderID string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "messenger.mark_seen")
	defer span.End()

	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "sender id is required")
	}
	changed, err := c.store.MarkSeen(ctx, senderID, viewerID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "mark seen", err)
	}
	return changed, nil
}

// page returns one history page in ascending order, enriched like live
// deliveries so the client reconciles both through the same shape.
func (c *coordinator) page(ctx context.Context, userID, peerID string, limit int, before time.Time) ([]wire.Envelope, error) {
	ctx, span := c.tracer.Start(ctx, "messenger.page")
	defer span.End()

	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "peer id is required")
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	records, err := c.store.ListMessagesBetween(ctx, userID, peerID, limit, before)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list messages", err)
	}

	// Storage returns newest first; pages render oldest first.
	envelopes := make([]wire.Envelope, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		envelope, err := c.envelope(ctx, records[i])
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// conversations returns the newest message per peer for the inbox view.
func (c *coordinator) conversations(ctx context.Context, userID string) ([]wire.Envelope, error) {
	records, err := c.store.LatestMessages(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list conversations", err)
	}
	envelopes := make([]wire.Envelope, 0, len(records))
	for _, record := range records {
		envelope, err := c.envelope(ctx, record)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// unread returns per-sender unread aggregates for the user.
func (c *coordinator) unread(ctx context.Context, userID string) ([]wire.UnreadCount, error) {
	counts, err := c.store.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "count unread", err)
	}
	out := make([]wire.UnreadCount, 0, len(counts))
	for _, count := range counts {
		out = append(out, wire.UnreadCount{SenderID: count.SenderID, Count: count.Count})
	}
	return out, nil
}

// envelope enriches one stored record with its reaction aggregate and
// reply preview. Envelopes are built fresh on every read.
func (c *coordinator) envelope(ctx context.Context, record storage.MessageRecord) (wire.Envelope, error) {
	envelope := wire.Envelope{
		ID:         record.ID,
		SenderID:   record.SenderID,
		ReceiverID: record.ReceiverID,
		Content:    record.Content,
		Status:     record.Status,
		Deleted:    record.Deleted,
		Reactions:  []wire.ReactionCount{},
		CreatedAt:  record.CreatedAt,
	}

	if !record.Deleted {
		counts, err := c.store.ReactionCounts(ctx, record.ID)
		if err != nil {
			return wire.Envelope{}, apperrors.Wrap(apperrors.CodeStorageFailure, "aggregate reactions", err)
		}
		envelope.Reactions = wireReactions(counts)
	}

	if record.ReplyTo != "" {
		target, err := c.store.GetMessage(ctx, record.ReplyTo)
		switch {
		case err == nil:
			envelope.ReplyTo = &wire.ReplyPreview{
				ID:       target.ID,
				SenderID: target.SenderID,
				Content:  target.Content,
			}
		case errors.Is(err, storage.ErrNotFound):
			// Purged reply targets leave no preview.
		default:
			return wire.Envelope{}, apperrors.Wrap(apperrors.CodeStorageFailure, "resolve reply target", err)
		}
	}
	return envelope, nil
}

func wireReactions(counts []storage.ReactionCount) []wire.ReactionCount {
	out := make([]wire.ReactionCount, 0, len(counts))
	for _, count := range counts {
		out = append(out, wire.ReactionCount{Emoji: count.Emoji, Count: count.Count})
	}
	return out
}
