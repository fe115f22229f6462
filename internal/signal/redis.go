package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// recordTTL bounds how long finished call records linger in Redis. Call
// history lives in the chat log, not here.
const recordTTL = 24 * time.Hour

// RedisStore implements Store on a shared Redis instance. Call records are
// hashes, candidate streams are lists, and change subscriptions are pub/sub
// channels keyed per call, per side, or per receiving user.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func callKey(callID string) string { return "call:" + callID }

func candidatesKey(callID string, side Side) string {
	return "call:" + callID + ":candidates:" + string(side)
}

func chatMessagesKey(chatID string) string { return "chat:" + chatID + ":messages" }

func updateChannel(callID string) string { return "call.update." + callID }

func incomingChannel(userID string) string { return "call.incoming." + userID }

func candidateChannel(callID string, side Side) string {
	return "call.cand." + callID + "." + string(side)
}

func (s *RedisStore) CreateCall(ctx context.Context, callerID, receiverID string, callType CallType, chatID string) (string, error) {
	rec := &CallRecord{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     CallStatusRinging,
		ChatID:     chatID,
		CreatedAt:  s.now().UTC(),
	}

	key := callKey(rec.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, recordFields(rec))
	pipe.Expire(ctx, key, recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create call record: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode call record: %w", err)
	}
	if err := s.client.Publish(ctx, incomingChannel(receiverID), payload).Err(); err != nil {
		// The record exists; the receiver can still discover it via GetCall.
		s.logger.Warn("failed to publish incoming call", "call_id", rec.ID, "err", err)
	}

	return rec.ID, nil
}

func (s *RedisStore) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	fields, err := s.client.HGetAll(ctx, callKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read call record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCallNotFound
	}
	return recordFromFields(fields)
}

func (s *RedisStore) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, extra *StatusExtra) error {
	fields := map[string]any{"status": string(status)}
	if extra != nil {
		fields["duration"] = strconv.Itoa(extra.Duration)
		fields["final_status"] = extra.FinalStatus
	}

	if err := s.client.HSet(ctx, callKey(callID), fields).Err(); err != nil {
		return fmt.Errorf("update call status: %w", err)
	}

	return s.publishUpdate(ctx, callID)
}

func (s *RedisStore) SetDescription(ctx context.Context, callID string, desc SessionDescription, kind DescriptionKind) error {
	encoded, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode description: %w", err)
	}

	var field string
	switch kind {
	case DescriptionOffer:
		field = "offer"
	case DescriptionAnswer:
		field = "answer"
	default:
		return fmt.Errorf("invalid description kind %q", kind)
	}

	if err := s.client.HSet(ctx, callKey(callID), field, encoded).Err(); err != nil {
		return fmt.Errorf("write %s: %w", field, err)
	}

	return s.publishUpdate(ctx, callID)
}

// candidateEnvelope carries the list index so watchers can skip candidates
// they already saw during replay.
type candidateEnvelope struct {
	Index     int       `json:"index"`
	Candidate Candidate `json:"candidate"`
}

func (s *RedisStore) AppendCandidate(ctx context.Context, callID string, side Side, cand Candidate) error {
	encoded, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}

	key := candidatesKey(callID, side)
	length, err := s.client.RPush(ctx, key, encoded).Result()
	if err != nil {
		return fmt.Errorf("append candidate: %w", err)
	}
	// The candidate streams share the record's lifetime.
	if err := s.client.Expire(ctx, key, recordTTL).Err(); err != nil {
		s.logger.Debug("failed to set candidate stream ttl", "call_id", callID, "err", err)
	}

	payload, err := json.Marshal(candidateEnvelope{Index: int(length) - 1, Candidate: cand})
	if err != nil {
		return fmt.Errorf("encode candidate envelope: %w", err)
	}
	if err := s.client.Publish(ctx, candidateChannel(callID, side), payload).Err(); err != nil {
		return fmt.Errorf("publish candidate: %w", err)
	}
	return nil
}

func (s *RedisStore) WatchCall(ctx context.Context, callID string, fn func(*CallRecord)) (CancelFunc, error) {
	pubsub, err := s.subscribe(ctx, updateChannel(callID))
	if err != nil {
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var rec CallRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				s.logger.Warn("dropping malformed call update", "call_id", callID, "err", err)
				continue
			}
			fn(&rec)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *RedisStore) WatchIncoming(ctx context.Context, userID string, fn func(*CallRecord)) (CancelFunc, error) {
	pubsub, err := s.subscribe(ctx, incomingChannel(userID))
	if err != nil {
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var rec CallRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				s.logger.Warn("dropping malformed incoming call", "user_id", userID, "err", err)
				continue
			}
			// Only freshly created ringing calls addressed to this user may
			// surface here.
			if rec.Status != CallStatusRinging || rec.ReceiverID != userID {
				continue
			}
			fn(&rec)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *RedisStore) WatchCandidates(ctx context.Context, callID string, side Side, fn func(Candidate)) (CancelFunc, error) {
	pubsub, err := s.subscribe(ctx, candidateChannel(callID, side))
	if err != nil {
		return nil, err
	}

	// Replay happens after the subscription is confirmed, so a candidate is
	// either in the replayed list or arrives via pub/sub with an index at or
	// past the replay horizon. Nothing is missed, nothing delivered twice.
	existing, err := s.client.LRange(ctx, candidatesKey(callID, side), 0, -1).Result()
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("replay candidates: %w", err)
	}
	replayed := len(existing)

	go func() {
		for _, raw := range existing {
			var cand Candidate
			if err := json.Unmarshal([]byte(raw), &cand); err != nil {
				s.logger.Warn("dropping malformed stored candidate", "call_id", callID, "err", err)
				continue
			}
			fn(cand)
		}

		for msg := range pubsub.Channel() {
			var env candidateEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn("dropping malformed candidate event", "call_id", callID, "err", err)
				continue
			}
			if env.Index < replayed {
				continue
			}
			fn(env.Candidate)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *RedisStore) CleanupSignaling(ctx context.Context, callID string) error {
	err := s.client.Del(ctx,
		candidatesKey(callID, SideCaller),
		candidatesKey(callID, SideCallee),
	).Err()
	if err != nil {
		return fmt.Errorf("delete candidate streams: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendCallLog(ctx context.Context, chatID, text string) error {
	entry, err := json.Marshal(map[string]any{
		"type":   "call_log",
		"text":   text,
		"sentAt": s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode call log: %w", err)
	}
	if err := s.client.RPush(ctx, chatMessagesKey(chatID), entry).Err(); err != nil {
		return fmt.Errorf("append call log: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) publishUpdate(ctx context.Context, callID string) error {
	rec, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}
	if err := s.client.Publish(ctx, updateChannel(callID), payload).Err(); err != nil {
		return fmt.Errorf("publish call update: %w", err)
	}
	return nil
}

func (s *RedisStore) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round-trip so the watch is live on return.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return pubsub, nil
}

func recordFields(rec *CallRecord) map[string]any {
	fields := map[string]any{
		"id":          rec.ID,
		"caller_id":   rec.CallerID,
		"receiver_id": rec.ReceiverID,
		"type":        string(rec.Type),
		"status":      string(rec.Status),
		"chat_id":     rec.ChatID,
		"created_at":  rec.CreatedAt.Format(time.RFC3339Nano),
	}
	return fields
}

func recordFromFields(fields map[string]string) (*CallRecord, error) {
	rec := &CallRecord{
		ID:          fields["id"],
		CallerID:    fields["caller_id"],
		ReceiverID:  fields["receiver_id"],
		Type:        CallType(fields["type"]),
		Status:      CallStatus(fields["status"]),
		ChatID:      fields["chat_id"],
		FinalStatus: fields["final_status"],
	}

	if raw := fields["created_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rec.CreatedAt = t
	}
	if raw := fields["duration"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
		rec.Duration = n
	}
	if raw := fields["offer"]; raw != "" {
		var desc SessionDescription
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			return nil, fmt.Errorf("parse offer: %w", err)
		}
		rec.Offer = &desc
	}
	if raw := fields["answer"]; raw != "" {
		var desc SessionDescription
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			return nil, fmt.Errorf("parse answer: %w", err)
		}
		rec.Answer = &desc
	}

	return rec, nil
}
