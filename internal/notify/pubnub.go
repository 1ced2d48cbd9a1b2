package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"

	"resale-market/models"
)

const eventsChannel = "ticket-events"

// PubNubNotifier publishes lifecycle events on the shared ticket-events
// channel and on a per-user channel for the parties of the event.
type PubNubNotifier struct {
	pubnub *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pubnub: pn}
}

func (n *PubNubNotifier) Publish(ctx context.Context, event models.LifecycleEvent) {
	channels := []string{eventsChannel}
	for _, userID := range []string{event.OwnerID, event.BuyerID, event.SellerID} {
		if userID != "" {
			channels = append(channels, fmt.Sprintf("user-%s", userID))
		}
	}

	message := map[string]any{
		"type":        string(event.Type),
		"ticket_id":   event.TicketID,
		"event_id":    event.EventID,
		"owner_id":    event.OwnerID,
		"buyer_id":    event.BuyerID,
		"seller_id":   event.SellerID,
		"occurred_at": event.OccurredAt,
	}

	go func() {
		for _, channel := range channels {
			_, _, err := n.pubnub.Publish().
				Channel(channel).
				Message(message).
				Execute()
			if err != nil {
				slog.Error("notification publish failed",
					"channel", channel,
					"type", event.Type,
					"ticketID", event.TicketID,
					"error", err,
				)
			}
		}
	}()
}

// Subscribe exposes the lifecycle stream as a typed channel so callers can
// react to commits instead of polling reads. The channel closes when ctx is
// done.
func (n *PubNubNotifier) Subscribe(ctx context.Context) <-chan models.LifecycleEvent {
	out := make(chan models.LifecycleEvent, 64)
	listener := pubnub.NewListener()

	n.pubnub.AddListener(listener)
	n.pubnub.Subscribe().
		Channels([]string{eventsChannel}).
		Execute()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				n.pubnub.RemoveListener(listener)
				return
			case message := <-listener.Message:
				event, err := decodeEvent(message)
				if err != nil {
					slog.Error("dropping malformed lifecycle event", "error", err)
					continue
				}
				select {
				case out <- *event:
				default:
					// Slow consumer; at-most-once delivery allows the drop.
					slog.Warn("lifecycle event dropped, subscriber is behind", "ticketID", event.TicketID)
				}
			}
		}
	}()

	return out
}

func decodeEvent(message *pubnub.PNMessage) (*models.LifecycleEvent, error) {
	data, ok := message.Message.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected message payload %T", message.Message)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var event models.LifecycleEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
