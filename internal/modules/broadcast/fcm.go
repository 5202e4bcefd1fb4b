// README: Firebase Cloud Messaging sink; operators follow a shared topic and each driver a personal one.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
)

const OperatorTopic = "routes"

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMPublisher struct {
	client messageSender
}

func NewFCMPublisher(client *messaging.Client) *FCMPublisher {
	return &FCMPublisher{client: client}
}

func DriverTopic(driverID string) string {
	return "driver-" + driverID
}

func (p *FCMPublisher) Publish(ctx context.Context, ev Event) error {
	data := map[string]string{
		"type":     string(ev.Type),
		"route_id": string(ev.RouteID),
		"run_id":   string(ev.RunID),
	}
	if len(ev.DropIDs) > 0 {
		ids := make([]string, len(ev.DropIDs))
		for i, id := range ev.DropIDs {
			ids[i] = string(id)
		}
		data["drop_ids"] = strings.Join(ids, ",")
	}
	if ev.Status != "" {
		data["status"] = string(ev.Status)
	}
	if len(ev.Stops) > 0 {
		stops, err := json.Marshal(ev.Stops)
		if err != nil {
			return fmt.Errorf("encode stops: %w", err)
		}
		data["stops"] = string(stops)
	}
	if ev.Note != "" {
		data["note"] = ev.Note
	}

	topics := []string{OperatorTopic}
	if ev.DriverID != nil && ev.Type == EventRouteAssigned {
		data["driver_id"] = string(*ev.DriverID)
		topics = append(topics, DriverTopic(string(*ev.DriverID)))
	}
	for _, topic := range topics {
		if _, err := p.client.Send(ctx, &messaging.Message{Topic: topic, Data: data}); err != nil {
			return fmt.Errorf("fcm send to %s: %w", topic, err)
		}
	}
	return nil
}
