package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fundflow/internal/events"
)

const channelEmail = "email"

// Sender is the part of Client the notifier needs.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier turns investment and listing events into investor
// notifications. It is registered as a bridge route; a failed send rejects
// the event to the dead-letter path so it can be replayed.
type Notifier struct {
	Sender  Sender
	Logger  *zap.Logger
	Enabled func(ctx context.Context) bool
}

func (n *Notifier) Handle(ctx context.Context, env events.Envelope) error {
	if n == nil || n.Sender == nil {
		return nil
	}
	if n.Enabled != nil && !n.Enabled(ctx) {
		return nil
	}
	out, err := n.build(env)
	if err != nil {
		return err
	}
	for _, msg := range out {
		if err := n.Sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("send %s to %s: %w", msg.Template, msg.RecipientID, err)
		}
	}
	if len(out) > 0 {
		n.logger().Debug("notifications sent", zap.String("event_type", env.Type), zap.Int("count", len(out)))
	}
	return nil
}

func (n *Notifier) build(env events.Envelope) ([]Notification, error) {
	switch env.Type {
	case events.TypeInvestmentCoolingOff,
		events.TypeInvestmentCompleted,
		events.TypeInvestmentCancelled,
		events.TypeInvestmentRefunded:
		var ev events.InvestmentEvent
		if err := env.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode investment event: %w", err)
		}
		data := map[string]any{
			"investmentId": ev.InvestmentID,
			"campaignId":   ev.CampaignID,
			"amount":       ev.Amount,
			"shares":       ev.Shares,
		}
		if ev.Reason != "" {
			data["reason"] = ev.Reason
		}
		return []Notification{{
			RecipientID: ev.InvestorID,
			Channel:     channelEmail,
			Template:    templateFor(env.Type),
			Subject:     subjectFor(env.Type),
			Data:        data,
			DedupKey:    env.ID,
		}}, nil

	case events.TypeListingSold, events.TypeListingExpired:
		var ev events.ListingEvent
		if err := env.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode listing event: %w", err)
		}
		data := map[string]any{
			"listingId":  ev.ListingID,
			"shares":     ev.Shares,
			"totalPrice": ev.TotalPrice,
			"sellerFee":  ev.SellerFee,
		}
		out := []Notification{{
			RecipientID: ev.SellerID,
			Channel:     channelEmail,
			Template:    templateFor(env.Type),
			Subject:     subjectFor(env.Type),
			Data:        data,
			DedupKey:    env.ID + ":seller",
		}}
		if env.Type == events.TypeListingSold && ev.BuyerID != "" {
			out = append(out, Notification{
				RecipientID: ev.BuyerID,
				Channel:     channelEmail,
				Template:    "listing_purchased",
				Subject:     "Your share purchase is complete",
				Data:        data,
				DedupKey:    env.ID + ":buyer",
			})
		}
		return out, nil
	}
	return nil, nil
}

func templateFor(eventType string) string {
	switch eventType {
	case events.TypeInvestmentCoolingOff:
		return "investment_cooling_off"
	case events.TypeInvestmentCompleted:
		return "investment_completed"
	case events.TypeInvestmentCancelled:
		return "investment_cancelled"
	case events.TypeInvestmentRefunded:
		return "investment_refunded"
	case events.TypeListingSold:
		return "listing_sold"
	case events.TypeListingExpired:
		return "listing_expired"
	}
	return ""
}

func subjectFor(eventType string) string {
	switch eventType {
	case events.TypeInvestmentCoolingOff:
		return "Your payment was received"
	case events.TypeInvestmentCompleted:
		return "Your investment is confirmed"
	case events.TypeInvestmentCancelled:
		return "Your investment was cancelled"
	case events.TypeInvestmentRefunded:
		return "Your investment was refunded"
	case events.TypeListingSold:
		return "Your shares were sold"
	case events.TypeListingExpired:
		return "Your listing expired"
	}
	return ""
}

func (n *Notifier) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}
