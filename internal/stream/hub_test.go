package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"fundflow/internal/events"
)

func TestHubFiltersByType(t *testing.T) {
	h := NewHub(nil)
	all, cancelAll := h.Subscribe(nil)
	defer cancelAll()
	sold, cancelSold := h.Subscribe([]string{"listing_sold"})
	defer cancelSold()

	created, _ := events.NewEnvelope(events.TypeInvestmentCreated, "i-1", events.InvestmentEvent{InvestmentID: "i-1"})
	soldEnv, _ := events.NewEnvelope(events.TypeListingSold, "l-1", events.ListingEvent{ListingID: "l-1"})
	for _, env := range []events.Envelope{created, soldEnv} {
		if err := h.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(all) != 2 || len(sold) != 1 {
		t.Fatalf("all=%d sold=%d", len(all), len(sold))
	}
	var got events.Envelope
	if err := json.Unmarshal(<-sold, &got); err != nil || got.ID != soldEnv.ID {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	h.Buffer = 1
	_, cancel := h.Subscribe(nil)
	defer cancel()
	env, _ := events.NewEnvelope(events.TypeListingExpired, "l-1", events.ListingEvent{})
	for i := 0; i < 3; i++ {
		_ = h.Handle(context.Background(), env)
	}
	if sent, dropped := h.Stats(); sent != 1 || dropped != 2 {
		t.Fatalf("sent=%d dropped=%d", sent, dropped)
	}
	cancel()
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
}

func TestHubServesWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(nil)
	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?types=INVESTMENT_COMPLETED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for h.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env, _ := events.NewEnvelope(events.TypeInvestmentCompleted, "i-1", events.InvestmentEvent{InvestmentID: "i-1", Status: "COMPLETED"})
	if err := h.Handle(ctx, env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.Envelope
	if err := json.Unmarshal(data, &got); err != nil || got.Type != events.TypeInvestmentCompleted {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}

func TestHubDisabledRefusesUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(nil)
	h.Enabled = func(context.Context) bool { return false }
	r := gin.New()
	h.Register(r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws/events", nil)
	r.ServeHTTP(w, req)
	if w.Code != 503 {
		t.Fatalf("code=%d", w.Code)
	}
}
