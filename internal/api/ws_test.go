package api

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"
)

func dialWS(t *testing.T, s *Server) (*websocket.Conn, func()) {
    t.Helper()
    srv := httptest.NewServer(http.HandlerFunc(s.WSHandler))
    url := "ws" + strings.TrimPrefix(srv.URL, "http")
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    if err != nil { srv.Close(); t.Fatalf("dial: %v", err) }
    return conn, func() { _ = conn.Close(); srv.Close() }
}

func waitForSubscriber(t *testing.T, b *Broker, orderID string) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for {
        b.mu.Lock()
        n := len(b.subs[orderID])
        b.mu.Unlock()
        if n > 0 { return }
        if time.Now().After(deadline) { t.Fatal("subscription never registered") }
        time.Sleep(5 * time.Millisecond)
    }
}

func TestWSSubscribeReceivesOrderEvents(t *testing.T) {
    s := newTestServer(t)
    sd := seedCatalog(t, s)
    o := scheduleOrder(t, s, sd, time.Now().UTC())

    conn, done := dialWS(t, s)
    defer done()

    if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil { t.Fatalf("init: %v", err) }
    var ack wsMessage
    if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
        t.Fatalf("expected connection_ack, got %+v (%v)", ack, err)
    }

    pl, _ := json.Marshal(map[string]string{"otId": o.ID})
    if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
        t.Fatalf("subscribe: %v", err)
    }
    waitForSubscriber(t, s.Broker.(*Broker), o.ID)

    // Publishers on separate goroutines, the way action handlers fan out,
    // while the client also pings. Every write path hits the same
    // connection.
    var wg sync.WaitGroup
    for i := 0; i < 2; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for j := 0; j < 2; j++ {
                s.Broker.Publish(o.ID, SSEEvent{Type: "order.arrived", Data: map[string]any{"otId": o.ID}})
            }
        }()
    }
    if err := conn.WriteJSON(wsMessage{Type: "ping"}); err != nil { t.Fatalf("ping: %v", err) }
    wg.Wait()

    got := 0
    _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    for got < 4 {
        var msg wsMessage
        if err := conn.ReadJSON(&msg); err != nil { t.Fatalf("read after %d events: %v", got, err) }
        switch msg.Type {
        case "next":
            if msg.ID != "1" { t.Fatalf("unexpected subscription id: %s", msg.ID) }
            var body struct {
                Type string         `json:"type"`
                Data map[string]any `json:"data"`
            }
            if err := json.Unmarshal(msg.Payload, &body); err != nil { t.Fatalf("payload: %v", err) }
            if body.Data["otId"] != o.ID { t.Fatalf("wrong order id: %+v", body.Data) }
            got++
        case "pong", "ping":
            // interleaved keepalive traffic is fine
        default:
            t.Fatalf("unexpected message type %q", msg.Type)
        }
    }
}

func TestWSSubscribeRequiresOrderAccess(t *testing.T) {
    s := newTestServer(t)
    sd := seedCatalog(t, s)
    o := scheduleOrder(t, s, sd, time.Now().UTC())

    srv := httptest.NewServer(http.HandlerFunc(s.WSHandler))
    defer srv.Close()
    url := "ws" + strings.TrimPrefix(srv.URL, "http")
    hdr := http.Header{}
    hdr.Set("X-Role", "technician")
    hdr.Set("X-Technician-Id", "someone-else")
    conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer func() { _ = conn.Close() }()

    if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil { t.Fatalf("init: %v", err) }
    var ack wsMessage
    if err := conn.ReadJSON(&ack); err != nil { t.Fatalf("ack: %v", err) }

    pl, _ := json.Marshal(map[string]string{"otId": o.ID})
    if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
        t.Fatalf("subscribe: %v", err)
    }
    _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    var msg wsMessage
    if err := conn.ReadJSON(&msg); err != nil { t.Fatalf("read: %v", err) }
    if msg.Type != "error" { t.Fatalf("expected error, got %q", msg.Type) }
}
