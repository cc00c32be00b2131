// Package main runs a demo WebSocket client for work-order events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post := func(path string, body []byte) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		return resp
	}
	decode := func(resp *http.Response, v any) {
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			log.Fatal(err)
		}
	}

	// Seed a technician, building, and template, then schedule an order.
	var tech struct{ ID string `json:"id"` }
	decode(post("/v1/technicians", []byte(`{"name":"Demo Tech"}`)), &tech)
	var bld struct{ ID string `json:"id"` }
	decode(post("/v1/buildings", []byte(`{"location":{"lat":-34.6,"lng":-58.4}}`)), &bld)
	var tpl struct{ ID string `json:"id"` }
	decode(post("/v1/templates", []byte(`{"name":"demo","items":[{"id":"i1","text":"inspect"}]}`)), &tpl)

	body, _ := json.Marshal(map[string]any{
		"kind": "preventive", "buildingId": bld.ID, "templateId": tpl.ID,
		"technicianId": tech.ID, "scheduledAt": time.Now().UTC().Format(time.RFC3339),
	})
	var order struct{ ID string `json:"id"` }
	decode(post("/v1/workorders", body), &order)
	log.Printf("Order ID: %s", order.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to order events
	pl, _ := json.Marshal(map[string]any{"otId": order.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an order event via arrival
	time.Sleep(500 * time.Millisecond)
	resp := post("/v1/workorders/"+order.ID+"/arrive", []byte(`{"coords":{"lat":-34.6,"lng":-58.4}}`))
	_ = resp.Body.Close()

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
