// Command client is a minimal viewer for cmd/monitor's status feed:
// it dials the websocket endpoint and prints each connection-table
// snapshot as it arrives. Adapted from this codebase's original
// websocket client (dial, read loop, print) with the FFT-dashboard
// config handshake dropped — the status feed is read-only and needs
// no client-to-server message.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8080", "monitor status-feed host:port")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}
		var pretty map[string]interface{}
		if err := json.Unmarshal(msg, &pretty); err != nil {
			log.Println("unmarshal:", err)
			continue
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		log.Println(string(out))
	}
}
