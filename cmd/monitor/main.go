// Command monitor runs the same RPC server as cmd/rpcd plus a
// read-only websocket status feed broadcasting connection-table
// snapshots, for operators who want a live dashboard. It is the same
// binary split spec.md and SPEC_FULL.md describe as additive: the
// status feed never touches the RPC wire protocol. Grounded on this
// codebase's own server.go hub (Client{conn, send} + writePump +
// broadcastJSON over a registered client set).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	_ "github.com/sdrhost/sdrd/internal/device/rtltcp"
	_ "github.com/sdrhost/sdrd/internal/device/sim"
	"github.com/sdrhost/sdrd/internal/rpcd"
)

type client struct {
	conn *websocket.Conn
	send chan rpcd.Snapshot
}

func (c *client) writePump() {
	defer c.conn.Close()
	for snap := range c.send {
		if err := c.conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

func (h *hub) broadcast(snap rpcd.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- snap:
		default:
		}
	}
}

func main() {
	host := flag.String("h", "0.0.0.0", "address for the RPC listener")
	port := flag.Int("p", 20655, "port for the RPC listener")
	httpAddr := flag.String("monitor-addr", ":8080", "address for the status websocket")
	flag.Parse()

	srv, err := rpcd.Listen(*host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(int(rpcd.ExitBind))
	}
	defer srv.Close()

	snapshots := make(chan rpcd.Snapshot, 16)
	srv.SetSnapshotSink(snapshots)

	h := newHub()
	go func() {
		for snap := range snapshots {
			h.broadcast(snap)
		}
	}()

	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("monitor: upgrade:", err)
			return
		}
		c := &client{conn: conn, send: make(chan rpcd.Snapshot, 16)}
		h.register(c)
		go c.writePump()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister(c)
				return
			}
		}
	})

	go func() {
		log.Printf("monitor: status feed listening on %s/ws", *httpAddr)
		log.Fatal(http.ListenAndServe(*httpAddr, nil))
	}()

	code := srv.Run()
	os.Exit(int(code))
}
