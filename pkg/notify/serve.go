package notify

import "net/http"

// Serve runs the WebSocket endpoint clients subscribe on.
func Serve(addr string, hub *Hub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	return http.ListenAndServe(addr, mux)
}
