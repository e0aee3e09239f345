// Package websocket is the connection gateway for the game server.
//
// Clients connect to /ws?clientId=<id>. Each accepted connection gets a
// uuid connection id and a pair of goroutines:
//   - the read pump forwards every text frame to the dispatcher inbound
//     channel as a dispatch.Message envelope
//   - the write pump drains a buffered send queue, one frame per payload,
//     and pings the peer to keep the connection alive
//
// The gateway never interprets payloads. It announces a connection with a
// dispatch.Opened envelope before any of its frames and ends it with exactly
// one dispatch.Closed envelope.
//
// Send never blocks: when a connection's queue is full the connection is
// dropped and ErrSendBufferFull is returned.
//
// Usage:
//
//	inbound := make(chan dispatch.Envelope, 256)
//	gateway := websocket.NewGateway(inbound)
//	registry := session.NewRegistry(gateway)
//	http.HandleFunc("/ws", gateway.ServeWS)
package websocket
