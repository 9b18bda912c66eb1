package websocket

import "context"

// ServeWs attaches an upgraded connection to the room of p.DocumentID and
// blocks until the connection ends.
func ServeWs(ctx context.Context, hub *Hub, conn Conn, p Participant) error {
	room, err := hub.Room(ctx, p.DocumentID)
	if err != nil {
		conn.Close()
		return err
	}

	client := newClient(p, conn, room, hub.opts.MaxBacklog, hub.logger)
	if !room.attach(client) {
		conn.Close()
		return ErrRoomClosed
	}

	go client.writePump()
	client.readPump(hub.opts.MaxMessageSize)
	return nil
}
