package realtime

// AudioChunk is a raw PCM16LE binary frame read from a client connection.
// The transport layer wraps binary websocket frames in this type so the
// connection loops can select over a single inbound channel.
type AudioChunk struct {
	Data []byte
}

// BinaryFrame is synthesized audio queued for delivery as a binary
// websocket frame. Everything else on the outbound channel is JSON.
type BinaryFrame struct {
	Data []byte
}
