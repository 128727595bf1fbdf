package fix

// Responder is the outbound sink a session pushes serialized bytes through.
// The transport driver installs one when a connection binds to the session
// and removes it on disconnect. Whether Send blocks is the driver's choice;
// the session only observes success or failure.
type Responder interface {
	// Send writes one serialized message. False means the transport failed
	// and the session treats it as a connection loss.
	Send(data []byte) bool

	// Disconnect tears down the transport. Idempotent.
	Disconnect()
}
