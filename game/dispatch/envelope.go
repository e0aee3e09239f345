package dispatch

// Kind identifies what happened on a connection
type Kind int

const (
	// KindOpen announces a new connection and its client identity
	KindOpen Kind = iota
	// KindMessage carries one inbound text frame
	KindMessage
	// KindClosed is the last envelope a connection ever produces
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindMessage:
		return "message"
	case KindClosed:
		return "closed"
	}
	return "unknown"
}

// Envelope is one (connection, event) tuple on the inbound channel
type Envelope struct {
	Kind     Kind
	ConnID   string
	ClientID string
	Payload  []byte
}

// Opened builds the envelope announcing a connection
func Opened(connID, clientID string) Envelope {
	return Envelope{Kind: KindOpen, ConnID: connID, ClientID: clientID}
}

// Message builds the envelope for one inbound frame
func Message(connID string, payload []byte) Envelope {
	return Envelope{Kind: KindMessage, ConnID: connID, Payload: payload}
}

// Closed builds the envelope for a terminated connection
func Closed(connID string) Envelope {
	return Envelope{Kind: KindClosed, ConnID: connID}
}
