package dtls

// DTLS record layer constants (RFC 6347 section 4.1).
const (
	recordHeaderLen    = 13
	handshakeHeaderLen = 12

	contentHandshake       = 22
	contentApplicationData = 23

	handshakeClientHello        = 1
	handshakeHelloVerifyRequest = 3

	// client_version plus random precede session_id in a ClientHello body.
	helloFixedLen = 2 + 32
)

type verdict int

const (
	drop verdict = iota
	start
	feed
)

// classify decides what to do with a datagram given the state of the session
// for its source address. Only the first record of the datagram is examined.
func classify(st State, data []byte) verdict {
	if len(data) < recordHeaderLen {
		return drop
	}
	switch st {
	case StateNone:
		if isClientHello(data) {
			return start
		}
		return drop
	case StateHandshaking:
		if data[0] == contentApplicationData {
			return drop
		}
		return feed
	default:
		return feed
	}
}

func isClientHello(data []byte) bool {
	return len(data) > recordHeaderLen &&
		data[0] == contentHandshake &&
		data[recordHeaderLen] == handshakeClientHello
}

// handshakeBody returns the body of the first handshake message in data when
// it has type typ and arrived in a single fragment.
func handshakeBody(data []byte, typ byte) ([]byte, bool) {
	if len(data) < recordHeaderLen+handshakeHeaderLen || data[0] != contentHandshake {
		return nil, false
	}
	h := data[recordHeaderLen:]
	if h[0] != typ {
		return nil, false
	}
	length := uint24(h[1:4])
	offset := uint24(h[6:9])
	fragLen := uint24(h[9:12])
	if offset != 0 || fragLen != length || len(h)-handshakeHeaderLen < length {
		return nil, false
	}
	return h[handshakeHeaderLen : handshakeHeaderLen+length], true
}

// helloCookie returns the cookie a ClientHello echoes back. A first hello
// carries an empty cookie.
func helloCookie(data []byte) ([]byte, bool) {
	body, ok := handshakeBody(data, handshakeClientHello)
	if !ok || len(body) < helloFixedLen+1 {
		return nil, false
	}
	rest := body[helloFixedLen:]
	sid := int(rest[0])
	if len(rest) < 1+sid+1 {
		return nil, false
	}
	rest = rest[1+sid:]
	n := int(rest[0])
	if len(rest) < 1+n {
		return nil, false
	}
	return rest[1 : 1+n], true
}

// helloVerifyCookie returns the cookie carried by an outgoing
// HelloVerifyRequest.
func helloVerifyCookie(data []byte) ([]byte, bool) {
	body, ok := handshakeBody(data, handshakeHelloVerifyRequest)
	if !ok || len(body) < 3 {
		return nil, false
	}
	n := int(body[2])
	if n == 0 || len(body) < 3+n {
		return nil, false
	}
	return append([]byte(nil), body[3:3+n]...), true
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
