package socks5

import (
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"

	txsocks5 "github.com/txthinking/socks5"
)

// Request is a decoded SOCKS5 CONNECT request.
type Request struct {
	Cmd  byte
	Atyp byte
	Host string
	Port uint16
}

// Address returns the destination as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// ReadMethodRequest reads a method-negotiation message and returns the
// offered methods.
func ReadMethodRequest(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, readError("method request", err)
	}
	if hdr[0] != txsocks5.Ver {
		return nil, errorf(UnsupportedVersion, "version %#02x", hdr[0])
	}

	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, readError("methods", err)
	}
	return methods, nil
}

// ServerNegotiate performs server-side method negotiation. Only the
// no-authentication method is accepted; a client that does not offer it gets
// a no-acceptable-methods reply and a NoAcceptableAuth error.
func ServerNegotiate(rw io.ReadWriter) error {
	methods, err := ReadMethodRequest(rw)
	if err != nil {
		return err
	}

	if !containsMethod(methods, txsocks5.MethodNone) {
		if err := writeNoAcceptableMethods(rw); err != nil {
			return err
		}
		return errorf(NoAcceptableAuth, "offered methods %x", methods)
	}

	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(rw); err != nil {
		return writeError("method reply", err)
	}
	return nil
}

// ReadRequest reads and validates a CONNECT request.
//
// An IPv6 address type is rejected as soon as it is seen, without consuming
// the address bytes.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, readError("request header", err)
	}
	if hdr[0] != txsocks5.Ver || hdr[1] != txsocks5.CmdConnect || hdr[2] != 0x00 {
		return nil, errorf(UnsupportedRequest, "ver=%#02x cmd=%#02x rsv=%#02x", hdr[0], hdr[1], hdr[2])
	}

	req := &Request{Cmd: hdr[1], Atyp: hdr[3]}

	host, err := readHost(r, req.Atyp)
	if err != nil {
		return nil, err
	}
	req.Host = host

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return nil, readError("port", err)
	}
	req.Port = uint16(port[0])<<8 | uint16(port[1])

	return req, nil
}

func readHost(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case txsocks5.ATYPIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", readError("ipv4 address", err)
		}
		return netip.AddrFrom4(b).String(), nil
	case txsocks5.ATYPDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return "", readError("domain length", err)
		}
		if n[0] == 0 {
			return "", errorf(MalformedMessage, "empty domain name")
		}
		b := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return "", readError("domain name", err)
		}
		return strings.ToValidUTF8(string(b), "\uFFFD"), nil
	case txsocks5.ATYPIPv6:
		return "", NewError(IPv6NotSupported, nil)
	default:
		return "", errorf(UnsupportedAddressType, "atyp %#02x", atyp)
	}
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
