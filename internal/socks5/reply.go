package socks5

import (
	"errors"
	"io"
	"syscall"

	txsocks5 "github.com/txthinking/socks5"
)

// RFC 1928: 0xFF indicates no acceptable methods.
const methodNoAcceptable = 0xff

// WriteSuccessReply writes the CONNECT success reply. The bound address is
// always reported as 0.0.0.0:0.
func WriteSuccessReply(w io.Writer) error {
	if _, err := newZeroAddrReply(txsocks5.RepSuccess).WriteTo(w); err != nil {
		return writeError("success reply", err)
	}
	return nil
}

// WriteFailureReply writes a CONNECT failure reply carrying the RFC 1928
// code that best describes err.
func WriteFailureReply(w io.Writer, err error) error {
	if _, werr := newZeroAddrReply(ReplyCode(err)).WriteTo(w); werr != nil {
		return writeError("failure reply", werr)
	}
	return nil
}

// ReplyCode maps a session error to an RFC 1928 reply code.
func ReplyCode(err error) byte {
	if err == nil {
		return txsocks5.RepSuccess
	}

	switch KindOf(err) {
	case UnsupportedRequest:
		return txsocks5.RepCommandNotSupported
	case UnsupportedAddressType, IPv6NotSupported:
		return txsocks5.RepAddressNotSupported
	case TargetDialFailed:
		switch {
		case errors.Is(err, syscall.ECONNREFUSED):
			return txsocks5.RepConnectionRefused
		case errors.Is(err, syscall.ENETUNREACH):
			return txsocks5.RepNetworkUnreachable
		default:
			return txsocks5.RepHostUnreachable
		}
	default:
		return txsocks5.RepServerFailure
	}
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(w); err != nil {
		return writeError("method reply", err)
	}
	return nil
}
