// Package transport implements the SSH Transport Layer Protocol
// (RFC 4253): version-banner exchange, the binary packet protocol
// (framing, padding, cipher/MAC application and sequence numbering),
// KEXINIT algorithm negotiation, key exchange, and the rekey triggers
// that periodically repeat it. It is the layer the UserAuth service
// and the Connection-layer channel multiplexer are built on; neither
// of those layers touches the socket directly.
package transport

// SSH message numbers used by this package, RFC 4253 §12 and
// RFC 4254 §9.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit = 20
	msgNewKeys = 21

	// msgKexECDHInit and msgKexECDHReply are shared by every key
	// exchange method this package implements (RFC 5656 §4); a
	// server offering multiple kex methods would need to branch on
	// the negotiated method name to know how to parse the payload,
	// which is what the switch on the negotiated kex name in
	// transport.go does.
	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53
	// msgUserAuthPK60 is overloaded by RFC 4252: PK_OK for publickey,
	// PASSWD_CHANGEREQ for password, INFO_REQUEST for
	// keyboard-interactive. Callers disambiguate by which method is
	// in flight.
	msgUserAuthPK60      = 60
	msgUserAuthInfoReq   = 60
	msgUserAuthInfoResp  = 61

	msgGlobalRequest     = 80
	msgRequestSuccess    = 81
	msgRequestFailure    = 82
	msgChannelOpen       = 90
	msgChannelOpenConf   = 91
	msgChannelOpenFail   = 92
	msgChannelWindowAdj  = 93
	msgChannelData       = 94
	msgChannelExtData    = 95
	msgChannelEOF        = 96
	msgChannelClose      = 97
	msgChannelRequest    = 98
	msgChannelSuccess    = 99
	msgChannelFailure    = 100
)

// Disconnect reason codes, RFC 4253 §11.1.
const (
	DisconnectProtocolError              = 2
	DisconnectKeyExchangeFailed          = 3
	DisconnectByApplication              = 11
	DisconnectAuthCancelledByUser        = 13
	DisconnectNoMoreAuthMethodsAvailable = 14
)

// Channel open failure reason codes, RFC 4254 §5.1.
const (
	OpenAdministrativelyProhibited = 1
	OpenConnectFailed              = 2
	OpenUnknownChannelType         = 3
	OpenResourceShortage           = 4
)
