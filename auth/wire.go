package auth

import (
	"fmt"

	"github.com/sshcore/sshd/buffer"
	"github.com/sshcore/sshd/session"
	"github.com/sshcore/sshd/transport"
	"golang.org/x/crypto/ssh"
)

// SSH message numbers this package reads and writes directly. The
// transport layer only ever hands UserAuth-layer payloads to
// ReadPacket/WritePacket once the first key exchange has completed, so
// these are all RFC 4252 message numbers.
const (
	msgServiceRequest  = 5
	msgServiceAccept   = 6
	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53
	// msgUserAuthInfoRequest(60)/PKOK(60) are the same wire number,
	// disambiguated by which method produced them; see
	// authenticateMethod's publickey and keyboard-interactive cases.
	msgUserAuthPKOK         = 60
	msgUserAuthInfoRequest  = 60
	msgUserAuthInfoResponse = 61
)

// expectServiceRequest reads one SERVICE_REQUEST and replies
// SERVICE_ACCEPT if it names service, per RFC 4253 §10.
func expectServiceRequest(t *transport.Transport, service string) error {
	payload, err := t.ReadPacket()
	if err != nil {
		return err
	}
	if len(payload) == 0 || payload[0] != msgServiceRequest {
		return fmt.Errorf("auth: expected SERVICE_REQUEST, got message %d", payloadType(payload))
	}
	name, err := buffer.NewReader(payload[1:]).ReadString()
	if err != nil {
		return fmt.Errorf("auth: parsing SERVICE_REQUEST: %w", err)
	}
	if name != service {
		return fmt.Errorf("auth: client requested unknown service %q", name)
	}
	b := buffer.New()
	_ = b.WriteByte(msgServiceAccept)
	b.WriteString(service)
	return t.WritePacket(b.Bytes())
}

func sendUserAuthSuccess(t *transport.Transport) error {
	return t.WritePacket([]byte{msgUserAuthSuccess})
}

// sendUserAuthFailure replies USERAUTH_FAILURE listing the methods
// still available to the client. partialSuccess is set when the
// just-attempted method succeeded but RequiredMethods still has
// methods outstanding (RFC 4252 §5.1).
func sendUserAuthFailure(t *transport.Transport, methods []string, partialSuccess bool) error {
	b := buffer.New()
	_ = b.WriteByte(msgUserAuthFailure)
	b.WriteNameList(methods)
	b.WriteBool(partialSuccess)
	return t.WritePacket(b.Bytes())
}

// authenticateMethod dispatches one USERAUTH_REQUEST to the
// configured authenticator for req.method, returning whether the
// attempt was accepted. probeOnly reports that the method already sent
// its own reply (the publickey query form) and the caller must neither
// reply again nor treat this as a completed attempt.
func (s *Service) authenticateMethod(t *transport.Transport, req *userAuthRequest, sess *session.Session) (accepted, probeOnly bool, err error) {
	switch req.method {
	case MethodNone:
		return false, false, nil

	case MethodPassword:
		if s.cfg.Password == nil {
			return false, false, ErrMethodDisabled
		}
		if _, err := req.fields.ReadBool(); err != nil { // changePassword flag, unused
			return false, false, fmt.Errorf("auth: parsing password request: %w", err)
		}
		password, err := req.fields.ReadString()
		if err != nil {
			return false, false, fmt.Errorf("auth: parsing password request: %w", err)
		}
		ok, err := s.cfg.Password(req.user, password, sess)
		return ok, false, err

	case MethodPublicKey:
		return s.authenticatePublicKey(t, req, sess)

	case MethodKeyboardInteractive:
		if s.cfg.KeyboardInteractive == nil {
			return false, false, ErrMethodDisabled
		}
		if _, err := req.fields.ReadString(); err != nil { // language tag, unused
			return false, false, fmt.Errorf("auth: parsing keyboard-interactive request: %w", err)
		}
		if _, err := req.fields.ReadString(); err != nil { // submethods, unused
			return false, false, fmt.Errorf("auth: parsing keyboard-interactive request: %w", err)
		}
		ok, err := s.cfg.KeyboardInteractive(req.user, sess, s.challenge(t))
		return ok, false, err

	default:
		return false, false, nil
	}
}

// authenticatePublicKey implements RFC 4252 §7's two-round handshake:
// a query (has_signature=false) asking whether pub would be
// acceptable, answered with PK_OK/FAILURE without consuming an
// attempt; and a proof (has_signature=true) carrying a signature over
// the session id and the request itself, which is verified against pub
// before being handed to the configured authenticator.
func (s *Service) authenticatePublicKey(t *transport.Transport, req *userAuthRequest, sess *session.Session) (accepted, probeOnly bool, err error) {
	if s.cfg.PublicKey == nil {
		return false, false, ErrMethodDisabled
	}
	hasSignature, err := req.fields.ReadBool()
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing publickey request: %w", err)
	}
	algo, err := req.fields.ReadString()
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing publickey request: %w", err)
	}
	keyBlob, err := req.fields.ReadBytes()
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing publickey request: %w", err)
	}
	pub, err := ssh.ParsePublicKey(keyBlob)
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing public key: %w", err)
	}

	if !hasSignature {
		ok, err := s.cfg.PublicKey(req.user, pub, sess)
		if err != nil {
			return false, true, err
		}
		if !ok {
			return false, true, sendUserAuthFailure(t, s.methods, false)
		}
		b := buffer.New()
		_ = b.WriteByte(msgUserAuthPKOK)
		b.WriteString(algo)
		b.WriteBytes(keyBlob)
		return false, true, t.WritePacket(b.Bytes())
	}

	sigBlob, err := req.fields.ReadBytes()
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing publickey request: %w", err)
	}
	sig, err := transport.ParseSignature(sigBlob)
	if err != nil {
		return false, false, fmt.Errorf("auth: parsing signature: %w", err)
	}

	signedBlob := publicKeySignedBlob(t.SessionID(), req.user, algo, keyBlob)
	if err := pub.Verify(signedBlob, sig); err != nil {
		return false, false, nil
	}
	ok, err := s.cfg.PublicKey(req.user, pub, sess)
	return ok, false, err
}

// publicKeySignedBlob reconstructs the data a publickey userauth
// signature is computed over, RFC 4252 §7: the session id as a
// length-prefixed string, followed by the USERAUTH_REQUEST fields
// themselves with has_signature fixed to true.
func publicKeySignedBlob(sessionID []byte, user, algo string, keyBlob []byte) []byte {
	b := buffer.New()
	b.WriteBytes(sessionID)
	_ = b.WriteByte(msgUserAuthRequest)
	b.WriteString(user)
	b.WriteString("ssh-connection")
	b.WriteString(MethodPublicKey)
	b.WriteBool(true)
	b.WriteString(algo)
	b.WriteBytes(keyBlob)
	return b.Bytes()
}

// challenge returns an ssh.KeyboardInteractiveChallenge that drives one
// INFO_REQUEST/INFO_RESPONSE round over t, for KeyboardInteractive
// authenticators that want to prompt the client mid-attempt (RFC 4256).
func (s *Service) challenge(t *transport.Transport) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		b := buffer.New()
		_ = b.WriteByte(msgUserAuthInfoRequest)
		b.WriteString(name)
		b.WriteString(instruction)
		b.WriteString("")
		b.WriteUint32(uint32(len(questions)))
		for i, q := range questions {
			b.WriteString(q)
			echo := false
			if i < len(echos) {
				echo = echos[i]
			}
			b.WriteBool(echo)
		}
		if err := t.WritePacket(b.Bytes()); err != nil {
			return nil, err
		}

		payload, err := t.ReadPacket()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || payload[0] != msgUserAuthInfoResponse {
			return nil, fmt.Errorf("auth: expected USERAUTH_INFO_RESPONSE, got message %d", payloadType(payload))
		}
		r := buffer.NewReader(payload[1:])
		n, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("auth: parsing USERAUTH_INFO_RESPONSE: %w", err)
		}
		answers := make([]string, n)
		for i := range answers {
			answers[i], err = r.ReadString()
			if err != nil {
				return nil, fmt.Errorf("auth: parsing USERAUTH_INFO_RESPONSE: %w", err)
			}
		}
		return answers, nil
	}
}
