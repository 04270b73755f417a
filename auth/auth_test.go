package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/sshcore/sshd/auth"
	"github.com/sshcore/sshd/buffer"
	"github.com/sshcore/sshd/internal/testutil/logcapture"
	"github.com/sshcore/sshd/session"
	"github.com/sshcore/sshd/transport"
	"golang.org/x/crypto/ssh"
)

// Wire message numbers RFC 4252 defines, mirrored here so the tests
// can play a minimal SSH client against a real auth.Service without
// depending on the transport package's unexported constants.
const (
	msgServiceRequest  = 5
	msgServiceAccept   = 6
	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthPKOK    = 60
	msgInfoRequest     = 60
	msgInfoResponse    = 61
)

var testSessionID = []byte("test-session-id")

// pair returns two Transports sharing a net.Pipe and the fixed test
// session id, standing in for the two ends of a handshake-completed
// connection.
func pair(t *testing.T) (server, client *transport.Transport) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { c.Close(); s.Close() })
	return transport.NewInsecureTestTransport(s, testSessionID), transport.NewInsecureTestTransport(c, testSessionID)
}

func serviceRequest(t *testing.T, client *transport.Transport) {
	t.Helper()
	b := buffer.New()
	_ = b.WriteByte(msgServiceRequest)
	b.WriteString("ssh-userauth")
	if err := client.WritePacket(b.Bytes()); err != nil {
		t.Fatalf("writing SERVICE_REQUEST: %v", err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatalf("reading SERVICE_ACCEPT: %v", err)
	}
	if len(payload) == 0 || payload[0] != msgServiceAccept {
		t.Fatalf("expected SERVICE_ACCEPT, got %v", payload)
	}
}

func passwordRequest(user, password string) []byte {
	b := buffer.New()
	_ = b.WriteByte(msgUserAuthRequest)
	b.WriteString(user)
	b.WriteString("ssh-connection")
	b.WriteString(auth.MethodPassword)
	b.WriteBool(false)
	b.WriteString(password)
	return b.Bytes()
}

// run drives svc.Authenticate on server in the background and returns
// a channel delivering its result.
func run(svc *auth.Service, server *transport.Transport) <-chan authResult {
	done := make(chan authResult, 1)
	go func() {
		sess, err := svc.Authenticate(server)
		done <- authResult{sess, err}
	}()
	return done
}

type authResult struct {
	sess *session.Session
	err  error
}

func TestPasswordAccepts(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return user == "bob" && password == "secret", nil
		},
	})
	done := run(svc, server)

	serviceRequest(t, client)
	if err := client.WritePacket(passwordRequest("bob", "secret")); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
	if res.sess.Service() != session.ServiceConnection {
		t.Fatalf("session not advanced to ServiceConnection")
	}
}

func TestPasswordRejectsWrongCredentialsThenSucceeds(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return password == "secret", nil
		},
	})
	done := run(svc, server)

	serviceRequest(t, client)
	if err := client.WritePacket(passwordRequest("bob", "wrong")); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthFailure {
		t.Fatalf("expected USERAUTH_FAILURE, got %v", payload)
	}

	if err := client.WritePacket(passwordRequest("bob", "secret")); err != nil {
		t.Fatal(err)
	}
	payload, err = client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}

	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestMaxAttemptsExhausted(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{
		MaxAttempts: 2,
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return false, nil
		},
	})
	done := run(svc, server)

	serviceRequest(t, client)
	for i := 0; i < 2; i++ {
		if err := client.WritePacket(passwordRequest("bob", "x")); err != nil {
			t.Fatal(err)
		}
		payload, err := client.ReadPacket()
		if err != nil {
			t.Fatal(err)
		}
		if len(payload) == 0 || payload[0] != msgUserAuthFailure {
			t.Fatalf("attempt %d: expected USERAUTH_FAILURE, got %v", i+1, payload)
		}
	}
	// The third attempt exceeds the budget; the service drops the
	// connection instead of replying.
	if err := client.WritePacket(passwordRequest("bob", "x")); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if !errors.Is(res.err, auth.ErrTooManyAttempts) {
		t.Fatalf("got %v, want ErrTooManyAttempts", res.err)
	}
}

func TestPerMethodMaxAttempts(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{
		MaxAttempts:          100,
		PerMethodMaxAttempts: map[string]int{auth.MethodPassword: 1},
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return false, nil
		},
	})
	done := run(svc, server)

	serviceRequest(t, client)
	if err := client.WritePacket(passwordRequest("bob", "x")); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthFailure {
		t.Fatalf("first attempt: expected USERAUTH_FAILURE, got %v", payload)
	}

	if err := client.WritePacket(passwordRequest("bob", "x")); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if !errors.Is(res.err, auth.ErrTooManyAttempts) {
		t.Fatalf("second password attempt should exceed the per-method budget, got %v", res.err)
	}
}

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// signPublicKeyRequest builds the USERAUTH_REQUEST proof form for the
// publickey method, RFC 4252 §7: has_signature=true and a signature
// over the session id followed by the request fields themselves.
func signPublicKeyRequest(t *testing.T, sessionID []byte, user string, signer ssh.Signer) []byte {
	t.Helper()
	algo := signer.PublicKey().Type()
	keyBlob := signer.PublicKey().Marshal()

	signed := buffer.New()
	signed.WriteBytes(sessionID)
	_ = signed.WriteByte(msgUserAuthRequest)
	signed.WriteString(user)
	signed.WriteString("ssh-connection")
	signed.WriteString(auth.MethodPublicKey)
	signed.WriteBool(true)
	signed.WriteString(algo)
	signed.WriteBytes(keyBlob)

	sig, err := signer.Sign(rand.Reader, signed.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	sigPayload := buffer.New()
	sigPayload.WriteString(sig.Format)
	sigPayload.WriteBytes(sig.Blob)

	b := buffer.New()
	_ = b.WriteByte(msgUserAuthRequest)
	b.WriteString(user)
	b.WriteString("ssh-connection")
	b.WriteString(auth.MethodPublicKey)
	b.WriteBool(true)
	b.WriteString(algo)
	b.WriteBytes(keyBlob)
	b.WriteBytes(sigPayload.Bytes())
	return b.Bytes()
}

func TestPublicKeySignatureVerified(t *testing.T) {
	server, client := pair(t)
	signer := newTestSigner(t)

	svc := auth.NewService(auth.Config{
		PublicKey: func(user string, pub ssh.PublicKey, sess *session.Session) (bool, error) {
			return user == "bob" && ssh.KeysEqual(pub, signer.PublicKey()), nil
		},
	})
	done := run(svc, server)

	serviceRequest(t, client)
	if err := client.WritePacket(signPublicKeyRequest(t, testSessionID, "bob", signer)); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestPublicKeyQueryDoesNotConsumeAttempt(t *testing.T) {
	server, client := pair(t)
	signer := newTestSigner(t)

	svc := auth.NewService(auth.Config{
		MaxAttempts: 1,
		PublicKey: func(user string, pub ssh.PublicKey, sess *session.Session) (bool, error) {
			return true, nil
		},
	})
	done := run(svc, server)
	serviceRequest(t, client)

	algo := signer.PublicKey().Type()
	keyBlob := signer.PublicKey().Marshal()
	query := buffer.New()
	_ = query.WriteByte(msgUserAuthRequest)
	query.WriteString("bob")
	query.WriteString("ssh-connection")
	query.WriteString(auth.MethodPublicKey)
	query.WriteBool(false)
	query.WriteString(algo)
	query.WriteBytes(keyBlob)
	if err := client.WritePacket(query.Bytes()); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthPKOK {
		t.Fatalf("expected PK_OK, got %v", payload)
	}

	// The proof form still succeeds even though MaxAttempts is 1 and
	// this is technically the second USERAUTH_REQUEST: the query
	// never counted against the budget.
	if err := client.WritePacket(signPublicKeyRequest(t, testSessionID, "bob", signer)); err != nil {
		t.Fatal(err)
	}
	payload, err = client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestRequiredMethodsChaining(t *testing.T) {
	server, client := pair(t)
	signer := newTestSigner(t)

	svc := auth.NewService(auth.Config{
		RequiredMethods: []string{auth.MethodPublicKey, auth.MethodPassword},
		PublicKey: func(user string, pub ssh.PublicKey, sess *session.Session) (bool, error) {
			return true, nil
		},
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return password == "secret", nil
		},
	})
	done := run(svc, server)
	serviceRequest(t, client)

	if err := client.WritePacket(signPublicKeyRequest(t, testSessionID, "bob", signer)); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthFailure {
		t.Fatalf("expected partial-success USERAUTH_FAILURE after publickey alone, got %v", payload)
	}

	if err := client.WritePacket(passwordRequest("bob", "secret")); err != nil {
		t.Fatal(err)
	}
	payload, err = client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS once both methods succeed, got %v", payload)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestKeyboardInteractiveChallengeRoundTrip(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{
		KeyboardInteractive: func(user string, sess *session.Session, challenge ssh.KeyboardInteractiveChallenge) (bool, error) {
			answers, err := challenge("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return false, err
			}
			return len(answers) == 1 && answers[0] == "secret", nil
		},
	})
	done := run(svc, server)
	serviceRequest(t, client)

	b := buffer.New()
	_ = b.WriteByte(msgUserAuthRequest)
	b.WriteString("bob")
	b.WriteString("ssh-connection")
	b.WriteString(auth.MethodKeyboardInteractive)
	b.WriteString("")
	b.WriteString("")
	if err := client.WritePacket(b.Bytes()); err != nil {
		t.Fatal(err)
	}

	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgInfoRequest {
		t.Fatalf("expected USERAUTH_INFO_REQUEST, got %v", payload)
	}

	resp := buffer.New()
	_ = resp.WriteByte(msgInfoResponse)
	resp.WriteUint32(1)
	resp.WriteString("secret")
	if err := client.WritePacket(resp.Bytes()); err != nil {
		t.Fatal(err)
	}

	payload, err = client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestNoClientAuthAcceptsImmediately(t *testing.T) {
	server, client := pair(t)
	svc := auth.NewService(auth.Config{NoClientAuth: true})
	done := run(svc, server)
	serviceRequest(t, client)

	b := buffer.New()
	_ = b.WriteByte(msgUserAuthRequest)
	b.WriteString("anyone")
	b.WriteString("ssh-connection")
	b.WriteString(auth.MethodNone)
	if err := client.WritePacket(b.Bytes()); err != nil {
		t.Fatal(err)
	}
	payload, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 || payload[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", payload)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
}

func TestAuthLogObservesEveryAttempt(t *testing.T) {
	server, client := pair(t)
	var logged []string
	svc := auth.NewService(auth.Config{
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return true, nil
		},
		AuthLog: func(user, method string, sess *session.Session, err error) {
			logged = append(logged, method)
		},
	})
	done := run(svc, server)
	serviceRequest(t, client)

	if err := client.WritePacket(passwordRequest("bob", "x")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadPacket(); err != nil {
		t.Fatal(err)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
	if len(logged) != 1 || logged[0] != auth.MethodPassword {
		t.Fatalf("got %v", logged)
	}
}

func TestAuthLogReachesCapturedLogger(t *testing.T) {
	server, client := pair(t)
	cap := logcapture.NewCapture()
	logger := cap.Logger()

	svc := auth.NewService(auth.Config{
		Password: func(user, password string, sess *session.Session) (bool, error) {
			return password == "secret", nil
		},
		AuthLog: func(user, method string, sess *session.Session, err error) {
			if err != nil {
				logger.Debug("auth failed", "user", user, "method", method)
				return
			}
			logger.Debug("auth ok", "user", user, "method", method)
		},
	})
	done := run(svc, server)
	serviceRequest(t, client)

	if err := client.WritePacket(passwordRequest("bob", "wrong")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadPacket(); err != nil {
		t.Fatal(err)
	}
	if err := client.WritePacket(passwordRequest("bob", "secret")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ReadPacket(); err != nil {
		t.Fatal(err)
	}
	if res := <-done; res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}

	if err := cap.Assert("auth failed"); err != nil {
		t.Fatal(err)
	}
	if err := cap.Assert("auth ok"); err != nil {
		t.Fatal(err)
	}
}
