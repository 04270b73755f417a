package transport

import (
	"crypto/rand"
	"fmt"

	"github.com/sshcore/sshd/buffer"
)

// kexInitMsg mirrors RFC 4253 §7.1's SSH_MSG_KEXINIT payload: the
// name-lists both sides use to negotiate a matching algorithm for
// each of the ten categories below by first-match on the client's
// preference order.
type kexInitMsg struct {
	cookie                  [16]byte
	kexAlgorithms           []string
	serverHostKeyAlgorithms []string
	ciphersClientToServer   []string
	ciphersServerToClient   []string
	macsClientToServer      []string
	macsServerToClient      []string
	compressClientToServer  []string
	compressServerToClient  []string
	langClientToServer      []string
	langServerToClient      []string
	firstKexPacketFollows   bool
}

func (m *kexInitMsg) marshal() []byte {
	b := buffer.New()
	_ = b.WriteByte(msgKexInit)
	_, _ = b.Write(m.cookie[:])
	b.WriteNameList(m.kexAlgorithms)
	b.WriteNameList(m.serverHostKeyAlgorithms)
	b.WriteNameList(m.ciphersClientToServer)
	b.WriteNameList(m.ciphersServerToClient)
	b.WriteNameList(m.macsClientToServer)
	b.WriteNameList(m.macsServerToClient)
	b.WriteNameList(m.compressClientToServer)
	b.WriteNameList(m.compressServerToClient)
	b.WriteNameList(m.langClientToServer)
	b.WriteNameList(m.langServerToClient)
	b.WriteBool(m.firstKexPacketFollows)
	b.WriteUint32(0) // reserved
	return b.Bytes()
}

func parseKexInit(payload []byte) (*kexInitMsg, error) {
	if len(payload) == 0 || payload[0] != msgKexInit {
		return nil, fmt.Errorf("transport: expected KEXINIT, got message %d", firstByte(payload))
	}
	r := buffer.NewReader(payload[1:])
	m := &kexInitMsg{}
	cookie, err := readN(r, 16)
	if err != nil {
		return nil, err
	}
	copy(m.cookie[:], cookie)

	lists := []*[]string{
		&m.kexAlgorithms, &m.serverHostKeyAlgorithms,
		&m.ciphersClientToServer, &m.ciphersServerToClient,
		&m.macsClientToServer, &m.macsServerToClient,
		&m.compressClientToServer, &m.compressServerToClient,
		&m.langClientToServer, &m.langServerToClient,
	}
	for _, l := range lists {
		v, err := r.ReadNameList()
		if err != nil {
			return nil, fmt.Errorf("transport: parsing KEXINIT: %w", err)
		}
		*l = v
	}
	follows, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	m.firstKexPacketFollows = follows
	return m, nil
}

func readN(r *buffer.Buffer, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

func newCookie() ([16]byte, error) {
	var c [16]byte
	_, err := rand.Read(c[:])
	return c, err
}

// negotiate picks the first algorithm on client's list that also
// appears on server's, RFC 4253 §7.1's negotiation rule.
func negotiate(client, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("transport: no matching algorithm, client offered %v, server supports %v", client, server)
}

// negotiatedAlgorithms is the outcome of one KEXINIT exchange; of its
// fields only the kex pick is exposed to callers, via
// Transport.NegotiatedKex.
type negotiatedAlgorithms struct {
	kex                            string
	hostKey                        string
	cipherClientToServer           string
	cipherServerToClient           string
	macClientToServer              string
	macServerToClient              string
}

func negotiateAll(server, client *kexInitMsg) (negotiatedAlgorithms, error) {
	var n negotiatedAlgorithms
	var err error
	if n.kex, err = negotiate(client.kexAlgorithms, server.kexAlgorithms); err != nil {
		return n, err
	}
	if n.hostKey, err = negotiate(client.serverHostKeyAlgorithms, server.serverHostKeyAlgorithms); err != nil {
		return n, err
	}
	if n.cipherClientToServer, err = negotiate(client.ciphersClientToServer, server.ciphersClientToServer); err != nil {
		return n, err
	}
	if n.cipherServerToClient, err = negotiate(client.ciphersServerToClient, server.ciphersServerToClient); err != nil {
		return n, err
	}
	if n.macClientToServer, err = negotiate(client.macsClientToServer, server.macsClientToServer); err != nil {
		return n, err
	}
	if n.macServerToClient, err = negotiate(client.macsServerToClient, server.macsServerToClient); err != nil {
		return n, err
	}
	return n, nil
}
