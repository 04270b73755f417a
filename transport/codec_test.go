package transport

import (
	"bytes"
	"net"
	"testing"
)

func TestCodecRoundTripPlaintext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer := newCodec(client)
	reader := newCodec(server)

	payload := []byte{msgKexInit, 1, 2, 3, 4, 5}
	done := make(chan error, 1)
	go func() {
		_, err := writer.writePacket(payload)
		done <- err
	}()

	got, err := reader.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writePacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

func TestCodecRoundTripCiphered(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, 16)
	macKey := bytes.Repeat([]byte{0x33}, 32)

	writerCipher, err := newCipherState("aes128-ctr", "hmac-sha2-256", key, iv, macKey)
	if err != nil {
		t.Fatal(err)
	}
	readerCipher, err := newCipherState("aes128-ctr", "hmac-sha2-256", key, iv, macKey)
	if err != nil {
		t.Fatal(err)
	}

	writer := newCodec(client)
	writer.setWriteCipher(writerCipher)
	reader := newCodec(server)
	reader.setReadCipher(readerCipher)

	payload := bytes.Repeat([]byte("x"), 300)
	payload[0] = msgChannelData

	done := make(chan error, 1)
	go func() {
		_, err := writer.writePacket(payload)
		done <- err
	}()

	got, err := reader.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writePacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestCodecRejectsTamperedMAC(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	key := bytes.Repeat([]byte{0x44}, 32)
	iv := bytes.Repeat([]byte{0x55}, 16)
	macKey := bytes.Repeat([]byte{0x66}, 32)

	writerCipher, _ := newCipherState("aes128-ctr", "hmac-sha2-256", key, iv, macKey)
	readerCipher, _ := newCipherState("aes128-ctr", "hmac-sha2-256", key, iv, macKey)

	writer := newCodec(client)
	writer.setWriteCipher(writerCipher)
	reader := newCodec(server)
	reader.setReadCipher(readerCipher)

	// Corrupt the MAC key on the read side only, so verification fails.
	reader.read.mac.Reset()
	badCipher, _ := newCipherState("aes128-ctr", "hmac-sha2-256", key, iv, bytes.Repeat([]byte{0x77}, 32))
	reader.setReadCipher(&cipherState{stream: readerCipher.stream, mac: badCipher.mac, macSize: readerCipher.macSize, blockSize: readerCipher.blockSize})

	go writer.writePacket([]byte{msgChannelData, 1, 2, 3})

	if _, err := reader.readPacket(); err == nil {
		t.Fatal("expected MAC mismatch error")
	}
}
