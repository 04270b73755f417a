package buffer

import (
	"math/big"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	b := New()
	b.WriteUint32(0xdeadbeef)
	r := NewReader(b.Bytes())
	v, err := r.ReadUint32()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("got %x want %x", v, 0xdeadbeef)
	}
}

func TestStringRoundTrip(t *testing.T) {
	b := New()
	b.WriteString("hello, sftp")
	r := NewReader(b.Bytes())
	s, err := r.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello, sftp" {
		t.Fatalf("got %q", s)
	}
}

func TestNameListRoundTrip(t *testing.T) {
	in := []string{"aes128-ctr", "aes256-ctr", "3des-cbc"}
	b := New()
	b.WriteNameList(in)
	r := NewReader(b.Bytes())
	out, err := r.ReadNameList()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %v want %v", out, in)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("got %v want %v", out, in)
		}
	}
}

func TestMPIntRoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(-1),
		big.NewInt(255),
		big.NewInt(-255),
		new(big.Int).Lsh(big.NewInt(1), 256),
	}
	for _, n := range cases {
		b := New()
		b.WriteMPInt(n)
		r := NewReader(b.Bytes())
		got, err := r.ReadMPInt()
		if err != nil {
			t.Fatal(err)
		}
		if got.Cmp(n) != 0 {
			t.Fatalf("got %s want %s", got, n)
		}
	}
}

func TestShortBuffer(t *testing.T) {
	r := NewReader([]byte{0, 0})
	if _, err := r.ReadUint32(); err == nil {
		t.Fatal("expected short buffer error")
	}
}
