package protocol

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func TestHeaderLength(t *testing.T) {
	cases := []struct {
		packetSize int
		want       int
	}{
		{1, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
		{16777215, 3},
		{16777216, 4},
	}
	for _, tc := range cases {
		if got := HeaderLength(tc.packetSize); got != tc.want {
			t.Errorf("HeaderLength(%d) = %d, want %d", tc.packetSize, got, tc.want)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, 2, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// 2-byte header holds the total length: 11 + 2.
	if got := buf.Bytes()[:2]; !bytes.Equal(got, []byte{0x00, 0x0D}) {
		t.Fatalf("header = %x, want 000d", got)
	}

	decoded, err := Decode(&buf, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Errorf("Body mismatch: got %s, want %s", decoded, body)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, 2, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(&buf, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("Expected empty body, got length %d", len(decoded))
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	// A declared length of 1 is shorter than the 2-byte header itself.
	buf := bytes.NewBuffer([]byte{0x00, 0x01})
	if _, err := Decode(buf, 2); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	// 254 bytes of payload + 1 byte header = 255, the most a 1-byte header allows.
	if _, err := Frame(1, make([]byte, 254)); err != nil {
		t.Fatalf("Frame at the limit failed: %v", err)
	}
	if _, err := Frame(1, make([]byte, 255)); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	if err := Encode(&buf, 4, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(&buf, 4)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, largeBody) {
		t.Errorf("large body mismatch")
	}
}

// Framing then de-framing any sequence of payloads yields them back in
// order, however the byte stream is chunked on the way in.
func TestFramerChunkedDelivery(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, packetSize := range []int{255, 1024, DefaultPacketSize} {
		headerLen := HeaderLength(packetSize)
		maxPayload := MaxPayload(packetSize)

		var payloads [][]byte
		var stream []byte
		sizes := []int{0, 1, maxPayload}
		for i := 0; i < 20; i++ {
			sizes = append(sizes, rng.Intn(maxPayload+1))
		}
		for _, n := range sizes {
			p := make([]byte, n)
			rng.Read(p)
			framed, err := Frame(headerLen, p)
			if err != nil {
				t.Fatalf("Frame(%d bytes) failed: %v", n, err)
			}
			payloads = append(payloads, p)
			stream = append(stream, framed...)
		}

		for _, chunk := range []int{1, 2, 3, 7, 100, len(stream)} {
			f := NewFramer(packetSize)
			var got [][]byte
			for off := 0; off < len(stream); off += chunk {
				end := off + chunk
				if end > len(stream) {
					end = len(stream)
				}
				f.Push(stream[off:end])
				for {
					p, ok, err := f.TryPull()
					if err != nil {
						t.Fatalf("TryPull failed: %v", err)
					}
					if !ok {
						break
					}
					got = append(got, p)
				}
			}

			if len(got) != len(payloads) {
				t.Fatalf("packetSize %d chunk %d: got %d packets, want %d", packetSize, chunk, len(got), len(payloads))
			}
			for i := range payloads {
				if !bytes.Equal(got[i], payloads[i]) {
					t.Fatalf("packetSize %d chunk %d: packet %d mismatch", packetSize, chunk, i)
				}
			}
			if f.Buffered() != 0 {
				t.Fatalf("packetSize %d chunk %d: %d bytes left over", packetSize, chunk, f.Buffered())
			}
		}
	}
}

func TestFramerPartial(t *testing.T) {
	f := NewFramer(DefaultPacketSize)
	framed, _ := Frame(2, []byte("abcdef"))

	f.Push(framed[:1])
	if _, ok, _ := f.TryPull(); ok {
		t.Fatal("pulled a packet from a partial header")
	}
	f.Push(framed[1:5])
	if _, ok, _ := f.TryPull(); ok {
		t.Fatal("pulled a partial packet")
	}
	if f.Buffered() != 5 {
		t.Fatalf("Buffered = %d, want 5", f.Buffered())
	}
	f.Push(framed[5:])
	p, ok, err := f.TryPull()
	if err != nil || !ok || string(p) != "abcdef" {
		t.Fatalf("TryPull = %q, %v, %v", p, ok, err)
	}
}

func TestFramerRejectsOversizedHeader(t *testing.T) {
	f := NewFramer(1024)
	f.Push([]byte{0xFF, 0xFF})
	if _, _, err := f.TryPull(); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}
