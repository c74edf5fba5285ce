package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNormalizeService(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"book", "book "},
		{"avail", "avail"},
		{"report", "repor"},
		{"", "     "},
		{"ab", "ab   "},
	}

	for _, tc := range cases {
		if got := NormalizeService(tc.in); got != tc.want {
			t.Errorf("NormalizeService(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	services := []string{"book", "avail", "user", "a", "incid"}
	payloads := []any{
		map[string]any{"action": "create", "space_id": "s-1"},
		[]int{1, 2, 3},
		"plain string",
		42.5,
		map[string]any{"nested": map[string]any{"deep": []any{"x", nil, true}}},
	}

	for _, service := range services {
		for _, payload := range payloads {
			frame, err := Encode(service, payload)
			if err != nil {
				t.Fatalf("Encode(%q) returned error: %v", service, err)
			}

			gotService, gotPayload, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if gotService != NormalizeService(service) {
				t.Errorf("decoded service = %q, want %q", gotService, NormalizeService(service))
			}

			want, _ := json.Marshal(payload)
			if !bytes.Equal(gotPayload, want) {
				t.Errorf("decoded payload = %s, want %s", gotPayload, want)
			}
		}
	}
}

func TestEncodeLengthPrefix(t *testing.T) {
	frame, err := Encode("book", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"k": "v"})
	wantLen := len(payload) + ServiceWidth
	if got := string(frame[:LengthWidth]); got != "00014" || wantLen != 14 {
		t.Errorf("length prefix = %q (body %d), want %q", got, wantLen, "00014")
	}
	if got := string(frame[LengthWidth:HeaderWidth]); got != "book " {
		t.Errorf("service field = %q, want %q", got, "book ")
	}
}

func TestEncodeEmptyPayloadIsMinimumFrame(t *testing.T) {
	frame, err := EncodeRaw("notif", nil)
	if err != nil {
		t.Fatalf("EncodeRaw returned error: %v", err)
	}
	if len(frame) != HeaderWidth {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderWidth)
	}
	if string(frame) != "00005notif" {
		t.Errorf("frame = %q, want %q", frame, "00005notif")
	}

	service, payload, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if service != "notif" || payload != nil {
		t.Errorf("Decode = (%q, %s), want (\"notif\", nil)", service, payload)
	}
}

func TestDecodeShortInput(t *testing.T) {
	for i := 0; i < HeaderWidth; i++ {
		_, _, err := Decode(bytes.Repeat([]byte{'0'}, i))
		if !errors.Is(err, ErrFrameTooShort) {
			t.Errorf("Decode of %d bytes: got %v, want ErrFrameTooShort", i, err)
		}
	}
}

func TestDecodeInvalidPayload(t *testing.T) {
	_, _, err := Decode([]byte("00015book {not json"))
	if !errors.Is(err, ErrPayloadDecode) {
		t.Errorf("got %v, want ErrPayloadDecode", err)
	}
}

func TestDecodeMalformedLength(t *testing.T) {
	_, _, err := Decode([]byte("abcdebook {}"))
	if !errors.Is(err, ErrLengthPrefix) {
		t.Errorf("got %v, want ErrLengthPrefix", err)
	}
}

func TestEncodeOversizedPayload(t *testing.T) {
	_, err := EncodeRaw("book", []byte(`"`+strings.Repeat("x", MaxBodyLength)+`"`))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrame(t *testing.T) {
	t.Run("reads consecutive frames from one stream", func(t *testing.T) {
		var buf bytes.Buffer
		first, _ := Encode("book", map[string]string{"action": "create"})
		second, _ := Encode("avail", map[string]string{"action": "check"})
		buf.Write(first)
		buf.Write(second)

		service, _, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("first ReadFrame: %v", err)
		}
		if service != "book " {
			t.Errorf("first service = %q, want %q", service, "book ")
		}

		service, _, err = ReadFrame(&buf)
		if err != nil {
			t.Fatalf("second ReadFrame: %v", err)
		}
		if service != "avail" {
			t.Errorf("second service = %q, want %q", service, "avail")
		}

		if _, _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
			t.Errorf("exhausted stream: got %v, want io.EOF", err)
		}
	})

	t.Run("reports truncated body", func(t *testing.T) {
		frame, _ := Encode("book", map[string]string{"action": "create"})
		_, _, err := ReadFrame(bytes.NewReader(frame[:len(frame)-3]))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("rejects declared length below service width", func(t *testing.T) {
		_, _, err := ReadFrame(strings.NewReader("00003abc"))
		if !errors.Is(err, ErrFrameTooShort) {
			t.Errorf("got %v, want ErrFrameTooShort", err)
		}
	})

	t.Run("rejects non numeric prefix", func(t *testing.T) {
		_, _, err := ReadFrame(strings.NewReader("12a45book {}"))
		if !errors.Is(err, ErrLengthPrefix) {
			t.Errorf("got %v, want ErrLengthPrefix", err)
		}
	})
}

func FuzzDecode(f *testing.F) {
	seed, _ := Encode("book", map[string]string{"action": "create"})
	f.Add(seed)
	f.Add([]byte("00005book "))
	f.Add([]byte(""))
	f.Add([]byte("00010errorxxxxx"))

	f.Fuzz(func(t *testing.T, data []byte) {
		service, payload, err := Decode(data)
		if err != nil {
			if len(data) < HeaderWidth && !errors.Is(err, ErrFrameTooShort) {
				t.Fatalf("short input %q: got %v, want ErrFrameTooShort", data, err)
			}
			return
		}

		if len(service) != ServiceWidth {
			t.Fatalf("decoded service %q has width %d", service, len(service))
		}

		// Whatever decoded must survive a re-encode round trip.
		frame, err := EncodeRaw(service, payload)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		service2, payload2, err := Decode(frame)
		if err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if service2 != service || !bytes.Equal(payload2, payload) {
			t.Fatalf("round trip mismatch: (%q,%s) != (%q,%s)", service2, payload2, service, payload)
		}
	})
}
