// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: December 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package payload

import (
	"bytes"
	"testing"
)

func encodeOne(t *testing.T, data []byte, password string) []byte {
	t.Helper()
	enc, err := NewEncryptor(password, DefaultLevel, 1)
	if err != nil {
		t.Fatal(err)
	}
	out, err := enc.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte("abcdefgh"), 10000),
		{0, 1, 2, 3, 0xff},
	} {
		frame := encodeOne(t, data, "hunter2")
		if bytes.Equal(frame, data) {
			t.Fatal("encoded frame should differ from plaintext")
		}
		got, err := Decode(frame, "hunter2")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round trip mismatch for %d bytes", len(data))
		}
	}
}

func TestMultiFrameDecode(t *testing.T) {
	// Frames concatenate without separators and decode in order.
	a := encodeOne(t, []byte("first "), "pw")
	b := encodeOne(t, []byte("second"), "pw")
	got, err := Decode(append(a, b...), "pw")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first second" {
		t.Errorf("got %q", got)
	}
}

func TestPassthrough(t *testing.T) {
	// No password: bytes pass through unchanged, both directions.
	data := []byte("plaintext data")
	if got := encodeOne(t, data, ""); !bytes.Equal(got, data) {
		t.Errorf("encode without password should pass through, got %q", got)
	}
	got, err := Decode(data, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("decode without password should pass through, got %q", got)
	}
	// Empty input passes through even with a password.
	if got := encodeOne(t, nil, "pw"); len(got) != 0 {
		t.Errorf("empty input should stay empty, got %d bytes", len(got))
	}
}

func TestWrongPassword(t *testing.T) {
	frame := encodeOne(t, []byte("secret"), "right")
	if _, err := Decode(frame, "wrong"); err == nil {
		t.Error("wrong password should fail authentication")
	}
}

func TestTamperedFrame(t *testing.T) {
	frame := encodeOne(t, []byte("secret"), "pw")
	frame[len(frame)-1] ^= 0x01
	if _, err := Decode(frame, "pw"); err == nil {
		t.Error("tampered frame should fail authentication")
	}
}

func TestFrameLayout(t *testing.T) {
	frame := encodeOne(t, []byte("x"), "pw")
	// First line: four ASCII decimal lengths, space separated.
	nl := bytes.IndexByte(frame, '\n')
	if nl < 0 {
		t.Fatal("missing length line")
	}
	fields := bytes.Split(frame[:nl], []byte{' '})
	if len(fields) != 4 {
		t.Fatalf("want 4 length fields, got %d", len(fields))
	}
	// salt=16, nonce=12, tag=16
	if string(fields[1]) != "16" || string(fields[2]) != "12" || string(fields[3]) != "16" {
		t.Errorf("field lengths = %q %q %q, want 16 12 16", fields[1], fields[2], fields[3])
	}
}

func TestLevelRequiresPassword(t *testing.T) {
	if _, err := NewEncryptor("", 9, 1); err == nil {
		t.Error("a non-default level without a password should be rejected")
	}
}

func TestBadFrame(t *testing.T) {
	for _, raw := range []string{"1 2 3\nxxx", "a b c d\n", "100 16 12 16\nshort"} {
		if _, err := Decode([]byte(raw), "pw"); err == nil {
			t.Errorf("Decode(%q) should fail", raw)
		}
	}
}
