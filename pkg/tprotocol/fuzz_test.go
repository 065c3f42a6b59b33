// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomPayload(rng *rand.Rand) []byte {
	payload := make([]byte, TokenSize+rng.Intn(64))
	rng.Read(payload)
	return payload
}

// TestFuzzDecoder_RandomWords feeds random words and checks the decoder never panics
func TestFuzzDecoder_RandomWords(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		for i := 0; i < 256; i++ {
			f, _ := d.DecodeWord(uint16(rng.Intn(0x10000)))
			if f != nil && f.StoredSize() > MaxPayloadSize {
				t.Fatalf("round %d: stored size %d exceeds max", round, f.StoredSize())
			}
		}
	}
}

// TestFuzzDecoder_RandomFrames round-trips random frames
func TestFuzzDecoder_RandomFrames(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		id := uint16(rng.Intn(0x10000))
		payload := randomPayload(rng)

		words, err := EncodeFrame(id, payload)
		if err != nil {
			t.Fatalf("round %d: encode failed: %v", round, err)
		}

		var got *Frame
		for _, w := range words {
			f, err := d.DecodeWord(w)
			if err != nil {
				t.Fatalf("round %d: decode error: %v", round, err)
			}
			if f != nil {
				got = f
			}
		}
		if got == nil {
			t.Fatalf("round %d: frame not decoded", round)
		}
		if got.CommandID != id || !bytes.Equal(got.Data(), payload) {
			t.Fatalf("round %d: frame mismatch", round)
		}
	}
}

// TestFuzzDecoder_CorruptedFrames checks that any single corrupted payload
// byte is caught by the checksum
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		id := uint16(rng.Intn(0x10000))
		payload := randomPayload(rng)

		original, _ := EncodeFrame(id, payload)

		corrupted := append([]byte(nil), payload...)
		corrupted[rng.Intn(len(corrupted))] ^= byte(1 + rng.Intn(255))
		words, _ := EncodeFrame(id, corrupted)
		words[len(words)-1] = original[len(original)-1]

		var gotErr error
		for _, w := range words {
			f, err := d.DecodeWord(w)
			if f != nil {
				t.Fatalf("round %d: corrupted frame was accepted", round)
			}
			if err != nil {
				gotErr = err
			}
		}
		if !IsChecksumError(gotErr) {
			t.Fatalf("round %d: expected checksum error, got %v", round, gotErr)
		}
	}
}
