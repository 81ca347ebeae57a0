package state

import (
	"bytes"
	"testing"
)

func TestPassphraseCacheRoundTrip(t *testing.T) {
	defer PassphraseCache.Clear()

	PassphraseCache.Set([]byte("hunter2"))
	got := PassphraseCache.Get()
	if !bytes.Equal(got, []byte("hunter2")) {
		t.Fatalf("Get() = %q, want %q", got, "hunter2")
	}

	// Mutating the returned copy must not affect the cached value.
	got[0] = 'X'
	again := PassphraseCache.Get()
	if !bytes.Equal(again, []byte("hunter2")) {
		t.Fatalf("cache was mutated through a returned copy: %q", again)
	}
}

func TestPassphraseCacheClear(t *testing.T) {
	PassphraseCache.Set([]byte("secret"))
	PassphraseCache.Clear()
	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("Get() after Clear() = %q, want nil", got)
	}
}

func TestPassphraseCacheSetNil(t *testing.T) {
	PassphraseCache.Set([]byte("old"))
	PassphraseCache.Set(nil)
	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("Get() after Set(nil) = %q, want nil", got)
	}
}
