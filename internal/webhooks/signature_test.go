package webhooks

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"event_id":"evt_1","data":{}}`)
	now := time.Now()

	sig := Sign(secret, now, body)
	ts := strconv.FormatInt(now.Unix(), 10)

	if err := Verify(secret, sig, ts, body, now); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Tampered body.
	if err := Verify(secret, sig, ts, []byte(`{"event_id":"evt_2"}`), now); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered body: expected ErrBadSignature, got %v", err)
	}

	// Wrong secret.
	if err := Verify("whsec_other", sig, ts, body, now); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong secret: expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_StaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	signedAt := time.Now().Add(-MaxSkew - time.Minute)

	sig := Sign(secret, signedAt, body)
	ts := strconv.FormatInt(signedAt.Unix(), 10)

	if err := Verify(secret, sig, ts, body, time.Now()); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerify_SkewBoundary(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Now()

	// A delivery signed just inside the window verifies; timestamps from
	// the future are held to the same bound.
	within := now.Add(-MaxSkew + time.Second)
	sig := Sign(secret, within, body)
	if err := Verify(secret, sig, strconv.FormatInt(within.Unix(), 10), body, now); err != nil {
		t.Errorf("within skew: %v", err)
	}

	future := now.Add(MaxSkew + time.Minute)
	sig = Sign(secret, future, body)
	if err := Verify(secret, sig, strconv.FormatInt(future.Unix(), 10), body, now); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("future timestamp: expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerify_GarbageTimestamp(t *testing.T) {
	if err := Verify("s", "sig", "not-a-number", nil, time.Now()); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp, got %v", err)
	}
}
