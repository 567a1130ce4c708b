package api

import "testing"

func TestCompareTokenRejectsEmptyWant(t *testing.T) {
	if compareToken("", "") {
		t.Error("expected empty configured token to never match")
	}
}

func TestCompareTokenMatchesExact(t *testing.T) {
	if !compareToken("secret", "secret") {
		t.Error("expected matching tokens to compare equal")
	}
}

func TestCompareTokenRejectsMismatch(t *testing.T) {
	if compareToken("secret", "wrong") {
		t.Error("expected mismatched tokens to compare unequal")
	}
}
