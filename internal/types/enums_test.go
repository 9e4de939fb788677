package types

import "testing"

func TestContentTypes_AllValid(t *testing.T) {
	if len(ContentTypes) != 8 {
		t.Fatalf("expected 8 content types, got %d", len(ContentTypes))
	}
	for _, ct := range ContentTypes {
		if !ct.IsValid() {
			t.Errorf("%q reported invalid", ct)
		}
	}
	for _, bad := range []ContentType{"", "tiktok-script", "Twitter-Thread"} {
		if bad.IsValid() {
			t.Errorf("%q reported valid", bad)
		}
	}
}

func TestTones_AllValid(t *testing.T) {
	if len(Tones) != 5 {
		t.Fatalf("expected 5 tones, got %d", len(Tones))
	}
	for _, tone := range Tones {
		if !tone.IsValid() {
			t.Errorf("%q reported invalid", tone)
		}
	}
	if Tone("sarcastic").IsValid() {
		t.Error("unknown tone reported valid")
	}
}

func TestEmojiPolicy(t *testing.T) {
	tests := []struct {
		policy EmojiPolicy
		valid  bool
		allows bool
	}{
		{"", true, false},
		{EmojiNone, true, false},
		{EmojiAllowed, true, true},
		{"sometimes", false, false},
	}
	for _, tt := range tests {
		if got := tt.policy.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tt.policy, got, tt.valid)
		}
		if got := tt.policy.Allows(); got != tt.allows {
			t.Errorf("%q.Allows() = %v, want %v", tt.policy, got, tt.allows)
		}
	}
}

func TestTier(t *testing.T) {
	if TierFree.IsPaid() {
		t.Error("free tier reported paid")
	}
	for _, tier := range []Tier{TierStarter, TierPro, TierBusiness} {
		if !tier.IsPaid() {
			t.Errorf("%q reported unpaid", tier)
		}
	}
	if Tier("enterprise").IsValid() {
		t.Error("unknown tier reported valid")
	}
}

func TestValidCredits(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 500} {
		if !ValidCredits(n) {
			t.Errorf("ValidCredits(%d) = false", n)
		}
	}
	for _, n := range []int{-2, -100} {
		if ValidCredits(n) {
			t.Errorf("ValidCredits(%d) = true", n)
		}
	}
}
