package logging

import "testing"

func TestMaskFieldAllowlistedPassesThrough(t *testing.T) {
	for _, key := range []string{"op", "caller", "nonce", "error"} {
		attr := MaskField(key, "visible")
		if got := attr.Value.String(); got != "visible" {
			t.Fatalf("allowlisted key %q masked to %q", key, got)
		}
	}
}

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	for _, key := range []string{"signature", "calldata", "swapData"} {
		attr := MaskField(key, "0xdeadbeef")
		if got := attr.Value.String(); got != RedactedValue {
			t.Fatalf("sensitive key %q leaked %q", key, got)
		}
		if attr.Key != key {
			t.Fatalf("key rewritten to %q", attr.Key)
		}
	}
}

func TestMaskFieldEmptyValueUnchanged(t *testing.T) {
	attr := MaskField("signature", "")
	if got := attr.Value.String(); got != "" {
		t.Fatalf("empty value rewritten to %q", got)
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("secret"); got != RedactedValue {
		t.Fatalf("MaskValue(secret) = %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("blank value rewritten to %q", got)
	}
}

func TestAllowlistExcludesSensitiveKeys(t *testing.T) {
	for _, key := range []string{"signature", "calldata", "swapData"} {
		if IsAllowlisted(key) {
			t.Fatalf("%q must not be allowlisted", key)
		}
	}
	for _, key := range RedactionAllowlist() {
		if !IsAllowlisted(key) {
			t.Fatalf("allowlist out of sync for %q", key)
		}
	}
}
