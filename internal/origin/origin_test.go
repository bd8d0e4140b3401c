package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		want       string
		wantHost   string
		wantOK     bool
	}{
		{"simple https", "https://app.example.com", "https://app.example.com", "app.example.com", true},
		{"default https port stripped", "https://app.example.com:443", "https://app.example.com", "app.example.com", true},
		{"default http port stripped", "http://app.example.com:80", "http://app.example.com", "app.example.com", true},
		{"non-default port kept", "https://app.example.com:8443", "https://app.example.com:8443", "app.example.com:8443", true},
		{"uppercase folded", "HTTPS://App.Example.COM", "https://app.example.com", "app.example.com", true},
		{"surrounding space", "  https://a.example  ", "https://a.example", "a.example", true},
		{"null origin", "null", "null", "", true},
		{"ipv6 literal", "https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"empty", "", "", "", false},
		{"path rejected", "https://a.example/login", "", "", false},
		{"query rejected", "https://a.example?x=1", "", "", false},
		{"userinfo rejected", "https://u:p@a.example", "", "", false},
		{"ws scheme rejected", "ws://a.example", "", "", false},
		{"zero port rejected", "https://a.example:0", "", "", false},
		{"port overflow rejected", "https://a.example:70000", "", "", false},
		{"garbage", "not an origin", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, host, ok := Normalize(tt.header)
			if ok != tt.wantOK || got != tt.want || host != tt.wantHost {
				t.Fatalf("Normalize(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.header, got, host, ok, tt.want, tt.wantHost, tt.wantOK)
			}
		})
	}
}

func TestAllowed_Allowlist(t *testing.T) {
	allow := []string{"https://app.example.com", "https://staging.example.com"}

	if !Allowed("https://app.example.com", "app.example.com", "relay.internal:8080", allow) {
		t.Fatalf("listed origin rejected")
	}
	if Allowed("https://evil.example.com", "evil.example.com", "relay.internal:8080", allow) {
		t.Fatalf("unlisted origin allowed")
	}
	if !Allowed("https://anything.example", "anything.example", "relay.internal", []string{"*"}) {
		t.Fatalf("wildcard did not match")
	}
	if Allowed("null", "", "relay.internal", allow) {
		t.Fatalf("null origin allowed against explicit allowlist")
	}
}

func TestAllowed_SameHostDefault(t *testing.T) {
	norm, host, ok := Normalize("https://relay.example.com:8443")
	if !ok {
		t.Fatalf("normalize failed")
	}

	if !Allowed(norm, host, "relay.example.com:8443", nil) {
		t.Fatalf("same host rejected")
	}
	if Allowed(norm, host, "other.example.com:8443", nil) {
		t.Fatalf("cross host allowed")
	}

	// Default port equivalence: Origin https://h (implicit 443) vs Host "h:443".
	norm, host, ok = Normalize("https://relay.example.com")
	if !ok {
		t.Fatalf("normalize failed")
	}
	if !Allowed(norm, host, "relay.example.com:443", nil) {
		t.Fatalf("default port not treated as equivalent")
	}

	if Allowed("null", "", "relay.example.com", nil) {
		t.Fatalf("null origin allowed under same-host policy")
	}
}
