package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478"]},
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"],
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SupportsSingleStringURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": " stun:stun.example.com "}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.example.com" {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"urls": "stun:x"}`,
		`[{"urls": []}]`,
		`[{"urls": ["http://example.com"]}]`,
		`[{"urls": ["turn:turn.example.com"], "username": "u"}]`,
		`[{"urls": ["turns:turn.example.com"], "credential": "c"}]`,
		`[{"urls": 42}]`,
	} {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseICEServersJSON_TURNWithoutCredsWhenMinted(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersJSON(`[{"urls": ["turn:turn.example.com"]}]`, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || servers[0].Credential != nil {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example.com, ,stun:b.example.com",
		"turn:turn.example.com:3478",
		"user",
		"pass",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Fatalf("unexpected stun urls: %#v", servers[0].URLs)
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("unexpected turn server: %#v", servers[1])
	}

	if _, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "user", ""); err == nil {
		t.Fatalf("expected error for TURN without credential")
	}
	if _, err := ParseICEServersFromConvenienceEnv("udp:stun.example.com", "", "", ""); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}

	servers, err = ParseICEServersFromConvenienceEnv("", "", "", "")
	if err != nil || servers != nil {
		t.Fatalf("expected no servers, got %#v (%v)", servers, err)
	}
}

func TestICEServersJSONTakesPrecedence(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example.com"}]`, "stun:env.example.com", "", "", "", false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestIsTURNURL(t *testing.T) {
	t.Parallel()

	for url, want := range map[string]bool{
		"turn:a":      true,
		"TURNS:a":     true,
		" turn:a":     true,
		"stun:a":      false,
		"turnx.local": false,
	} {
		if got := IsTURNURL(url); got != want {
			t.Fatalf("IsTURNURL(%q)=%v, want %v", url, got, want)
		}
	}
}
