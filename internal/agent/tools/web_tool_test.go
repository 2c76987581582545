package tools

import (
	"strings"
	"testing"
)

func TestVisibleTextStripsMachinery(t *testing.T) {
	page := `<html><head><title>t</title><style>body{color:red}</style></head>
<body>
<script>var tracking = "secret";</script>
<h1>Release Notes</h1>
<p>Fixed the parser.</p>
<ul><li>faster</li><li>smaller</li></ul>
<div hidden>internal draft</div>
</body></html>`

	got := visibleText([]byte(page), "text/html; charset=utf-8")

	if strings.Contains(got, "tracking") || strings.Contains(got, "color:red") {
		t.Errorf("script/style content leaked:\n%s", got)
	}
	if strings.Contains(got, "internal draft") {
		t.Errorf("hidden element leaked:\n%s", got)
	}
	if !strings.Contains(got, "# Release Notes") {
		t.Errorf("heading prefix missing:\n%s", got)
	}
	if !strings.Contains(got, "- faster") || !strings.Contains(got, "- smaller") {
		t.Errorf("list bullets missing:\n%s", got)
	}
	if !strings.Contains(got, "Fixed the parser.") {
		t.Errorf("paragraph text missing:\n%s", got)
	}
}

func TestVisibleTextPassesThroughNonHTML(t *testing.T) {
	body := `{"status":"ok"}`
	if got := visibleText([]byte(body), "application/json"); got != body {
		t.Errorf("non-HTML content changed: %q", got)
	}
}

func TestValidateFetchURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public ip", "http://8.8.8.8/", false},
		{"https public ip", "https://1.1.1.1/q", false},
		{"empty", "", true},
		{"file scheme", "file:///etc/passwd", true},
		{"ftp scheme", "ftp://example.com/x", true},
		{"loopback", "http://127.0.0.1:8080/admin", true},
		{"private 10", "http://10.0.0.5/", true},
		{"private 192", "http://192.168.1.1/", true},
		{"link local", "http://169.254.169.254/latest/meta-data/", true},
		{"cloud metadata host", "http://metadata.google.internal/computeMetadata/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFetchURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFetchURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsBlockedIP(t *testing.T) {
	if !isBlockedIP(nil) {
		t.Error("nil IP must be blocked")
	}
}
