package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// WebSkill exposes http_get: fetch a URL and return its visible text.
// Requests are SSRF-guarded so the model cannot probe private ranges.
func WebSkill() *Skill {
	t := &webTool{
		client: &http.Client{
			Timeout:       30 * time.Second,
			Transport:     ssrfSafeTransport(),
			CheckRedirect: ssrfSafeRedirectCheck(),
		},
	}
	return &Skill{
		ID:          "web",
		Name:        "Web",
		Description: "Fetch web pages over HTTP",
		Icon:        "🌐",
		Category:    "web",
		Builtin:     true,
		Enabled:     true,
		Tools: []Tool{
			{
				Name:        "http_get",
				Description: "Fetch a URL with GET. HTML responses are reduced to visible text; use raw to skip extraction.",
				Params: []Param{
					{Name: "url", Type: "string", Description: "http or https URL", Required: true},
					{Name: "raw", Type: "boolean", Description: "Return the body as-is instead of extracted text"},
				},
				Run: t.runHTTPGet,
			},
		},
	}
}

type webTool struct {
	client *http.Client
}

const (
	fetchBodyLimit = 2 << 20 // 2 MiB of response body
	fetchTextLimit = 50000
	fetchUserAgent = "claw/1.0"
)

func (t *webTool) runHTTPGet(ctx context.Context, args map[string]any) (string, error) {
	rawURL := StringArg(args, "url")
	if err := validateFetchURL(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if !BoolArg(args, "raw") {
		text = visibleText(body, contentType)
	}
	truncated := false
	if len(text) > fetchTextLimit {
		text = text[:fetchTextLimit]
		truncated = true
	}

	var out strings.Builder
	fmt.Fprintf(&out, "HTTP %d %s\nContent-Type: %s\nSize: %d bytes\n",
		resp.StatusCode, http.StatusText(resp.StatusCode), contentType, len(body))
	if truncated {
		out.WriteString("(content truncated)\n")
	}
	out.WriteString("\n")
	out.WriteString(text)
	return out.String(), nil
}

// ==============================
// Visible-text extraction
// ==============================

// skipSubtrees are elements whose entire subtree carries no readable text.
var skipSubtrees = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
}

var collapseSpaceRe = regexp.MustCompile(`[ \t]+`)
var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// visibleText reduces HTML to the text a reader would see. Non-HTML
// content passes through unchanged.
func visibleText(raw []byte, contentType string) string {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return string(raw)
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}

	var buf strings.Builder
	buf.Grow(len(raw) / 3)
	walkVisible(doc, &buf)

	lines := strings.Split(buf.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(collapseSpaceRe.ReplaceAllString(line, " "), unicode.IsSpace)
	}
	text := multiNewlineRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

func walkVisible(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipSubtrees[n.DataAtom] || nodeHasAttr(n, "hidden") {
			return
		}
		block := isBlockAtom(n.DataAtom)
		if block {
			buf.WriteString("\n")
		}
		if level := headingDepth(n.DataAtom); level > 0 {
			buf.WriteString(strings.Repeat("#", level) + " ")
		}
		if n.DataAtom == atom.Li {
			buf.WriteString("- ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkVisible(c, buf)
		}
		if n.DataAtom == atom.Br || block {
			buf.WriteString("\n")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkVisible(c, buf)
		}
	}
}

func nodeHasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isBlockAtom(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Section, atom.Article, atom.Header,
		atom.Footer, atom.Nav, atom.Main, atom.Blockquote, atom.Pre,
		atom.Ul, atom.Ol, atom.Li, atom.Table, atom.Tr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func headingDepth(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// ==============================
// SSRF protection
// ==============================

var ssrfBlockedNets = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "0.0.0.0/8", "100.64.0.0/10",
		"::1/128", "fc00::/7", "fe80::/10",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	for _, n := range ssrfBlockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func validateFetchURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed (only http/https)", u.Scheme)
	}
	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("empty hostname")
	}
	if strings.EqualFold(hostname, "metadata.google.internal") {
		return fmt.Errorf("cloud metadata endpoint %q is blocked", hostname)
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return fmt.Errorf("%q resolves to private IP %s", hostname, ip)
		}
	}
	return nil
}

// ssrfSafeTransport re-checks the resolved address at connect time so a
// DNS rebind between validation and dial cannot slip through.
func ssrfSafeTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q: %w", addr, err)
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("DNS resolution failed: %w", err)
			}
			for _, ipAddr := range ips {
				if isBlockedIP(ipAddr.IP) {
					return nil, fmt.Errorf("%q resolved to private IP %s at connect time", host, ipAddr.IP)
				}
			}
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			for _, ipAddr := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to connect to any resolved IP for %q", host)
		},
	}
}

func ssrfSafeRedirectCheck() func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		if err := validateFetchURL(req.URL.String()); err != nil {
			return fmt.Errorf("redirect blocked: %w", err)
		}
		return nil
	}
}
