package filter

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/identity"
	"golang.org/x/net/html"
	"mvdan.cc/xurls/v2"
)

// maxURLs bounds the links collected from one message before reputation checks
const maxURLs = 200

var strictURLs = xurls.Strict()

// ParseMessage builds a scan message from a raw RFC 5322 message.
// envelopeSender is used when the message has no parsable From header.
func ParseMessage(r io.Reader, envelopeSender string) (*core.Message, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &core.Message{
		ID:         strings.Trim(env.GetHeader("Message-ID"), "<> "),
		Subject:    env.GetHeader("Subject"),
		ObservedAt: time.Now(),
		Headers:    make(map[string][]string),
	}
	if env.Root != nil {
		for key, values := range env.Root.Header {
			msg.Headers[key] = append([]string(nil), values...)
		}
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.ObservedAt = date
	}

	msg.SenderAddress, msg.SenderDomain = senderFrom(env, envelopeSender)

	msg.BodyText = strings.TrimSpace(env.Text)
	if msg.BodyText == "" && env.HTML != "" {
		msg.BodyText = HTMLToText(env.HTML)
	}
	msg.URLs = ExtractURLs(env.Text, env.HTML)

	return msg, nil
}

// ParseRawMessage is ParseMessage over a byte slice
func ParseRawMessage(raw []byte, envelopeSender string) (*core.Message, error) {
	return ParseMessage(bytes.NewReader(raw), envelopeSender)
}

func senderFrom(env *enmime.Envelope, envelopeSender string) (address, domain string) {
	if list, err := env.AddressList("From"); err == nil && len(list) > 0 {
		from := list[0]
		address = from.Address
		if from.Name != "" {
			address = fmt.Sprintf("%s <%s>", from.Name, from.Address)
		}
		return address, identity.DomainFromAddress(from.Address)
	}
	if raw := strings.TrimSpace(env.GetHeader("From")); raw != "" {
		return raw, identity.DomainFromAddress(raw)
	}
	return envelopeSender, identity.DomainFromAddress(envelopeSender)
}

// HTMLToText renders an HTML body as plain text without link targets
func HTMLToText(htmlBody string) string {
	text, err := html2text.FromString(htmlBody, html2text.Options{OmitLinks: true})
	if err != nil {
		// html2text only fails on unparsable input; fall back to the tokenizer text
		return strings.TrimSpace(tokenText(htmlBody))
	}
	return strings.TrimSpace(text)
}

// ExtractURLs collects link targets from HTML anchors and URLs written in text,
// de-duplicated in order of first appearance
func ExtractURLs(text, htmlBody string) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || len(urls) >= maxURLs {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, href := range anchorHrefs(htmlBody) {
		add(href)
	}
	for _, u := range strictURLs.FindAllString(text, -1) {
		add(u)
	}
	for _, u := range strictURLs.FindAllString(tokenText(htmlBody), -1) {
		add(u)
	}
	return urls
}

// anchorHrefs returns the http(s) href of every <a> and <area> element
func anchorHrefs(htmlBody string) []string {
	if htmlBody == "" {
		return nil
	}
	var hrefs []string
	z := html.NewTokenizer(strings.NewReader(htmlBody))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if (tag != "a" && tag != "area") || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					href := strings.TrimSpace(string(val))
					lower := strings.ToLower(href)
					if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
						hrefs = append(hrefs, href)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// tokenText concatenates the text nodes of an HTML fragment
func tokenText(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(htmlBody))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
			sb.WriteByte(' ')
		}
	}
}
