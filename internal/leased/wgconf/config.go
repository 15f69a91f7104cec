// Package wgconf models a wg-quick interface config as an ordered list of
// opaque sections plus an index from lease comments and public keys to peer
// blocks. Editing removes whole sections; every other byte round-trips.
package wgconf

import (
	"strings"
)

// Config is a parsed interface configuration.
type Config struct {
	Sections []*Section

	trailingNewline bool
	byToken         map[string]int
	byKey           map[string]int
}

// Parse splits data into sections. It never fails: lines it does not
// understand are carried as opaque body text.
func Parse(data []byte) *Config {
	text := string(data)
	c := &Config{trailingNewline: strings.HasSuffix(text, "\n")}
	text = strings.TrimSuffix(text, "\n")

	current := &Section{}
	c.Sections = append(c.Sections, current)

	for _, line := range strings.Split(text, "\n") {
		if !isHeader(line) {
			current.Body = append(current.Body, line)
			continue
		}

		next := &Section{Header: line}
		current.Body, next.Lead = splitLead(current.Body)
		c.Sections = append(c.Sections, next)
		current = next
	}

	c.reindex()
	return c
}

// splitLead detaches the comment run (and any blank lines after it) that
// sits directly above a header from the previous section's body.
func splitLead(body []string) (rest, lead []string) {
	j := len(body)
	for j > 0 && isBlank(body[j-1]) {
		j--
	}
	k := j
	for k > 0 && isComment(body[k-1]) {
		k--
	}
	if k == j {
		return body, nil
	}
	return body[:k:k], append([]string(nil), body[k:]...)
}

func (c *Config) reindex() {
	c.byToken = make(map[string]int)
	c.byKey = make(map[string]int)
	for i, s := range c.Sections {
		if !s.IsPeer() {
			continue
		}
		if key := s.PublicKey(); key != "" {
			if _, dup := c.byKey[key]; !dup {
				c.byKey[key] = i
			}
		}
		for _, tok := range s.Tokens() {
			if _, dup := c.byToken[tok]; !dup {
				c.byToken[tok] = i
			}
		}
	}
}

// Bytes serializes the config back to wg-quick format.
func (c *Config) Bytes() []byte {
	var lines []string
	for _, s := range c.Sections {
		lines = append(lines, s.lines()...)
	}
	out := strings.Join(lines, "\n")
	if c.trailingNewline && len(lines) > 0 {
		out += "\n"
	}
	return []byte(out)
}

// Peers returns every [Peer] section in file order.
func (c *Config) Peers() []*Section {
	var peers []*Section
	for _, s := range c.Sections {
		if s.IsPeer() {
			peers = append(peers, s)
		}
	}
	return peers
}

// PeerByLease returns the peer block whose comments carry id.
func (c *Config) PeerByLease(id string) (*Section, bool) {
	i, ok := c.byToken[id]
	if !ok || id == "" {
		return nil, false
	}
	return c.Sections[i], true
}

// PeerByKey returns the peer block with the given PublicKey.
func (c *Config) PeerByKey(key string) (*Section, bool) {
	i, ok := c.byKey[key]
	if !ok || key == "" {
		return nil, false
	}
	return c.Sections[i], true
}

// Annotation is a lease comment paired with the key of the peer below it.
type Annotation struct {
	Tokens    []string
	PublicKey string
}

// Annotations lists every commented peer block that carries a public key.
func (c *Config) Annotations() []Annotation {
	var out []Annotation
	for _, s := range c.Peers() {
		key := s.PublicKey()
		toks := s.Tokens()
		if key == "" || len(toks) == 0 {
			continue
		}
		out = append(out, Annotation{Tokens: toks, PublicKey: key})
	}
	return out
}

// RemovePeer drops the block matched by lease comment (any of ids) or, failing
// that, by public key. It reports whether a block was removed.
func (c *Config) RemovePeer(publicKey string, ids ...string) bool {
	idx := -1
	for _, id := range ids {
		if i, ok := c.byToken[id]; ok && id != "" {
			idx = i
			break
		}
	}
	if idx < 0 && publicKey != "" {
		if i, ok := c.byKey[publicKey]; ok {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}

	// A lease comment must never pull in a block that belongs to another key.
	if publicKey != "" {
		if k := c.Sections[idx].PublicKey(); k != "" && k != publicKey {
			if i, ok := c.byKey[publicKey]; ok {
				idx = i
			} else {
				return false
			}
		}
	}

	c.Sections = append(c.Sections[:idx], c.Sections[idx+1:]...)
	c.reindex()
	return true
}
