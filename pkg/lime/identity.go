package lime

import (
	"fmt"
	"strings"
)

// Identity is the name@domain addressing unit used for envelope storage
// and authentication. It is the instance-less projection of a Node.
type Identity struct {
	Name   string
	Domain string
}

// ParseIdentity parses a "name@domain" string into an Identity.
func ParseIdentity(s string) (Identity, error) {
	name, domain, ok := strings.Cut(s, "@")
	if !ok || name == "" || domain == "" {
		return Identity{}, fmt.Errorf("lime: invalid identity %q", s)
	}
	return Identity{Name: name, Domain: domain}, nil
}

// String renders the identity as "name@domain".
func (i Identity) String() string {
	return i.Name + "@" + i.Domain
}

// IsZero reports whether the identity has neither name nor domain set.
func (i Identity) IsZero() bool {
	return i.Name == "" && i.Domain == ""
}

// Equals compares two identities case-insensitively on name and domain,
// per the LIME node addressing rule.
func (i Identity) Equals(other Identity) bool {
	return strings.EqualFold(i.Name, other.Name) && strings.EqualFold(i.Domain, other.Domain)
}

// Node is a fully qualified LIME endpoint: name@domain/instance. Instance
// is optional; a Node without an instance is equivalent to its Identity.
type Node struct {
	Name     string
	Domain   string
	Instance string
}

// ParseNode parses a "name@domain/instance" (instance optional) string.
func ParseNode(s string) (Node, error) {
	addr, instance, _ := strings.Cut(s, "/")
	name, domain, ok := strings.Cut(addr, "@")
	if !ok || name == "" || domain == "" {
		return Node{}, fmt.Errorf("lime: invalid node %q", s)
	}
	return Node{Name: name, Domain: domain, Instance: instance}, nil
}

// String renders the node as "name@domain" or "name@domain/instance".
func (n Node) String() string {
	if n.Instance == "" {
		return n.Name + "@" + n.Domain
	}
	return n.Name + "@" + n.Domain + "/" + n.Instance
}

// Identity projects the node to its instance-less identity.
func (n Node) Identity() Identity {
	return Identity{Name: n.Name, Domain: n.Domain}
}

// IsZero reports whether the node has no name and domain set.
func (n Node) IsZero() bool {
	return n.Name == "" && n.Domain == ""
}

// Equals compares two nodes case-insensitively on name and domain and
// exactly on instance, so nodes with different instances are not equal.
func (n Node) Equals(other Node) bool {
	return strings.EqualFold(n.Name, other.Name) &&
		strings.EqualFold(n.Domain, other.Domain) &&
		n.Instance == other.Instance
}

// MarshalText implements encoding.TextMarshaler so Node serializes as a
// plain string field in envelope JSON.
func (n Node) MarshalText() ([]byte, error) {
	if n.IsZero() {
		return nil, nil
	}
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Node) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = Node{}
		return nil
	}
	parsed, err := ParseNode(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for Identity.
func (i Identity) MarshalText() ([]byte, error) {
	if i.IsZero() {
		return nil, nil
	}
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Identity.
func (i *Identity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*i = Identity{}
		return nil
	}
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
