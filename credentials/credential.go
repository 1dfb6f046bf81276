// Package credentials implements the agent's ordered, regex-matched
// login store (spec.md §4.5, component C5), grounded on
// notch/agent/credential.py's Credential/YamlCredentials classes.
package credentials

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/nanoncore/notch/apierrors"
)

// MissingFieldError reports a credential record missing a required field
// at load time. Infrastructure-tier: fatal at startup, surfaced to the
// operator rather than mapped to a wire code.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("credential missing required field %q", e.Field)
}

// Credential is one login record: a hostname-matching regexp plus the
// secrets and connection hints to use once it matches.
type Credential struct {
	RegexpString         string
	Regexp               *regexp.Regexp
	Username             string
	Password             string
	EnablePassword       string
	SSHPrivateKey        []byte
	SSHPrivateKeyPath    string
	AutoEnable           bool
	ConnectMethod        string
}

// GetUsername, GetPassword, GetSSHPrivateKey, and GetSSHPrivateKeyPath
// satisfy transport.Credential, so a *Credential can be handed straight
// to any Transport.Connect call. GetEnablePassword and GetAutoEnable
// round the set out to satisfy device.Credential as well.
func (c *Credential) GetUsername() string         { return c.Username }
func (c *Credential) GetPassword() string         { return c.Password }
func (c *Credential) GetSSHPrivateKey() []byte     { return c.SSHPrivateKey }
func (c *Credential) GetSSHPrivateKeyPath() string { return c.SSHPrivateKeyPath }
func (c *Credential) GetEnablePassword() string    { return c.EnablePassword }
func (c *Credential) GetAutoEnable() bool          { return c.AutoEnable }

// Equal reports structural equality, matching Credential.__eq__ in the
// original agent.
func (c *Credential) Equal(other *Credential) bool {
	if other == nil {
		return false
	}
	return c.RegexpString == other.RegexpString &&
		c.Username == other.Username &&
		c.Password == other.Password &&
		c.EnablePassword == other.EnablePassword &&
		string(c.SSHPrivateKey) == string(other.SSHPrivateKey) &&
		c.SSHPrivateKeyPath == other.SSHPrivateKeyPath
}

// Matches reports whether hostname matches this credential's anchored,
// case-insensitive regexp. An empty hostname never matches.
func (c *Credential) Matches(hostname string) bool {
	if hostname == "" {
		return false
	}
	return c.Regexp.MatchString(hostname)
}

// newCredential compiles regexp (anchoring it if necessary, and always
// matching case-insensitively) the way Credential.__init__ does.
func newCredential(raw rawCredential) (*Credential, error) {
	if raw.Username == "" {
		return nil, &MissingFieldError{Field: "username"}
	}
	pattern := raw.Regexp
	if pattern == "" {
		pattern = "^.*$"
	}
	if pattern[0] != '^' {
		pattern = "^" + pattern
	}
	if pattern[len(pattern)-1] != '$' {
		pattern = pattern + "$"
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling credential regexp %q: %w", pattern, err)
	}
	return &Credential{
		RegexpString:      pattern,
		Regexp:            re,
		Username:          raw.Username,
		Password:          raw.Password,
		EnablePassword:    raw.EnablePassword,
		SSHPrivateKey:     []byte(raw.SSHPrivateKey),
		SSHPrivateKeyPath: raw.SSHPrivateKeyFilename,
		AutoEnable:        raw.AutoEnable,
		ConnectMethod:     raw.ConnectMethod,
	}, nil
}

// rawCredential is the YAML document shape, one list element per entry.
type rawCredential struct {
	Regexp                string `yaml:"regexp"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	EnablePassword        string `yaml:"enable_password"`
	SSHPrivateKey         string `yaml:"ssh_private_key"`
	SSHPrivateKeyFilename string `yaml:"ssh_private_key_filename"`
	AutoEnable            bool   `yaml:"auto_enable"`
	ConnectMethod         string `yaml:"connect_method"`
}

// Store holds an ordered list of credentials, matched first-to-last.
type Store struct {
	credentials []*Credential
}

// Load reads a YAML credentials file, the only format Notch supports
// (the original agent dispatched on file extension across a registry of
// one; Notch drops that indirection since there is exactly one format).
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %q: %w", path, err)
	}
	store, err := LoadFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file %q: %w", path, err)
	}
	return store, nil
}

// LoadFromYAML parses a credentials document already in memory, the
// shape Load reads from disk. Exposed separately so callers (and tests)
// that already hold the document don't need a temp file.
func LoadFromYAML(data []byte) (*Store, error) {
	var raws []rawCredential
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	creds := make([]*Credential, 0, len(raws))
	for _, raw := range raws {
		c, err := newCredential(raw)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return &Store{credentials: creds}, nil
}

// Len reports how many credentials are loaded.
func (s *Store) Len() int { return len(s.credentials) }

// Get returns the first credential whose regexp matches hostname.
func (s *Store) Get(hostname string) (*Credential, error) {
	if hostname == "" {
		return nil, apierrors.NoMatchingCredentialf("no credentials for host %q", hostname)
	}
	for _, c := range s.credentials {
		if c.Matches(hostname) {
			return c, nil
		}
	}
	return nil, apierrors.NoMatchingCredentialf("no credentials for host %q", hostname)
}
