package common

import (
	"context"
	"fmt"
	"sync"

	topo_vault "github.com/comcast/topometrics/vault"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"
)

var (
	AgentCreds = AgentCredentials{
		Creds: make(map[string]*Credential),
	}

	// CredentialProfiles holds the parsed --credentials.profiles flag.
	CredentialProfiles Profiles

	log *zap.Logger
)

type AgentCredentials struct {
	mu    sync.Mutex
	Creds map[string]*Credential
	Vault *topo_vault.Vault
}

type Credential struct {
	User string
	Pass string
}

// Profiles is the payload of the --credentials.profiles flag. YAML is a
// superset of JSON so both documented forms parse through one decoder.
type Profiles struct {
	Profiles []Profile `yaml:"profiles" json:"profiles"`
}

type Profile struct {
	Name          string `yaml:"name" json:"name"`
	MountPath     string `yaml:"mountPath" json:"mountPath"`
	Path          string `yaml:"path" json:"path"`
	SecretName    string `yaml:"secretName,omitempty" json:"secretName,omitempty"`
	UserField     string `yaml:"userField" json:"userField"`
	PasswordField string `yaml:"passwordField" json:"passwordField"`
}

// CredentialProf wires the shared CredentialProfiles value into a kingpin
// flag.
func CredentialProf(s kingpin.Settings) *Profiles {
	s.SetValue(&CredentialProfiles)
	return &CredentialProfiles
}

func (p *Profiles) Set(value string) error {
	if err := yaml.Unmarshal([]byte(value), p); err != nil {
		return fmt.Errorf("unable to parse credential profiles: %w", err)
	}
	return nil
}

func (p *Profiles) String() string {
	out, err := yaml.Marshal(p)
	if err != nil {
		return ""
	}
	return string(out)
}

// Get returns the profile with the given name, or nil when it is unknown.
func (p *Profiles) Get(name string) *Profile {
	for i := range p.Profiles {
		if p.Profiles[i].Name == name {
			return &p.Profiles[i]
		}
	}
	return nil
}

// defaultProfile covers targets scraped without a credential_profile query
// parameter.
var defaultProfile = Profile{
	MountPath:     "kv2",
	UserField:     "user",
	PasswordField: "password",
}

func (c *AgentCredentials) Get(key string) (*Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.Creds[key]
	return val, ok
}

func (c *AgentCredentials) Set(key string, value *Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Creds[key] = value
}

func (c *AgentCredentials) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Creds, key)
}

// GetCredentials resolves the username and password for target through the
// vault backend. The profile name selects which secret location and field
// names to use; an empty or unknown name falls back to the default profile.
func (c *AgentCredentials) GetCredentials(ctx context.Context, profile, target string) (*Credential, error) {
	var credential *Credential
	var ok bool
	var user, pass string

	log = zap.L()

	if c.Vault == nil {
		log.Error("issue retrieving credentials from vault using target "+target, zap.Error(fmt.Errorf("vault client not configured")))
		return credential, fmt.Errorf("issue retrieving credentials from vault using target: %s", target)
	}

	prof := CredentialProfiles.Get(profile)
	if prof == nil {
		prof = &defaultProfile
	}

	props := topo_vault.SecretProperties{
		MountPath:     prof.MountPath,
		Path:          prof.Path,
		SecretName:    prof.SecretName,
		UserField:     prof.UserField,
		PasswordField: prof.PasswordField,
	}

	secret, err := c.Vault.GetKVSecret(ctx, &props, target)
	if err != nil {
		log.Error("issue retrieving credentials from vault using target "+target, zap.Error(err))
		return credential, fmt.Errorf("issue retrieving credentials from vault using target: %s", target)
	}

	if user, ok = secret.Data[props.UserField].(string); !ok {
		return credential, fmt.Errorf("the secret retrieved from vault using target %s is missing the %q field", target, props.UserField)
	}

	if pass, ok = secret.Data[props.PasswordField].(string); !ok {
		return credential, fmt.Errorf("the secret retrieved from vault using target %s is missing the %q field", target, props.PasswordField)
	}
	credential = &Credential{
		User: user,
		Pass: pass,
	}

	return credential, nil
}
