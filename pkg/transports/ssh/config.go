package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	// AuthMethodPassword offers the password and answers
	// keyboard-interactive prompts with it.
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Config holds the connection settings used to read facts from a host.
type Config struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
	User string `validate:"required"`

	AuthMethod           AuthMethod `validate:"oneof=password key"`
	Password             string     `validate:"required_if=AuthMethod password"`
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration `validate:"gt=0"`

	// CommandTimeout bounds each command when the caller context has no deadline.
	CommandTimeout time.Duration `validate:"gt=0"`
}

// DefaultConfig returns a Config for key authentication with host key checking.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        sshDir("known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        time.Minute,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields and, for key authentication, that the key
// exists. Without a key path the usual ~/.ssh identities are tried.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Errorf("%s: failed %q constraint (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
		return errors.Join(msgs...)
	}

	if c.AuthMethod != AuthMethodKey {
		return nil
	}
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = defaultIdentity()
		if c.PrivateKeyPath == "" {
			return errors.New("no private key given and none found in ~/.ssh")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	return nil
}

// sshDir joins name onto ~/.ssh, or returns "" without a home directory.
func sshDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", name)
}

func defaultIdentity() string {
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		if path := sshDir(name); path != "" {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// BuildSSHClientConfig loads the credentials and host key policy.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many sshd setups only offer keyboard-interactive for passwords.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(pem)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

// hostKeyCallback verifies against known_hosts unless checking is off.
func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsPath, err)
	}
	return cb, nil
}

// Address returns host:port, bracketing IPv6 literals.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
