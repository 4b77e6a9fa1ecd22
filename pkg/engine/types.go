package engine

import (
	"fmt"
)

// Ensure is the desired existence state of the managed server configuration.
type Ensure string

const (
	// EnsurePresent produces every artifact with content.
	EnsurePresent Ensure = "present"

	// EnsureAbsent marks the managed files for removal.
	EnsureAbsent Ensure = "absent"
)

// Input is the caller-supplied parameter bag.
// Every field is optional; nil means "use the default".
type Input struct {
	Ensure       *string  `json:"ensure,omitempty" yaml:"ensure,omitempty" validate:"omitempty,oneof=present absent"`
	ConfigPath   *string  `json:"config,omitempty" yaml:"config,omitempty" validate:"omitempty,startswith=/"`
	DBPath       *string  `json:"dbpath,omitempty" yaml:"dbpath,omitempty" validate:"omitempty,startswith=/"`
	LogPath      *string  `json:"logpath,omitempty" yaml:"logpath,omitempty"`
	Port         *int     `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	BindIP       []string `json:"bind_ip,omitempty" yaml:"bind_ip,omitempty" validate:"omitempty,dive,ip"`
	IPv6         *bool    `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	Fork         *bool    `json:"fork,omitempty" yaml:"fork,omitempty"`
	LogAppend    *bool    `json:"logappend,omitempty" yaml:"logappend,omitempty"`
	Auth         *bool    `json:"auth,omitempty" yaml:"auth,omitempty"`
	Journal      *bool    `json:"journal,omitempty" yaml:"journal,omitempty"`
	Quota        *bool    `json:"quota,omitempty" yaml:"quota,omitempty"`
	QuotaFiles   *int     `json:"quotafiles,omitempty" yaml:"quotafiles,omitempty" validate:"omitempty,min=1"`
	Syslog       *bool    `json:"syslog,omitempty" yaml:"syslog,omitempty"`
	SetParameter *string  `json:"set_parameter,omitempty" yaml:"set_parameter,omitempty"`
	User         *string  `json:"user,omitempty" yaml:"user,omitempty" validate:"omitempty,min=1"`
	Group        *string  `json:"group,omitempty" yaml:"group,omitempty" validate:"omitempty,min=1"`
	PidFilePath  *string  `json:"pidfilepath,omitempty" yaml:"pidfilepath,omitempty" validate:"omitempty,startswith=/"`
	PidFileMode  *string  `json:"pidfilemode,omitempty" yaml:"pidfilemode,omitempty" validate:"omitempty,filemode"`
	DBPathFix    *bool    `json:"dbpath_fix,omitempty" yaml:"dbpath_fix,omitempty"`
	RCFilePath   *string  `json:"rcfile,omitempty" yaml:"rcfile,omitempty" validate:"omitempty,startswith=/"`
	StoreCreds   *bool    `json:"store_creds,omitempty" yaml:"store_creds,omitempty"`

	AdminUsername *string `json:"admin_username,omitempty" yaml:"admin_username,omitempty"`
	AdminPassword *string `json:"admin_password,omitempty" yaml:"admin_password,omitempty"`

	KeyFile        *string `json:"keyfile,omitempty" yaml:"keyfile,omitempty" validate:"omitempty,startswith=/"`
	ReplSet        *string `json:"replset,omitempty" yaml:"replset,omitempty"`
	MaxConns       *int    `json:"maxconns,omitempty" yaml:"maxconns,omitempty" validate:"omitempty,min=1"`
	DirectoryPerDB *bool   `json:"directoryperdb,omitempty" yaml:"directoryperdb,omitempty"`
}

// ParameterSet is the resolved configuration. It is treated as immutable
// once Validate has accepted it.
type ParameterSet struct {
	Ensure       Ensure   `json:"ensure" yaml:"ensure"`
	ConfigPath   string   `json:"config" yaml:"config"`
	DBPath       string   `json:"dbpath" yaml:"dbpath"`
	LogPath      string   `json:"logpath,omitempty" yaml:"logpath,omitempty"`
	Port         *int     `json:"port,omitempty" yaml:"port,omitempty"`
	BindIP       []string `json:"bind_ip" yaml:"bind_ip"`
	IPv6         bool     `json:"ipv6" yaml:"ipv6"`
	Fork         bool     `json:"fork" yaml:"fork"`
	LogAppend    bool     `json:"logappend" yaml:"logappend"`
	Auth         bool     `json:"auth" yaml:"auth"`
	Journal      *bool    `json:"journal,omitempty" yaml:"journal,omitempty"`
	Quota        bool     `json:"quota" yaml:"quota"`
	QuotaFiles   *int     `json:"quotafiles,omitempty" yaml:"quotafiles,omitempty"`
	Syslog       bool     `json:"syslog" yaml:"syslog"`
	SetParameter string   `json:"set_parameter,omitempty" yaml:"set_parameter,omitempty"`
	User         string   `json:"user" yaml:"user"`
	Group        string   `json:"group" yaml:"group"`
	PidFilePath  string   `json:"pidfilepath,omitempty" yaml:"pidfilepath,omitempty"`
	PidFileMode  string   `json:"pidfilemode,omitempty" yaml:"pidfilemode,omitempty"`
	DBPathFix    bool     `json:"dbpath_fix" yaml:"dbpath_fix"`
	RCFilePath   string   `json:"rcfile" yaml:"rcfile"`
	StoreCreds   bool     `json:"store_creds" yaml:"store_creds"`

	AdminUsername string `json:"admin_username,omitempty" yaml:"admin_username,omitempty"`
	AdminPassword string `json:"-" yaml:"-"`

	KeyFile        string `json:"keyfile,omitempty" yaml:"keyfile,omitempty"`
	ReplSet        string `json:"replset,omitempty" yaml:"replset,omitempty"`
	MaxConns       *int   `json:"maxconns,omitempty" yaml:"maxconns,omitempty"`
	DirectoryPerDB bool   `json:"directoryperdb" yaml:"directoryperdb"`

	Architecture string     `json:"architecture" yaml:"architecture"`
	OSFamily     string     `json:"os_family,omitempty" yaml:"os_family,omitempty"`
	Overrides    []Override `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// HasCredentials reports whether the credentials file should exist.
func (p *ParameterSet) HasCredentials() bool {
	return p.StoreCreds && p.Auth && p.AdminUsername != "" && p.AdminPassword != ""
}

// Override records a platform rule that replaced a requested value.
type Override struct {
	Field     string `json:"field" yaml:"field"`
	Requested any    `json:"requested" yaml:"requested"`
	Applied   any    `json:"applied" yaml:"applied"`
	Reason    string `json:"reason" yaml:"reason"`
}

// FileEnsure is the desired state of a managed filesystem entry.
type FileEnsure string

const (
	FileEnsureFile      FileEnsure = "file"
	FileEnsureDirectory FileEnsure = "directory"
	FileEnsureAbsent    FileEnsure = "absent"
)

// FileState describes a file or directory for an external convergence
// mechanism to apply.
type FileState struct {
	Path    string       `json:"path" yaml:"path"`
	Ensure  FileEnsure   `json:"ensure" yaml:"ensure"`
	Mode    string       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Owner   string       `json:"owner,omitempty" yaml:"owner,omitempty"`
	Group   string       `json:"group,omitempty" yaml:"group,omitempty"`
	Content string       `json:"content,omitempty" yaml:"content,omitempty"`
	Force   bool         `json:"force,omitempty" yaml:"force,omitempty"`
	Deps    []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Present reports whether the entry should exist.
func (f FileState) Present() bool {
	return f.Ensure != FileEnsureAbsent
}

// Ref returns the resource reference, e.g. File[/etc/mongod.conf].
func (f FileState) Ref() string {
	return FileRef(f.Path)
}

// ExecAction describes a one-shot command guarded by an onlyif condition.
type ExecAction struct {
	Name    string       `json:"name" yaml:"name"`
	Command string       `json:"command" yaml:"command"`
	Path    []string     `json:"path" yaml:"path"`
	OnlyIf  string       `json:"onlyif" yaml:"onlyif"`
	Deps    []Dependency `json:"dependencies" yaml:"dependencies"`
}

// Ref returns the resource reference, e.g. Exec[fix dbpath permissions].
func (e ExecAction) Ref() string {
	return ExecRef(e.Name)
}

// Dependency is an ordering edge towards another resource reference.
type Dependency struct {
	// TargetID is the reference of the resource this depends on.
	TargetID string `json:"target" yaml:"target"`

	// Type is the type of dependency relationship.
	Type DependencyType `json:"type" yaml:"type"`
}

// DependencyType represents the type of dependency between resources.
type DependencyType string

const (
	// DependencyRequire orders the dependent after its target.
	DependencyRequire DependencyType = "require"

	// DependencySubscribe orders the dependent after its target and
	// refreshes it when the target changes.
	DependencySubscribe DependencyType = "subscribe"
)

// FileRef formats a file resource reference.
func FileRef(path string) string {
	return fmt.Sprintf("File[%s]", path)
}

// ExecRef formats an exec resource reference.
func ExecRef(name string) string {
	return fmt.Sprintf("Exec[%s]", name)
}
