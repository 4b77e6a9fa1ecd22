package engine

import (
	"strconv"
	"strings"
)

// ConfigHeader opens every rendered configuration file.
const ConfigHeader = "# mongod.conf - generated by mongocfg\n# Local changes to this file will be overwritten.\n\n"

// directive is one line of the legacy mongod configuration format.
// Spaced directives render as "key = value", the others as "key=value".
type directive struct {
	key    string
	spaced bool
	emit   func(p *ParameterSet) bool
	value  func(p *ParameterSet) string
}

func unconditional(*ParameterSet) bool { return true }

func literalTrue(*ParameterSet) string { return "true" }

// directives is the output order of the configuration file.
var directives = []directive{
	{"dbpath", false, unconditional, func(p *ParameterSet) string { return p.DBPath }},
	{"logpath", false, func(p *ParameterSet) bool { return p.LogPath != "" }, func(p *ParameterSet) string { return p.LogPath }},
	{"logappend", false, unconditional, func(p *ParameterSet) string { return strconv.FormatBool(p.LogAppend) }},
	{"fork", false, unconditional, func(p *ParameterSet) string { return strconv.FormatBool(p.Fork) }},
	{"pidfilepath", false, func(p *ParameterSet) bool { return p.PidFilePath != "" }, func(p *ParameterSet) string { return p.PidFilePath }},
	{"port", true, func(p *ParameterSet) bool { return p.Port != nil }, func(p *ParameterSet) string { return strconv.Itoa(*p.Port) }},
	{"bind_ip", true, func(p *ParameterSet) bool { return len(p.BindIP) > 0 }, func(p *ParameterSet) string { return strings.Join(p.BindIP, ",") }},
	{"ipv6", false, func(p *ParameterSet) bool { return p.IPv6 }, literalTrue},
	{"journal", true, func(p *ParameterSet) bool { return p.Journal != nil }, func(p *ParameterSet) string { return strconv.FormatBool(*p.Journal) }},
	{"auth", false, func(p *ParameterSet) bool { return p.Auth }, literalTrue},
	{"quota", true, func(p *ParameterSet) bool { return p.Quota }, literalTrue},
	{"quotaFiles", true, func(p *ParameterSet) bool { return p.Quota && p.QuotaFiles != nil }, func(p *ParameterSet) string { return strconv.Itoa(*p.QuotaFiles) }},
	{"syslog", true, func(p *ParameterSet) bool { return p.Syslog }, literalTrue},
	{"setParameter", true, func(p *ParameterSet) bool { return p.SetParameter != "" }, func(p *ParameterSet) string { return p.SetParameter }},
	{"keyFile", true, func(p *ParameterSet) bool { return p.KeyFile != "" }, func(p *ParameterSet) string { return p.KeyFile }},
	{"replSet", true, func(p *ParameterSet) bool { return p.ReplSet != "" }, func(p *ParameterSet) string { return p.ReplSet }},
	{"maxConns", true, func(p *ParameterSet) bool { return p.MaxConns != nil }, func(p *ParameterSet) string { return strconv.Itoa(*p.MaxConns) }},
	{"directoryperdb", true, func(p *ParameterSet) bool { return p.DirectoryPerDB }, literalTrue},
}

// Render produces the configuration file state. For ensure=absent the
// file is marked absent and carries no content.
func Render(p *ParameterSet) FileState {
	if p.Ensure == EnsureAbsent {
		return FileState{Path: p.ConfigPath, Ensure: FileEnsureAbsent}
	}

	return FileState{
		Path:    p.ConfigPath,
		Ensure:  FileEnsureFile,
		Mode:    "0644",
		Owner:   "root",
		Group:   "root",
		Content: RenderText(p),
	}
}

// RenderText serializes the parameter set in directive order.
func RenderText(p *ParameterSet) string {
	var sb strings.Builder
	sb.WriteString(ConfigHeader)
	for _, d := range directives {
		if !d.emit(p) {
			continue
		}
		sb.WriteString(d.key)
		if d.spaced {
			sb.WriteString(" = ")
		} else {
			sb.WriteString("=")
		}
		sb.WriteString(d.value(p))
		sb.WriteString("\n")
	}
	return sb.String()
}
