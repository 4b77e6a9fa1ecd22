package engine

// Parameter names, shared by defaults, overrides and conflict errors.
const (
	FieldEnsure         = "ensure"
	FieldConfigPath     = "config"
	FieldDBPath         = "dbpath"
	FieldLogPath        = "logpath"
	FieldPort           = "port"
	FieldBindIP         = "bind_ip"
	FieldIPv6           = "ipv6"
	FieldFork           = "fork"
	FieldLogAppend      = "logappend"
	FieldAuth           = "auth"
	FieldJournal        = "journal"
	FieldQuota          = "quota"
	FieldQuotaFiles     = "quotafiles"
	FieldSyslog         = "syslog"
	FieldUser           = "user"
	FieldGroup          = "group"
	FieldPidFileMode    = "pidfilemode"
	FieldDBPathFix      = "dbpath_fix"
	FieldRCFilePath     = "rcfile"
	FieldStoreCreds     = "store_creds"
	FieldAdminUsername  = "admin_username"
	FieldAdminPassword  = "admin_password"
	FieldDirectoryPerDB = "directoryperdb"
)

type defaultRule struct {
	field   string
	applies func(PlatformFacts) bool
	value   any
}

func always(PlatformFacts) bool { return true }

func osFamilyIs(family string) func(PlatformFacts) bool {
	return func(f PlatformFacts) bool { return f.OSFamily == family }
}

// defaultRules is evaluated top to bottom; the first applicable rule for a
// field wins. Fields without a rule (port, journal, logpath, ...) stay unset.
var defaultRules = []defaultRule{
	{FieldEnsure, always, string(EnsurePresent)},
	{FieldConfigPath, always, "/etc/mongod.conf"},
	{FieldDBPath, always, "/var/lib/mongodb"},
	{FieldBindIP, always, []string{"0.0.0.0"}},
	{FieldIPv6, always, false},
	{FieldFork, always, true},
	{FieldLogAppend, always, true},
	{FieldAuth, always, false},
	{FieldQuota, always, false},
	{FieldSyslog, always, false},
	{FieldDBPathFix, always, false},
	{FieldRCFilePath, always, "/root/.mongorc.js"},
	{FieldStoreCreds, always, true},
	{FieldDirectoryPerDB, always, false},
	{FieldPidFileMode, always, "0644"},

	{FieldUser, osFamilyIs("RedHat"), "mongod"},
	{FieldGroup, osFamilyIs("RedHat"), "mongod"},
	{FieldUser, always, "mongodb"},
	{FieldGroup, always, "mongodb"},
}

// DefaultFor returns the default value of a field on the given platform.
func DefaultFor(field string, facts PlatformFacts) (any, bool) {
	for _, r := range defaultRules {
		if r.field == field && r.applies(facts) {
			if ips, ok := r.value.([]string); ok {
				return append([]string(nil), ips...), true
			}
			return r.value, true
		}
	}
	return nil, false
}

type platformOverride struct {
	field   string
	applies func(PlatformFacts) bool
	value   any
	reason  string
}

// platformOverrides replace caller values regardless of what was requested.
var platformOverrides = []platformOverride{
	{
		field:   FieldJournal,
		applies: func(f PlatformFacts) bool { return Is32Bit(f.Architecture) },
		value:   false,
		reason:  "journaling is not supported on 32-bit architectures",
	},
}

var arch32 = map[string]bool{
	"i386": true, "i486": true, "i586": true, "i686": true, "x86": true, "386": true,
	"armv7l": true, "armv6l": true, "arm": true,
}

// Is32Bit reports whether an architecture name denotes a 32-bit platform.
func Is32Bit(arch string) bool {
	return arch32[arch]
}
