package policy

import (
	"github.com/openfroyo/mongocfg/pkg/engine"
)

// knownFamilies are the OS families whose default owner is published to
// policies under data.platform.
var knownFamilies = []string{"RedHat", "Debian", "Suse", "Archlinux", "Gentoo"}

// platformData is the base document stored next to the policies. It
// exposes the platform default owner so policies can tell a custom
// user apart from the packaged one.
func platformData() map[string]interface{} {
	users := make(map[string]interface{}, len(knownFamilies))
	groups := make(map[string]interface{}, len(knownFamilies))
	for _, family := range knownFamilies {
		facts := engine.PlatformFacts{OSFamily: family}
		if u, ok := engine.DefaultFor(engine.FieldUser, facts); ok {
			users[family] = u
		}
		if g, ok := engine.DefaultFor(engine.FieldGroup, facts); ok {
			groups[family] = g
		}
	}

	fallbackUser, _ := engine.DefaultFor(engine.FieldUser, engine.PlatformFacts{})
	fallbackGroup, _ := engine.DefaultFor(engine.FieldGroup, engine.PlatformFacts{})

	return map[string]interface{}{
		"platform": map[string]interface{}{
			"default_user":   users,
			"default_group":  groups,
			"fallback_user":  fallbackUser,
			"fallback_group": fallbackGroup,
		},
	}
}

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		networkExposurePolicy(),
		plaintextCredentialsPolicy(),
		unrepairedOwnershipPolicy(),
		journalDisabledPolicy(),
		replicaSetKeyFilePolicy(),
	}
}

// networkExposurePolicy flags servers that listen on every interface
// without authentication.
func networkExposurePolicy() Policy {
	return Policy{
		Name:        "network-exposure",
		Description: "Warns when mongod listens on all interfaces with authentication disabled",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security", "network"},
		Rego: `package mongocfg.policies.network

import rego.v1

wildcard := {"0.0.0.0", "::"}

listens_everywhere if {
	ips := object.get(input.parameters, "bind_ip", null)
	not is_array(ips)
}

listens_everywhere if count(input.parameters.bind_ip) == 0

listens_everywhere if {
	some ip in input.parameters.bind_ip
	ip in wildcard
}

deny contains violation if {
	input.parameters.ensure == "present"
	listens_everywhere
	not input.parameters.auth
	violation := {
		"message": "mongod accepts unauthenticated connections on every interface",
		"setting": "bind_ip",
		"severity": "warning",
		"remediation": "restrict bind_ip to specific addresses or set auth: true",
	}
}
`,
	}
}

// plaintextCredentialsPolicy flags credentials written to the rc file.
func plaintextCredentialsPolicy() Policy {
	return Policy{
		Name:        "plaintext-credentials",
		Description: "Warns when admin credentials are stored in plaintext in the shell rc file",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security", "credentials"},
		Rego: `package mongocfg.policies.credentials

import rego.v1

deny contains violation if {
	input.parameters.ensure == "present"
	input.has_credentials
	violation := {
		"message": sprintf("admin credentials are stored in plaintext at %s", [input.parameters.rcfile]),
		"setting": "store_creds",
		"severity": "warning",
		"remediation": "set store_creds: false and authenticate interactively",
	}
}
`,
	}
}

// unrepairedOwnershipPolicy flags a custom owner that the dbpath repair
// will not apply.
func unrepairedOwnershipPolicy() Policy {
	return Policy{
		Name:        "unrepaired-ownership",
		Description: "Notes when a non-default user or group owns mongod but dbpath_fix is off",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"filesystem"},
		Rego: `package mongocfg.policies.ownership

import rego.v1

family := object.get(input.parameters, "os_family", "")

default_user := data.platform.default_user[family] if {
	data.platform.default_user[family]
} else := data.platform.fallback_user

default_group := data.platform.default_group[family] if {
	data.platform.default_group[family]
} else := data.platform.fallback_group

custom_owner if input.parameters.user != default_user

custom_owner if input.parameters.group != default_group

deny contains violation if {
	input.parameters.ensure == "present"
	custom_owner
	not input.parameters.dbpath_fix
	violation := {
		"message": sprintf("dbpath %s will not be chowned to %s:%s", [input.parameters.dbpath, input.parameters.user, input.parameters.group]),
		"setting": "dbpath_fix",
		"severity": "info",
		"remediation": "set dbpath_fix: true to repair existing data file ownership",
	}
}
`,
	}
}

// journalDisabledPolicy flags journaling turned off by the caller.
// A platform override is reported at info level since it cannot be changed.
func journalDisabledPolicy() Policy {
	return Policy{
		Name:        "journal-disabled",
		Description: "Warns when journaling is disabled",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"durability"},
		Rego: `package mongocfg.policies.journal

import rego.v1

overridden if {
	some o in object.get(input.parameters, "overrides", [])
	o.field == "journal"
}

deny contains violation if {
	input.parameters.ensure == "present"
	input.parameters.journal == false
	not overridden
	violation := {
		"message": "journaling is disabled; an unclean shutdown requires a repair",
		"setting": "journal",
		"severity": "warning",
		"remediation": "remove journal: false",
	}
}

deny contains violation if {
	input.parameters.ensure == "present"
	overridden
	violation := {
		"message": sprintf("journaling is unavailable on %s", [input.parameters.architecture]),
		"setting": "journal",
		"severity": "info",
	}
}
`,
	}
}

// replicaSetKeyFilePolicy rejects authenticated replica sets without a
// key file for member authentication.
func replicaSetKeyFilePolicy() Policy {
	return Policy{
		Name:        "replset-keyfile",
		Description: "Requires a key file when a replica set runs with authentication",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "replication"},
		Rego: `package mongocfg.policies.replset

import rego.v1

deny contains violation if {
	input.parameters.ensure == "present"
	object.get(input.parameters, "replset", "") != ""
	input.parameters.auth
	object.get(input.parameters, "keyfile", "") == ""
	violation := {
		"message": sprintf("replica set %s uses auth without a keyfile", [input.parameters.replset]),
		"setting": "keyfile",
		"severity": "error",
		"remediation": "set keyfile to a shared secret readable by the mongod user",
	}
}
`,
	}
}
