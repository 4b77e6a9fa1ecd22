// Package config loads mongod parameters from files and scripts.
//
// Parameter files may be CUE, YAML or JSON. All of them describe the same
// document:
//
//	target: "db1"
//	mongodb: {
//		dbpath:  "/srv/mongo"
//		port:    27017
//		auth:    true
//		bind_ip: ["127.0.0.1"]
//	}
//
// Every source passed to Parser.Parse is unified with the others and with
// the built-in #Parameters schema, so a typo in a key or a port outside
// 1-65535 is reported with its file position before the engine sees it.
//
// A Starlark parameter script gets the platform facts and builds the same
// document procedurally:
//
//	if facts["os_family"] == "RedHat":
//	    user = "mongod"
//	else:
//	    user = "mongodb"
//	params = {"user": user, "auth": True}
//
// Watcher reports changes to any of these sources for the watch command.
package config
