// Package policy evaluates Rego policies against resolved mongod
// parameter sets.
//
// Policies are advisory checks layered on top of the engine's hard
// validation: a configuration the engine accepts may still listen on every
// interface without auth, or store admin credentials in plaintext. Each
// policy is a Rego module whose package defines a `deny` set; members are
// either message strings or objects with message, setting, severity and
// remediation keys. Violations at error or critical severity make the
// result not allowed.
//
// Policies see the document built by NewInput as `input`:
//
//	{
//	  "target": "db1",
//	  "parameters": { ...the resolved ParameterSet... },
//	  "has_credentials": true
//	}
//
// The admin password is never part of the input. Platform default owners
// are available under data.platform.
//
// Usage:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/mongocfg/policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.EvaluateParameters(ctx, "db1", artifacts.Parameters)
//
// # Built-in Policies
//
//   - network-exposure: all-interface bind without auth (warning)
//   - plaintext-credentials: admin credentials in the rc file (warning)
//   - unrepaired-ownership: custom owner without dbpath_fix (info)
//   - journal-disabled: journaling off, or unavailable on 32-bit (warning/info)
//   - replset-keyfile: authenticated replica set without a key file (error)
//
// Custom policies are loaded from .rego files, named after the file, or
// from .json files carrying a serialized Policy.
package policy
