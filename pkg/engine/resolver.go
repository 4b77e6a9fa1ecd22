package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// Resolver merges caller input with platform defaults.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a resolver that logs platform overrides to logger.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger.With().Str("component", "resolver").Logger()}
}

// Resolve reads facts and builds the parameter set. It only fills gaps;
// cross-field consistency is checked by Validate.
func (r *Resolver) Resolve(ctx context.Context, in Input, facts Facts) (*ParameterSet, error) {
	pf, err := Snapshot(ctx, facts)
	if err != nil {
		return nil, err
	}
	return r.ResolveWith(in, pf), nil
}

// ResolveWith builds the parameter set from an existing facts snapshot.
func (r *Resolver) ResolveWith(in Input, pf PlatformFacts) *ParameterSet {
	p := &ParameterSet{
		Ensure:         Ensure(stringOr(in.Ensure, FieldEnsure, pf)),
		ConfigPath:     stringOr(in.ConfigPath, FieldConfigPath, pf),
		DBPath:         stringOr(in.DBPath, FieldDBPath, pf),
		LogPath:        deref(in.LogPath),
		Port:           copyInt(in.Port),
		BindIP:         stringsOr(in.BindIP, FieldBindIP, pf),
		IPv6:           boolOr(in.IPv6, FieldIPv6, pf),
		Fork:           boolOr(in.Fork, FieldFork, pf),
		LogAppend:      boolOr(in.LogAppend, FieldLogAppend, pf),
		Auth:           boolOr(in.Auth, FieldAuth, pf),
		Journal:        copyBool(in.Journal),
		Quota:          boolOr(in.Quota, FieldQuota, pf),
		QuotaFiles:     copyInt(in.QuotaFiles),
		Syslog:         boolOr(in.Syslog, FieldSyslog, pf),
		SetParameter:   deref(in.SetParameter),
		User:           stringOr(in.User, FieldUser, pf),
		Group:          stringOr(in.Group, FieldGroup, pf),
		PidFilePath:    deref(in.PidFilePath),
		DBPathFix:      boolOr(in.DBPathFix, FieldDBPathFix, pf),
		RCFilePath:     stringOr(in.RCFilePath, FieldRCFilePath, pf),
		StoreCreds:     boolOr(in.StoreCreds, FieldStoreCreds, pf),
		AdminUsername:  deref(in.AdminUsername),
		AdminPassword:  deref(in.AdminPassword),
		KeyFile:        deref(in.KeyFile),
		ReplSet:        deref(in.ReplSet),
		MaxConns:       copyInt(in.MaxConns),
		DirectoryPerDB: boolOr(in.DirectoryPerDB, FieldDirectoryPerDB, pf),
		Architecture:   pf.Architecture,
		OSFamily:       pf.OSFamily,
	}

	if p.PidFilePath != "" {
		p.PidFileMode = stringOr(in.PidFileMode, FieldPidFileMode, pf)
	}

	r.applyOverrides(p, pf)
	return p
}

func (r *Resolver) applyOverrides(p *ParameterSet, pf PlatformFacts) {
	for _, o := range platformOverrides {
		if !o.applies(pf) {
			continue
		}

		var requested any
		switch o.field {
		case FieldJournal:
			if p.Journal != nil {
				requested = *p.Journal
			}
			applied := o.value.(bool)
			p.Journal = &applied
		default:
			continue
		}

		p.Overrides = append(p.Overrides, Override{
			Field:     o.field,
			Requested: requested,
			Applied:   o.value,
			Reason:    o.reason,
		})

		r.logger.Warn().
			Str("field", o.field).
			Interface("requested", requested).
			Interface("applied", o.value).
			Str("architecture", pf.Architecture).
			Msg(o.reason)
	}
}

// Resolve is a convenience wrapper around a resolver with a no-op logger.
func Resolve(ctx context.Context, in Input, facts Facts) (*ParameterSet, error) {
	return NewResolver(zerolog.Nop()).Resolve(ctx, in, facts)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func stringOr(v *string, field string, pf PlatformFacts) string {
	if v != nil {
		return *v
	}
	d, _ := DefaultFor(field, pf)
	s, _ := d.(string)
	return s
}

func boolOr(v *bool, field string, pf PlatformFacts) bool {
	if v != nil {
		return *v
	}
	d, _ := DefaultFor(field, pf)
	b, _ := d.(bool)
	return b
}

// stringsOr treats an empty list like an omitted one.
func stringsOr(v []string, field string, pf PlatformFacts) []string {
	if len(v) > 0 {
		return append([]string(nil), v...)
	}
	d, _ := DefaultFor(field, pf)
	s, _ := d.([]string)
	return s
}
