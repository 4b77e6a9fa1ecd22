package engine

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

type conflictRule struct {
	name  string
	check func(p *ParameterSet) *ConfigurationConflictError
}

// conflictRules run in order; the first violation aborts generation.
var conflictRules = []conflictRule{
	{
		name: "syslog-logpath",
		check: func(p *ParameterSet) *ConfigurationConflictError {
			if p.Syslog && p.LogPath != "" {
				return NewConfigurationConflict(ErrCodeSyslogWithLogpath,
					"You cannot use syslog with logpath", FieldSyslog, FieldLogPath).
					WithDetail(FieldLogPath, p.LogPath)
			}
			return nil
		},
	},
	{
		name: "creds-required",
		check: func(p *ParameterSet) *ConfigurationConflictError {
			if !p.StoreCreds || !p.Auth {
				return nil
			}
			conflict := NewConfigurationConflict(ErrCodeMissingCredentials, "", FieldStoreCreds, FieldAuth)
			if p.AdminUsername == "" {
				conflict.WithSetting(FieldAdminUsername)
			}
			if p.AdminPassword == "" {
				conflict.WithSetting(FieldAdminPassword)
			}
			missing := conflict.Settings[2:]
			if len(missing) == 0 {
				return nil
			}
			conflict.Message = fmt.Sprintf("store_creds with auth requires %s", strings.Join(missing, " and "))
			return conflict
		},
	},
}

// Validate rejects parameter combinations that are jointly inconsistent.
func Validate(p *ParameterSet) error {
	for _, rule := range conflictRules {
		if err := rule.check(p); err != nil {
			return err.WithDetail("rule", rule.name)
		}
	}
	return nil
}

var (
	inputValidator     *validator.Validate
	inputValidatorOnce sync.Once
	fileModePattern    = regexp.MustCompile(`^0?[0-7]{3}$`)
)

func getInputValidator() *validator.Validate {
	inputValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
			return fileModePattern.MatchString(fl.Field().String())
		})
		inputValidator = v
	})
	return inputValidator
}

// ValidateInput checks the typing contract of caller input (ranges, enums,
// address syntax). It does not look at field combinations.
func ValidateInput(in Input) error {
	if err := getInputValidator().Struct(in); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q check", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid input: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
