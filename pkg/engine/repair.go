package engine

import "fmt"

// RepairActionName is the name of the dbpath ownership repair exec.
const RepairActionName = "fix dbpath permissions"

// BuildRepairAction returns the recursive chown of dbpath, or nil when
// dbpath_fix is off or the server is being removed. The onlyif guard keeps
// it from running once every entry already has the right owner and group.
func BuildRepairAction(p *ParameterSet) *ExecAction {
	if !p.DBPathFix || p.Ensure == EnsureAbsent {
		return nil
	}

	return &ExecAction{
		Name:    RepairActionName,
		Command: fmt.Sprintf("chown -R %s:%s %s", p.User, p.Group, p.DBPath),
		Path:    []string{"/usr/bin", "/bin"},
		OnlyIf: fmt.Sprintf("find %s -not -user %s -o -not -group %s -print -quit | grep -q '.*'",
			p.DBPath, p.User, p.Group),
		Deps: []Dependency{{TargetID: FileRef(p.DBPath), Type: DependencySubscribe}},
	}
}
