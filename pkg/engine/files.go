package engine

// BuildDBPathDir describes the data directory. It is created after the
// configuration file and removed recursively when the server is absent.
func BuildDBPathDir(p *ParameterSet) FileState {
	if p.Ensure == EnsureAbsent {
		return FileState{Path: p.DBPath, Ensure: FileEnsureAbsent, Force: true}
	}

	return FileState{
		Path:   p.DBPath,
		Ensure: FileEnsureDirectory,
		Mode:   "0755",
		Owner:  p.User,
		Group:  p.Group,
		Deps:   []Dependency{{TargetID: FileRef(p.ConfigPath), Type: DependencyRequire}},
	}
}

// BuildPidFile returns nil unless a pid file path is configured.
func BuildPidFile(p *ParameterSet) *FileState {
	if p.PidFilePath == "" || p.Ensure == EnsureAbsent {
		return nil
	}

	return &FileState{
		Path:   p.PidFilePath,
		Ensure: FileEnsureFile,
		Mode:   p.PidFileMode,
		Owner:  p.User,
		Group:  p.Group,
	}
}

// BuildLogFile returns nil unless a log path is configured.
func BuildLogFile(p *ParameterSet) *FileState {
	if p.LogPath == "" || p.Ensure == EnsureAbsent {
		return nil
	}

	return &FileState{
		Path:   p.LogPath,
		Ensure: FileEnsureFile,
		Mode:   "0644",
		Owner:  p.User,
		Group:  p.Group,
	}
}
