package engine

import "fmt"

// CredentialsHeader opens the rc file.
const CredentialsHeader = "// .mongorc.js - generated by mongocfg\n"

// BuildCredentials produces the shell rc file that authenticates the admin
// user. Credentials are written verbatim and in plaintext.
func BuildCredentials(p *ParameterSet) FileState {
	if p.Ensure == EnsureAbsent || !p.HasCredentials() {
		return FileState{Path: p.RCFilePath, Ensure: FileEnsureAbsent}
	}

	return FileState{
		Path:    p.RCFilePath,
		Ensure:  FileEnsureFile,
		Mode:    "0600",
		Owner:   "root",
		Group:   "root",
		Content: CredentialsHeader + fmt.Sprintf("db.auth('%s', '%s')\n", p.AdminUsername, p.AdminPassword),
	}
}
