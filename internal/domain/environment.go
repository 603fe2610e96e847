package domain

// Environment is a registered repository plus its local mirror clone
type Environment struct {
	EnvID         string `json:"envId" yaml:"envId"`
	RepoURL       string `json:"repoUrl" yaml:"repoUrl"`
	DefaultBranch string `json:"defaultBranch" yaml:"defaultBranch"`
	MirrorPath    string `json:"mirrorPath" yaml:"mirrorPath"`
}
