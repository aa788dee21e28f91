package models

// HookConfig holds the commands run around an archiver invocation, used to
// quiesce the client before a run and release it afterwards. Commands are
// executed locally unless an SSH block is configured.
type HookConfig struct {
	PreRun  string // executed before the archiver starts; empty = none
	PostRun string // executed after the archiver finishes; empty = none
	SSH     *SSHConfig
}

// SSHConfig describes the remote host hook commands run on.
type SSHConfig struct {
	Host       string
	Port       int
	Username   string
	KeyPath    string // path to key file
	PrivateKey []byte // loaded from KeyPath
}

// HookResult holds the result of one hook command.
type HookResult struct {
	CommandRun bool
	Output     string
	Error      error
}
