// Package config holds the configuration for the datadirsync agent,
// shared between the daemon entrypoint and the components it wires up.
// The agent is configured the way the original geOrchestra datadir
// rollout agent was: environment variables first, with flags layered on
// top for operating it outside a pod.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultMappingFile is where the rollout mapping is mounted in the
	// standard chart.
	DefaultMappingFile = "/tmp/datadirsync/rollout_mapping_config.yaml"

	defaultPollInterval = 60 * time.Second
	defaultGitTimeout   = 30 * time.Second
	defaultAPITimeout   = 15 * time.Second
)

// Config is everything the daemon needs to run. Fields map 1:1 onto
// environment variables (see envBindings) and onto flags.
type Config struct {
	GitRepo       string        `mapstructure:"gitRepo"`
	GitBranch     string        `mapstructure:"gitBranch"`
	GitUsername   string        `mapstructure:"gitUsername"`
	GitToken      string        `mapstructure:"gitToken"`
	GitSSHCommand string        `mapstructure:"gitSshCommand"`
	GitTimeout    time.Duration `mapstructure:"gitTimeout"`
	GitMirrorDir  string        `mapstructure:"gitMirrorDir"`

	PollInterval time.Duration `mapstructure:"pollInterval"`

	RolloutNamespace   string        `mapstructure:"rolloutNamespace"`
	RolloutMappingFile string        `mapstructure:"rolloutMappingFile"`
	RolloutConcurrency int           `mapstructure:"rolloutConcurrency"`
	RolloutRPS         float64       `mapstructure:"rolloutRps"`
	APITimeout         time.Duration `mapstructure:"apiTimeout"`

	StateMode      string `mapstructure:"stateMode"`
	StateFile      string `mapstructure:"stateFile"`
	StateConfigMap string `mapstructure:"stateConfigMap"`

	Listen     string `mapstructure:"listen"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// State backends selectable with --state-mode.
const (
	StateModeFile      = "file"
	StateModeConfigMap = "configmap"
	StateModeMemory    = "memory"
)

// envBindings maps config keys to the environment variables documented
// for the agent. These are the bare names the original agent used, not
// prefixed ones, so existing deployments keep working.
var envBindings = map[string]string{
	"gitRepo":            "GIT_REPO",
	"gitBranch":          "GIT_BRANCH",
	"gitUsername":        "GIT_USERNAME",
	"gitToken":           "GIT_TOKEN",
	"gitSshCommand":      "GIT_SSH_COMMAND",
	"pollInterval":       "POLL_INTERVAL",
	"rolloutNamespace":   "ROLLOUT_NAMESPACE",
	"rolloutMappingFile": "ROLLOUT_MAPPING_FILE",
}

// DefineFlags registers the agent's flags on fs. Flag values take
// precedence over environment variables, which take precedence over
// defaults; viper arbitrates.
func DefineFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("git-repo", "", "URL of the git repository holding the datadir")
	fs.String("git-branch", "main", "branch to track for changes")
	fs.String("git-username", "", "username for HTTPS git access")
	fs.String("git-token", "", "token or password for HTTPS git access")
	fs.String("git-ssh-command", "", "ssh command override for git access (GIT_SSH_COMMAND)")
	fs.Duration("git-timeout", defaultGitTimeout, "duration after which git operations time out")
	fs.String("git-mirror-dir", "", "directory to keep the repository mirror in (default: a temp dir)")
	fs.Duration("poll-interval", defaultPollInterval, "period at which to poll the repository for changes")
	fs.String("rollout-namespace", "default", "namespace containing the deployments to restart")
	fs.String("rollout-mapping-file", DefaultMappingFile, "path to the path-to-deployments mapping YAML")
	fs.Int("rollout-concurrency", 4, "maximum number of rollout restarts in flight at once")
	fs.Float64("rollout-rps", 5, "maximum rollout API calls per second")
	fs.Duration("api-timeout", defaultAPITimeout, "duration after which cluster API calls time out")
	fs.String("state-mode", StateModeFile, fmt.Sprintf("where to record the last synced revision; one of %q, %q, %q", StateModeFile, StateModeConfigMap, StateModeMemory))
	fs.String("state-file", "", "path of the revision state file (state-mode=file; default: alongside the mirror)")
	fs.String("state-configmap", "datadirsync-state", "name of the ConfigMap recording the revision (state-mode=configmap)")
	fs.String("listen", ":3030", "listen address for metrics and the agent API")
	fs.String("kubeconfig", "", "path to a kubeconfig, for running outside the cluster")

	flagToKey := map[string]string{
		"git-repo":             "gitRepo",
		"git-branch":           "gitBranch",
		"git-username":         "gitUsername",
		"git-token":            "gitToken",
		"git-ssh-command":      "gitSshCommand",
		"git-timeout":          "gitTimeout",
		"git-mirror-dir":       "gitMirrorDir",
		"poll-interval":        "pollInterval",
		"rollout-namespace":    "rolloutNamespace",
		"rollout-mapping-file": "rolloutMappingFile",
		"rollout-concurrency":  "rolloutConcurrency",
		"rollout-rps":          "rolloutRps",
		"api-timeout":          "apiTimeout",
		"state-mode":           "stateMode",
		"state-file":           "stateFile",
		"state-configmap":      "stateConfigMap",
		"listen":               "listen",
		"kubeconfig":           "kubeconfig",
	}
	for flagName, key := range flagToKey {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return errors.Wrapf(err, "binding flag %q", flagName)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return errors.Wrapf(err, "binding env var %q", env)
		}
	}
	return nil
}

// Load unmarshals the merged flag/env view into a Config. POLL_INTERVAL
// is documented as a number of seconds, so a bare integer is accepted
// there as well as a duration string.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(durationOrSecondsHook())); err != nil {
		return c, errors.Wrap(err, "unmarshaling configuration")
	}
	return c, nil
}

// Validate reports the first fatal configuration problem, or nil. These
// are the errors that should stop the agent before it enters the poll
// loop.
func (c Config) Validate() error {
	if c.GitRepo == "" {
		return errors.New("no git repository given; set GIT_REPO or --git-repo")
	}
	if c.GitBranch == "" {
		return errors.New("no git branch given; set GIT_BRANCH or --git-branch")
	}
	if c.RolloutNamespace == "" {
		return errors.New("no rollout namespace given; set ROLLOUT_NAMESPACE or --rollout-namespace")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RolloutConcurrency < 1 {
		return fmt.Errorf("rollout concurrency must be at least 1, got %d", c.RolloutConcurrency)
	}
	switch c.StateMode {
	case StateModeFile, StateModeConfigMap, StateModeMemory:
	default:
		return fmt.Errorf("unknown state mode %q", c.StateMode)
	}
	if c.GitUsername != "" && c.GitToken == "" {
		return errors.New("GIT_USERNAME is set but GIT_TOKEN is not")
	}
	return nil
}
