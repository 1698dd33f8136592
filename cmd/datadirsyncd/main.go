package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/config"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/daemon"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/gitmirror"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/mapping"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/revision"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/rollout"
)

var version = "unversioned"

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  datadirsyncd watches a git-hosted datadir and restarts the deployments mapped to the paths that change.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	versionFlag := fs.Bool("version", false, "output the version and exit")

	v := viper.New()
	if err := config.DefineFlags(fs, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	c, err := config.Load(v)
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	if err := c.Validate(); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}

	remote := gitmirror.Remote{URL: c.GitRepo}
	auth, authMode := resolveAuth(c)

	logger.Log("version", version,
		"url", remote.SafeURL(),
		"branch", c.GitBranch,
		"poll-interval", c.PollInterval,
		"namespace", c.RolloutNamespace,
		"mapping", c.RolloutMappingFile,
		"auth", authMode)

	// Mapping table: an unreadable or unparseable file at startup is a
	// configuration error, not something to retry forever.
	tables := mapping.NewSource(c.RolloutMappingFile, log.With(logger, "component", "mapping"))
	table, err := tables.Get()
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	if table.Empty() {
		logger.Log("warning", "mapping table has no usable rules; changes will never trigger a rollout", "path", c.RolloutMappingFile)
	}

	// Cluster component.
	var clientset *kubernetes.Clientset
	{
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			if c.Kubeconfig == "" {
				logger.Log("err", err, "hint", "not running in a cluster; pass --kubeconfig to run outside")
				os.Exit(1)
			}
			restCfg, err = clientcmd.BuildConfigFromFlags("", c.Kubeconfig)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
		}
		restCfg.Timeout = c.APITimeout
		clientset, err = kubernetes.NewForConfig(restCfg)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
	}

	// Repository mirror; an unreachable repository on first sync is
	// fatal rather than something to limp along with.
	repoOpts := []gitmirror.Option{
		gitmirror.Branch(c.GitBranch),
		gitmirror.Timeout(c.GitTimeout),
	}
	if c.GitMirrorDir != "" {
		repoOpts = append(repoOpts, gitmirror.BaseDir(c.GitMirrorDir))
	}
	repo := gitmirror.NewRepo(remote, auth, repoOpts...)
	if err := repo.Ready(context.Background()); err != nil {
		logger.Log("err", err, "url", remote.SafeURL())
		os.Exit(1)
	}

	// Revision state.
	var state revision.State
	switch c.StateMode {
	case config.StateModeConfigMap:
		state = revision.NewConfigMap(clientset, c.RolloutNamespace, c.StateConfigMap)
	case config.StateModeMemory:
		state = revision.NewMemory()
	default:
		path := c.StateFile
		if path == "" {
			path = filepath.Join(os.TempDir(), "datadirsync", "revision")
		}
		state = revision.NewFile(path)
	}
	logger.Log("component", "state", "backend", state.String())

	trigger := rollout.NewTrigger(
		rollout.NewClient(clientset),
		c.RolloutConcurrency,
		c.RolloutRPS,
		log.With(logger, "component", "rollout"),
	)

	d := &daemon.Daemon{
		Repo:         repo,
		Tables:       tables,
		Trigger:      trigger,
		State:        state,
		Namespace:    c.RolloutNamespace,
		PollInterval: c.PollInterval,
		Logger:       log.With(logger, "component", "daemon"),
	}

	// Ops listener: health, status, notify, metrics.
	go func() {
		mux := daemon.NewHandler(d)
		logger.Log("component", "http", "addr", c.Listen)
		if err := http.ListenAndServe(c.Listen, mux); err != nil {
			logger.Log("component", "http", "err", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go d.Loop(shutdown, &wg, log.With(logger, "component", "loop"))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Log("signal", sig.String(), "action", "shutting down")
	close(shutdown)
	wg.Wait()
	logger.Log("exiting", "true")
}

// resolveAuth picks exactly one credential mode from configuration, as
// the original agent did: an ssh command wins, then username/token,
// then anonymous.
func resolveAuth(c config.Config) (gitmirror.Auth, string) {
	switch {
	case c.GitSSHCommand != "":
		return gitmirror.SSHTransport{Command: c.GitSSHCommand}, "ssh"
	case c.GitUsername != "" && c.GitToken != "":
		return gitmirror.BasicAuth{User: c.GitUsername, Token: c.GitToken}, "username/token"
	default:
		return gitmirror.Anonymous{}, "anonymous"
	}
}
