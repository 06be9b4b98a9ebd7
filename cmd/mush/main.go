package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mush-sh/mush/internal/jobs"
	"github.com/mush-sh/mush/internal/leader"
	"github.com/mush-sh/mush/internal/log"
	"github.com/mush-sh/mush/internal/model"
	"github.com/mush-sh/mush/internal/service"
)

var (
	userConfigPath string // /default/config/path/mush on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	closeLog       = func() error { return nil }
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "mush")
}

func main() {
	// a pipeline leader never gets to the CLI
	if leader.Invoked() {
		os.Exit(leader.Main())
	}

	rootCmd.PersistentFlags().String("config", "", "Config file to load - default is mush.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	viper.SetEnvPrefix("mush")
	for _, key := range []string{"config", "verbose"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
		if err := viper.BindEnv(key); err != nil {
			panic(err)
		}
	}

	execCmd.Flags().StringVar(&flagIn, "in", "", "read the first stage input from a file")
	execCmd.Flags().StringVar(&flagOut, "out", "", "write the last stage output to a file")
	execCmd.Flags().BoolVar(&flagCapture, "capture", false, "capture the output and print it once the pipeline completes")
	execCmd.Flags().BoolVar(&flagShow, "show", false, "print the job table before waiting")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initMush
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var exit exitCode
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		slog.Error("mush failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "mush",
	Short:        "Runs pipelines of commands as supervised jobs",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run reads the configuration and runs the configured pipelines",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of mush",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(w, "mush: version info not available")
			return
		}

		if configPath != "" {
			fmt.Fprintf(w, "config: %s\n", configPath)
		}
		fmt.Fprintf(w, "mush:   %s\n", info.Main.Version)
		fmt.Fprintf(w, "go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(w, "commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(w, "date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(w, "dirty:  %s\n", s.Value)
			}
		}
	},
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("mush",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	supervisor, err := service.NewSupervisor(ctx, config, jobs.Config{Verbose: verbose()})
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func verbose() bool {
	return config.Service.Verbose != nil && *config.Service.Verbose
}

func initMush(cmd *cobra.Command, _ []string) error {
	configPath = viper.GetString("config")
	if configPath == "" {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "mush.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		if err := storeDefaultConfig(); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// --verbose has a precedence over config file
	if viper.GetBool("verbose") {
		v := true
		config.Service.Verbose = &v
	}

	target := ""
	if config.Service.Log != nil {
		target = *config.Service.Log
	}
	var w io.Writer
	var err error
	w, closeLog, err = log.Output(target)
	if err != nil {
		return err
	}
	slog.SetDefault(log.New(verbose(), w))

	slog.Debug("mush started", "configPath", configPath, "cmd", cmd.Name())
	return nil
}

func storeDefaultConfig() error {
	config = model.DefaultConfig(context.Background())
	configPath = filepath.Join(userConfigPath, "mush.yaml")
	err := os.MkdirAll(filepath.Dir(configPath), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", configPath, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
