package fay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// 1 while an install is committing to the target root; the first interrupt
// is blocked during that window.
var isCriticalAtomic atomic.Int32

// criticalSection runs fn with the interrupt guard raised. Builds stay
// interruptible; only the commit onto the target root is shielded.
func criticalSection(fn func() error) error {
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)
	return fn()
}

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: fay <command> [arguments]")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"run", "[-f] [-skip pkg,...]", "Build and install every stage of the package set"},
		{"stage", "[-f] <n>", "Build and install one stage"},
		{"build, b", "<pkg>", "Build a single package into the artifact cache"},
		{"install, i", "[-f] <pkg>", "Install a package (building it if needed)"},
		{"uninstall, r", "<pkg>", "Uninstall a package"},
		{"list, ls", "", "List installed packages"},
		{"query, q", "<pkg>", "Show the installed version of a package"},
		{"manifest, m", "<pkg>", "Show the file list for an installed package"},
		{"owner, o", "<path>", "Find which package owns a path"},
		{"plan", "<stage>", "Print the build plan for a stage"},
		{"push", "<pkg>", "Upload a cached artifact to the mirror"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usage string
		if c.Args != "" {
			usage = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usage = fmt.Sprintf("  %s", c.Cmd)
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		pad := columnWidth - len(usage)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for fay.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					colArrow.Print("\n-> ")
					colError.Printf("Install in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				}
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling\n", sig)
				cancel()
				select {
				case <-sigs:
					os.Exit(130)
				case <-time.After(2 * time.Second):
					os.Exit(0)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if root := os.Getenv("FAY_ROOT"); root != "" {
		configPath = filepath.Join(root, "etc", "fay.conf")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		colError.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	initConfig(cfg)

	if err := dispatch(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		colArrow.Print("-> ")
		colError.Printf("%v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *Config, command string, args []string) error {
	switch command {
	case "version", "--version":
		fmt.Printf("fay %s (%s)\n", version, buildDate)
		return nil
	case "help", "-h", "--help":
		printHelp()
		return nil
	}

	force := false
	skip := make(map[string]bool)
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f", "-force":
			force = true
		case "-skip":
			if i+1 < len(args) {
				i++
				for _, name := range strings.Split(args[i], ",") {
					if name = strings.TrimSpace(name); name != "" {
						skip[name] = true
					}
				}
			}
		case "-debug":
			Debug = true
		default:
			rest = append(rest, args[i])
		}
	}
	args = rest

	db := OpenPackageDB(rootDir)

	// Query-side commands need no manifests or cache.
	switch command {
	case "list", "ls":
		names, err := db.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			_, ver, err := db.Query(name)
			if err != nil {
				continue
			}
			colSuccess.Printf("%-28s ", name)
			fmt.Println(ver)
		}
		return nil
	case "query", "q":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay query <pkg>")
		}
		name, ver, err := db.Query(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", name, ver)
		return nil
	case "manifest", "m":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay manifest <pkg>")
		}
		files, err := db.Files(args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	case "owner", "o":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay owner <path>")
		}
		owner, err := db.Owner(args[0])
		if err != nil {
			return err
		}
		fmt.Println(owner)
		return nil
	case "uninstall", "r":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay uninstall <pkg>")
		}
		return db.Remove(args[0])
	}

	store, err := LoadManifests(packageSetPath(cfg))
	if err != nil {
		return err
	}
	mirror, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}
	cache := NewArtifactCache(cacheDir, nil)
	if mirror != nil {
		cache.Mirror = mirror
	}
	builder := NewBuilder(cache, NewExecutor(ctx))

	switch command {
	case "plan":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay plan <stage>")
		}
		stage, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad stage %q", args[0])
		}
		for _, name := range store.Plan(stage).Names {
			fmt.Println(name)
		}
		return nil
	case "build", "b":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay build <pkg>")
		}
		m, err := store.Get(args[0])
		if err != nil {
			return err
		}
		_, err = builder.Build(ctx, m)
		return err
	case "push":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay push <pkg>")
		}
		if mirror == nil {
			return fmt.Errorf("no mirror configured")
		}
		m, err := store.Get(args[0])
		if err != nil {
			return err
		}
		return cache.Push(ctx, m.Name, m.Version)
	}

	orch := NewOrchestrator(store, db, cache, builder)
	orch.Force = force
	orch.Skip = skip
	orch.StatePath = stateFile
	if st, err := loadBuildState(stateFile); err == nil {
		orch.State = st
	} else {
		colWarn.Printf("ignoring unreadable build state: %v\n", err)
	}
	if err := orch.Lock(); err != nil {
		return err
	}
	defer orch.Unlock()

	switch command {
	case "run":
		return orch.Run(ctx)
	case "stage":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay stage <n>")
		}
		stage, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad stage %q", args[0])
		}
		return orch.RunStage(ctx, stage)
	case "install", "i":
		if len(args) != 1 {
			return fmt.Errorf("usage: fay install <pkg>")
		}
		m, err := store.Get(args[0])
		if err != nil {
			return err
		}
		state, err := orch.runPackage(ctx, m)
		if err != nil {
			return fmt.Errorf("%s failed while %s: %w", m.Name, state, err)
		}
		return nil
	}

	printHelp()
	return errors.New("unknown command: " + command)
}

func packageSetPath(cfg *Config) string {
	if p := cfg.Values["FAY_PACKAGES"]; p != "" {
		return p
	}
	return filepath.Join(rootDir, "etc", "fay", "packages.conf")
}
