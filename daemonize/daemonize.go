// Copyright (c) 2025 BVK Chaitanya

// Package daemonize respawns the current program as a background daemon
// process.
package daemonize

import (
	"context"
	"fmt"
	"log"
	"log/syslog"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Daemonize respawns the current program in the background with the same
// command-line arguments. Daemonize is intended to turn the current program
// invoked from shell into a daemon process. Daemonize function *must* be
// called during the program startup before performing any other significant
// logic, like opening databases, starting servers, etc.
//
// The envkey environment variable identifies if the current process is the
// parent or the respawned child. It must be unique to the program and not
// set by anything else; the parent sets it to its own pid for the child.
//
// Standard input and standard outputs in the background process are replaced
// with /dev/null and standard library log is redirected to the syslog
// backend.
//
// Parent process uses the check function to wait for the background process
// to initialize successfully or die. Check receives the child process and
// returns (retry, error): a nil error means the child is ready; a non-nil
// error with retry=false aborts the wait.
//
// When successful, Daemonize returns nil to the background process and exits
// the parent process (i.e., never returns). When unsuccessful, Daemonize
// returns non-nil error to the parent process and exits the background
// process (i.e., never returns).
func Daemonize(ctx context.Context, envkey string, check func(context.Context, *os.Process) (bool, error)) error {
	if v := os.Getenv(envkey); len(v) == 0 {
		if err := daemonizeParent(ctx, envkey, check); err != nil {
			return err
		}
		os.Exit(0)
	}
	if err := daemonizeChild(); err != nil {
		os.Exit(1)
	}
	return nil
}

func daemonizeParent(ctx context.Context, envkey string, check func(context.Context, *os.Process) (bool, error)) error {
	binary, err := exec.LookPath(os.Args[0])
	if err != nil {
		return fmt.Errorf("could not lookup binary path: %w", err)
	}
	binaryPath, err := filepath.Abs(binary)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for binary: %w", err)
	}

	file, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("could not open /dev/null: %w", err)
	}
	defer file.Close()

	// Receive signal when child-process dies.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGCHLD, os.Interrupt)
	defer stop()

	attr := &os.ProcAttr{
		Dir:   "/",
		Env:   append(os.Environ(), fmt.Sprintf("%s=%d", envkey, os.Getpid())),
		Files: []*os.File{file, file, file},
	}
	child, err := os.StartProcess(binaryPath, os.Args, attr)
	if err != nil {
		return fmt.Errorf("could not start background process: %w", err)
	}

	if check != nil {
		time.Sleep(time.Second)
		for ctx.Err() == nil {
			retry, err := check(ctx, child)
			if err == nil {
				break
			}
			if !retry {
				return fmt.Errorf("background process initialization has failed: %w", err)
			}
			log.Printf("background process not yet initialized (will retry): %v", err)
			time.Sleep(time.Second)
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("could not initialize the background process: %w", err)
	}
	return nil
}

func daemonizeChild() error {
	syslogger, err := syslog.New(syslog.LOG_INFO, path.Base(os.Args[0]))
	if err != nil {
		return fmt.Errorf("could not create syslog: %w", err)
	}
	log.SetOutput(syslogger)

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("could not set session id: %w", err)
	}
	return nil
}
