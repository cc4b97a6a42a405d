// Command ciphermount mounts a backing directory of AES-256-GCM envelope
// files as a transparent plaintext FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/ciphermount/ciphermount/internal/ciphermountlog"
	"github.com/ciphermount/ciphermount/internal/cipherfs"
	"github.com/ciphermount/ciphermount/internal/config"
	"github.com/ciphermount/ciphermount/internal/statfsx"
)

// rootCmd is only the command shell: flag parsing is disabled on it, so
// every argument (--help included) is handed unparsed to config.Parse,
// which does all flag parsing and validation. That keeps the mount logic
// callable from tests without going through cobra at all.
var rootCmd = &cobra.Command{
	Use:   "ciphermount",
	Short: "Mount an AES-256-GCM encrypted source directory as plaintext",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(os.Args[1:])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.DisableFlagParsing = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ciphermount:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}

	clog := ciphermountlog.New(cfg.Debug)

	if stats, statErr := statfsx.Stat(cfg.Source); statErr != nil {
		clog.WithError(statErr).Warn("statfs on source directory failed")
	} else {
		clog.WithFields(map[string]any{
			"blocks_free":      stats.BlocksFree,
			"blocks_available": stats.BlocksAvailable,
			"inodes_free":      stats.InodesFree,
		}).Info("backing filesystem capacity")
	}

	fs := cipherfs.New(cfg.Source, cfg.Key, clog)
	server := fuseutil.NewFileSystemServer(fs)

	debugLogger := log.New(os.Stdout, "fuse: ", 0)
	errorLogger := log.New(os.Stderr, "fuse: ", 0)

	mountOptions := map[string]string{
		"auto_unmount": "",
		"noexec":       "",
	}
	if cfg.AllowOther {
		mountOptions["allow_other"] = ""
	}

	mountCfg := &fuse.MountConfig{
		FSName:                  "ciphermount",
		Options:                 mountOptions,
		DisableWritebackCaching: true,
		ErrorLogger:             errorLogger,
	}
	if cfg.Debug {
		mountCfg.DebugLogger = debugLogger
	}

	mfs, err := fuse.Mount(cfg.Mountpoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", cfg.Mountpoint, err)
	}

	clog.WithFields(map[string]any{
		"source":     cfg.Source,
		"mountpoint": cfg.Mountpoint,
	}).Info("ciphermount ready")

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("serving filesystem: %w", err)
	}
	return nil
}
