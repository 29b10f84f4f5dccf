// Command fpctl drives a virtual fingerprint device: it sends simulation
// commands to the device socket and talks to the fprintd API on the bus.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprintd"
	"github.com/cowboyrushforth/fprintvirt/virtual"
)

var (
	socketPath string
	driverName string
	socketDir  string
	busName    string
	timeout    time.Duration
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "fpctl",
	Short:         "Control a virtual fingerprint device",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			fplog.SetLevel(fplog.LevelDebug)
		} else {
			fplog.SetLevel(fplog.LevelWarn)
		}
	},
}

func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return virtual.SocketPath(socketDir, driverName)
}

func send(verb virtual.Verb, args ...interface{}) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return virtual.SendCommand(ctx, resolveSocket(), verb, args...)
}

func toArgs(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}

var sendCmd = &cobra.Command{
	Use:   "send VERB [ARG]",
	Short: "Send a raw simulation command",
	Long: "Send a raw simulation command. Known verbs: " +
		strings.Join(verbNames(), ", "),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		c, err := virtual.ParseCommand(line)
		if err != nil {
			return err
		}
		ids, err := send(c.Verb, toArgs(c.Args)...)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func verbNames() []string {
	var names []string
	for _, v := range virtual.Verbs() {
		names = append(names, string(v))
	}
	return names
}

var scanCmd = &cobra.Command{
	Use:   "scan ID",
	Short: "Present the finger labelled ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := send(virtual.VerbScan, args[0])
		return err
	},
}

var unplugCmd = &cobra.Command{
	Use:   "unplug",
	Short: "Simulate removal of the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := send(virtual.VerbUnplug)
		return err
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the prints stored on the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := send(virtual.VerbList)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func connectBus() (*dbus.Conn, error) {
	switch busName {
	case "system":
		return dbus.ConnectSystemBus()
	case "session":
		return dbus.ConnectSessionBus()
	}
	return nil, fmt.Errorf("unknown bus %q, use system or session", busName)
}

var fingersCmd = &cobra.Command{
	Use:   "fingers [USER]",
	Short: "List the enrolled fingers of USER",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connectBus()
		if err != nil {
			return err
		}
		defer conn.Close()

		if !fprintd.HasFingerprintReader(conn) {
			return fmt.Errorf("no fingerprint reader on the %s bus", busName)
		}

		var username string
		if len(args) > 0 {
			username = args[0]
		}
		fingers, err := fprintd.ListEnrolledFingers(conn, username)
		if err != nil {
			return err
		}
		for _, f := range fingers {
			fmt.Println(f)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [USER] [FINGER]",
	Short: "Verify a finger of USER through fprintd",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connectBus()
		if err != nil {
			return err
		}
		defer conn.Close()

		var username, finger string
		if len(args) > 0 {
			username = args[0]
		}
		if len(args) > 1 {
			finger = args[1]
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		matched, err := fprintd.Verify(ctx, conn, username, finger, func(status string) {
			fmt.Println(status)
		})
		if err != nil {
			return err
		}
		if !matched {
			return fmt.Errorf("no match")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "",
		"Path of the device socket, overrides --dir and --driver")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", virtual.DriverName,
		"Driver whose socket to use")
	rootCmd.PersistentFlags().StringVar(&socketDir, "dir", filepath.Join(os.TempDir(), "fprintvirt"),
		"Directory holding the device sockets")
	rootCmd.PersistentFlags().StringVar(&busName, "bus", "system",
		"Bus to find fprintd on: system or session")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"How long to wait for the device")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Verbose logging")

	rootCmd.AddCommand(sendCmd, scanCmd, unplugCmd, listCmd, fingersCmd, verifyCmd)
}
