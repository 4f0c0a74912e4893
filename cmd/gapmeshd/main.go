// Command gapmeshd runs the gapmesh Session Controller as a standalone
// headless daemon: identity and favorites persist to an on-disk keychain
// file, private chat flows over Nostr gift wraps, and BLE mesh discovery
// stays disabled unless a platform.BLE adapter is linked in (see
// internal/platform.NullBLE).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/darabo/gapmesh/internal/config"
	"github.com/darabo/gapmesh/internal/controller"
	"github.com/darabo/gapmesh/internal/platform"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "gapmeshd",
		Short: "gapmesh chat daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile)
		},
	}
	root.Flags().StringVarP(&cfgFile, "config", "f", "gapmesh.toml", "path to the config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("datadir: %w", err)
	}

	fmt.Print("Enter keychain passphrase: ")
	passphrase, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("passphrase: %w", err)
	}

	kc, err := platform.NewFileKeychain(filepath.Join(cfg.DataDir, "keychain.cbor"))
	if err != nil {
		return fmt.Errorf("keychain: %w", err)
	}

	ble := platform.BLE(platform.NullBLE{})

	c, err := controller.New(controller.Options{
		Cfg:        cfg,
		BLE:        ble,
		Keychain:   kc,
		Clock:      platform.NewSystemClock(),
		Passphrase: passphrase,
	})
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Halt()

	go printEvents(c.EventSink)
	go readStdinCommands(c)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	return nil
}

func printEvents(sink <-chan interface{}) {
	for ev := range sink {
		switch e := ev.(type) {
		case controller.MessageReceivedEvent:
			fmt.Printf("<%s> %s\n", e.Nickname, e.Text)
		case controller.PeerAppearedEvent:
			fmt.Printf("* %s joined\n", e.Nickname)
		case controller.PeerDisappearedEvent:
			fmt.Printf("* %s left\n", e.PeerID)
		case controller.NoiseHandshakeCompleteEvent:
			fmt.Printf("* secure session established with %s (%s)\n", e.PeerID, e.Fingerprint)
		case controller.SystemEvent:
			fmt.Printf("-- %s\n", e.Text)
		default:
			fmt.Printf("%+v\n", e)
		}
	}
}

func readStdinCommands(c *controller.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := c.HandleInput(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
