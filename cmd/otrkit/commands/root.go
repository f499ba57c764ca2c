package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"otrkit/internal/app"
	"otrkit/internal/config"
	"otrkit/pkg/otrkit"
)

const defaultProtocol = "relay"

var (
	configFile string
	dataDir    string
	passphrase string
	relayURL   string
	account    string
	protocol   string
)

func Execute() error {
	root := &cobra.Command{
		Use:          "otrkit",
		Short:        "Off-the-Record messaging over a development relay",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data dir (default ~/.otrkit)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the private key file")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVarP(&account, "account", "a", "", "local account name")
	root.PersistentFlags().StringVar(&protocol, "protocol", defaultProtocol, "protocol name")

	root.AddCommand(keygenCmd(), fingerprintCmd(), classifyCmd(), chatCmd())
	return root.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg := new(config.Config)
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if dataDir != "" {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, err
		}
		cfg.DataDir = abs
	}
	if relayURL != "" {
		cfg.Relay = &config.Relay{URL: relayURL}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openWire loads the config and opens the stores, prompting for the
// passphrase when -p was not given.
func openWire() (*app.Wire, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		if passphrase, err = readPassphrase("Passphrase: "); err != nil {
			return nil, err
		}
	}
	return app.NewWire(cfg, app.Options{Passphrase: passphrase})
}

func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("passphrase required (-p)")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func accountKey() (otrkit.AccountKey, error) {
	if account == "" {
		return otrkit.AccountKey{}, errors.New("--account required")
	}
	return otrkit.AccountKey{Account: account, Protocol: protocol}, nil
}

func conversationKey(peer string) otrkit.ConversationKey {
	return otrkit.ConversationKey{Account: account, Username: peer, Protocol: protocol}
}
