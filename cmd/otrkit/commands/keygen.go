package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"otrkit/internal/services/identity"
	"otrkit/pkg/otrkit"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the account's OTR key and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := accountKey()
			if err != nil {
				return err
			}
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()
			if err := identity.CheckPassphrase(passphrase); err != nil {
				return fmt.Errorf("%s", otrkit.Describe(err))
			}

			kit, err := w.NewKit(quietDelegate{}, nil)
			if err != nil {
				return err
			}
			defer kit.Close()

			fmt.Println("Generating key, this can take a moment...")
			if err := kit.GenerateKey(cmd.Context(), acct, otrkit.ModeSync); err != nil {
				return err
			}
			fp, _ := kit.LocalFingerprint(acct)
			fmt.Printf("Key created.\nFingerprint: %s\n", fp.Human())
			return nil
		},
	}
}
