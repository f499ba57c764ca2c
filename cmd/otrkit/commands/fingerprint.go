package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"otrkit/internal/app"
	"otrkit/pkg/otrkit"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Show and manage fingerprints",
	}
	cmd.AddCommand(fingerprintListCmd(), fingerprintShowCmd(), fingerprintVerifyCmd(), fingerprintForgetCmd())
	return cmd
}

// withKit runs fn against a Kit over the on-disk stores.
func withKit(fn func(w *app.Wire, kit *otrkit.Kit) error) error {
	w, err := openWire()
	if err != nil {
		return err
	}
	defer w.Close()
	kit, err := w.NewKit(quietDelegate{}, nil)
	if err != nil {
		return err
	}
	defer kit.Close()
	return fn(w, kit)
}

func fingerprintListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known peer fingerprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKit(func(_ *app.Wire, kit *otrkit.Kit) error {
				recs := kit.Fingerprints()
				if len(recs) == 0 {
					fmt.Println("No fingerprints known.")
					return nil
				}
				for _, rec := range recs {
					if account != "" && rec.Account != account {
						continue
					}
					fmt.Printf("%-24s %-24s %-10s %s %s\n",
						rec.Account, rec.Username, rec.Protocol, rec.Fingerprint.Human(), trustLabel(rec))
				}
				return nil
			})
		},
	}
}

func trustLabel(rec otrkit.FingerprintRecord) string {
	var parts []string
	if rec.Verified {
		parts = append(parts, "verified")
	} else {
		parts = append(parts, "unverified")
	}
	if rec.Active {
		parts = append(parts, "active")
	}
	return strings.Join(parts, ",")
}

func fingerprintShowCmd() *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print our own fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := accountKey()
			if err != nil {
				return err
			}
			return withKit(func(_ *app.Wire, kit *otrkit.Kit) error {
				fp, ok := kit.LocalFingerprint(acct)
				if !ok {
					return fmt.Errorf("no key for %s, run keygen first", acct.Account)
				}
				fmt.Printf("Fingerprint: %s\n", fp.Human())
				if qr {
					qrterminal.GenerateWithConfig(fp.String(), qrterminal.Config{
						Level:     qrterminal.M,
						Writer:    os.Stdout,
						BlackChar: qrterminal.BLACK,
						WhiteChar: qrterminal.WHITE,
						QuietZone: 1,
					})
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also print the fingerprint as a QR code")
	return cmd
}

func fingerprintVerifyCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "verify USER FINGERPRINT",
		Short: "Mark a peer fingerprint as verified",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKit(func(_ *app.Wire, kit *otrkit.Kit) error {
				rec, err := findRecord(kit.Fingerprints(), args[0], strings.Join(args[1:], ""))
				if err != nil {
					return err
				}
				if err := kit.SetFingerprintVerified(rec, !revoke); err != nil {
					return err
				}
				if revoke {
					fmt.Printf("%s is no longer verified.\n", rec.Fingerprint.Human())
				} else {
					fmt.Printf("%s verified for %s.\n", rec.Fingerprint.Human(), rec.Username)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "clear the verified flag instead")
	return cmd
}

func fingerprintForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget USER FINGERPRINT",
		Short: "Delete a peer fingerprint",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKit(func(_ *app.Wire, kit *otrkit.Kit) error {
				rec, err := findRecord(kit.Fingerprints(), args[0], strings.Join(args[1:], ""))
				if err != nil {
					return err
				}
				if err := kit.DeleteFingerprint(cmd.Context(), rec); err != nil {
					return err
				}
				fmt.Printf("Forgot %s for %s.\n", rec.Fingerprint.Human(), rec.Username)
				return nil
			})
		},
	}
}

// normalizeFingerprint accepts the grouped upper case form people read
// aloud as well as plain hex.
func normalizeFingerprint(s string) otrkit.Fingerprint {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	return otrkit.Fingerprint(s)
}

func findRecord(recs []otrkit.FingerprintRecord, user, fp string) (otrkit.FingerprintRecord, error) {
	want := normalizeFingerprint(fp)
	for _, rec := range recs {
		if rec.Username != user || rec.Fingerprint != want {
			continue
		}
		if account != "" && rec.Account != account {
			continue
		}
		if rec.Protocol != protocol {
			continue
		}
		return rec, nil
	}
	return otrkit.FingerprintRecord{}, errors.New("no such fingerprint")
}
