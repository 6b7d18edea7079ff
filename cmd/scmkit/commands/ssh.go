package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/Sumatoshi-tech/scmkit/pkg/sshutil"
)

const defaultScanTimeout = 10 * time.Second

// ErrUserKeyExists is returned by userkey generate when a key is already
// stored and --force is not given.
var ErrUserKeyExists = errors.New("a user key already exists (use --force to replace it)")

// hostKeyRow is one hostkey list entry.
type hostKeyRow struct {
	Line        int                  `json:"line" yaml:"line"`
	Hosts       []string             `json:"hosts" yaml:"hosts"`
	Marker      string               `json:"marker,omitempty" yaml:"marker,omitempty"`
	Type        string               `json:"type" yaml:"type"`
	Fingerprint sshutil.Fingerprints `json:"fingerprint" yaml:"fingerprint"`
}

// keyInfo describes a single public key.
type keyInfo struct {
	Host        string               `json:"host,omitempty" yaml:"host,omitempty"`
	Type        string               `json:"type" yaml:"type"`
	Fingerprint sshutil.Fingerprints `json:"fingerprint" yaml:"fingerprint"`
	PublicKey   string               `json:"public_key" yaml:"public_key"`
	Trusted     bool                 `json:"trusted,omitempty" yaml:"trusted,omitempty"`
}

func describeKey(host string, key ssh.PublicKey) keyInfo {
	return keyInfo{
		Host:        host,
		Type:        key.Type(),
		Fingerprint: sshutil.Fingerprint(key),
		PublicKey:   sshutil.AuthorizedKeyLine(key),
	}
}

func (a *app) renderKey(info keyInfo) error {
	return a.render(info, func(tbl table.Writer) {
		if info.Host != "" {
			tbl.AppendRow(table.Row{"Host", info.Host})
		}

		tbl.AppendRow(table.Row{"Type", info.Type})
		tbl.AppendRow(table.Row{"SHA256", info.Fingerprint.SHA256})
		tbl.AppendRow(table.Row{"MD5", info.Fingerprint.MD5})
		tbl.AppendRow(table.Row{"Public key", info.PublicKey})
	})
}

func newHostKeyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hostkey",
		Short: "Manage trusted SSH host keys",
	}

	cmd.AddCommand(
		newHostKeyListCommand(a),
		newHostKeyAddCommand(a),
		newHostKeyReplaceCommand(a),
		newHostKeyScanCommand(a),
	)

	return cmd
}

func newHostKeyListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted host keys",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			entries, err := storage.HostKeys()
			if err != nil {
				return err
			}

			rows := make([]hostKeyRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, hostKeyRow{
					Line:        e.Line,
					Hosts:       e.Hosts,
					Marker:      e.Marker,
					Type:        e.Key.Type(),
					Fingerprint: sshutil.Fingerprint(e.Key),
				})
			}

			return a.render(rows, func(tbl table.Writer) {
				tbl.AppendHeader(table.Row{"Line", "Hosts", "Type", "Fingerprint"})

				for _, r := range rows {
					hosts := strings.Join(r.Hosts, ",")
					if r.Marker != "" {
						hosts = r.Marker + " " + hosts
					}

					tbl.AppendRow(table.Row{r.Line, hosts, r.Type, r.Fingerprint.SHA256})
				}

				tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(rows)), "", "",
					storage.KnownHostsPath()})
			})
		},
	}
}

func newHostKeyAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <host> <public-key>",
		Short: "Trust a host key given as \"type base64 [comment]\"",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			key, err := sshutil.ParseAuthorizedKey(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			if err := storage.AddHostKey(args[0], key); err != nil {
				return err
			}

			info := describeKey(args[0], key)
			info.Trusted = true

			return a.renderKey(info)
		},
	}
}

func newHostKeyReplaceCommand(a *app) *cobra.Command {
	var oldLine, newLine string

	cmd := &cobra.Command{
		Use:   "replace <host> --old <public-key> --new <public-key>",
		Short: "Replace a trusted host key after the server changed it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			oldKey, err := sshutil.ParseAuthorizedKey(oldLine)
			if err != nil {
				return fmt.Errorf("--old: %w", err)
			}

			newKey, err := sshutil.ParseAuthorizedKey(newLine)
			if err != nil {
				return fmt.Errorf("--new: %w", err)
			}

			if err := storage.ReplaceHostKey(args[0], oldKey, newKey); err != nil {
				return err
			}

			info := describeKey(args[0], newKey)
			info.Trusted = true

			return a.renderKey(info)
		},
	}

	cmd.Flags().StringVar(&oldLine, "old", "", "the previously trusted key")
	cmd.Flags().StringVar(&newLine, "new", "", "the key to trust instead")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")

	return cmd
}

func newHostKeyScanCommand(a *app) *cobra.Command {
	var (
		trust   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scan <host[:port]>",
		Short: "Fetch the key a server presents, optionally trusting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			_, host, _, err := sshutil.ParseNetloc(args[0])
			if err != nil {
				return err
			}

			key, err := sshutil.FetchHostKey(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}

			info := describeKey(host, key)

			if trust {
				if err := storage.AddHostKey(host, key); err != nil {
					return err
				}

				info.Trusted = true
			}

			return a.renderKey(info)
		},
	}

	cmd.Flags().BoolVar(&trust, "trust", false, "record the key as trusted")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultScanTimeout, "connect timeout")

	return cmd
}

func newUserKeyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "userkey",
		Short: "Manage the SSH user key",
	}

	cmd.AddCommand(newUserKeyGenerateCommand(a), newUserKeyShowCommand(a))

	return cmd
}

func newUserKeyGenerateCommand(a *app) *cobra.Command {
	var (
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and store a new RSA user key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			_, err = storage.UserKey()

			switch {
			case err == nil && !force:
				return ErrUserKeyExists
			case err == nil:
				if err := storage.DeleteUserKey(); err != nil {
					return err
				}
			case !errors.Is(err, sshutil.ErrNoUserKey):
				return err
			}

			pemBytes, err := sshutil.GenerateUserKey(bits)
			if err != nil {
				return err
			}

			if err := storage.WriteUserKey(pemBytes); err != nil {
				return err
			}

			signer, err := storage.UserKey()
			if err != nil {
				return err
			}

			return a.renderKey(describeKey("", signer.PublicKey()))
		},
	}

	cmd.Flags().IntVar(&bits, "bits", sshutil.DefaultKeyBits, "RSA key size")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")

	return cmd
}

func newUserKeyShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored user key's public half",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			storage, err := a.sshStorage()
			if err != nil {
				return err
			}

			signer, err := storage.UserKey()
			if err != nil {
				return err
			}

			return a.renderKey(describeKey("", signer.PublicKey()))
		},
	}
}
