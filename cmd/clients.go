package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/licita-cli/internal/model"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage supplier profiles used for matching",
}

var clientsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import client profiles from YAML, upserting by CNPJ",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "clients import: open file")
		}
		defer f.Close() //nolint:errcheck

		clients, err := loadClients(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "clients")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := importClients(ctx, st, clients)
		fmt.Fprintf(os.Stdout, "Imported %d of %d clients\n", n, len(clients))
		return err
	},
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List client profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "clients")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		activeOnly, _ := cmd.Flags().GetBool("active")
		clients, err := st.ListClients(ctx, activeOnly)
		if err != nil {
			return err
		}
		formatClients(os.Stdout, clients)
		return nil
	},
}

// clientsFile is the import format: a top-level clients list.
type clientsFile struct {
	Clients []yaml.Node `yaml:"clients"`
}

// loadClients decodes profiles from r. is_active defaults to true when a
// profile omits it.
func loadClients(r io.Reader) ([]model.Client, error) {
	var file clientsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, eris.Wrap(err, "clients import: parse yaml")
	}

	out := make([]model.Client, 0, len(file.Clients))
	for i, node := range file.Clients {
		c := model.Client{IsActive: true}
		if err := node.Decode(&c); err != nil {
			return nil, eris.Wrapf(err, "clients import: client %d", i+1)
		}
		c.CNPJ = digits(c.CNPJ)
		if c.CNPJ == "" {
			return nil, eris.Errorf("clients import: client %d (%s) has no cnpj", i+1, c.Name)
		}
		if strings.TrimSpace(c.Name) == "" {
			return nil, eris.Errorf("clients import: client %d (%s) has no name", i+1, c.CNPJ)
		}
		out = append(out, c)
	}
	return out, nil
}

// digits keeps the digits of a formatted CNPJ such as 12.345.678/0001-90.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type clientUpserter interface {
	UpsertClient(ctx context.Context, c *model.Client) error
}

func importClients(ctx context.Context, st clientUpserter, clients []model.Client) (int, error) {
	n := 0
	for i := range clients {
		if err := st.UpsertClient(ctx, &clients[i]); err != nil {
			return n, err
		}
		zap.L().Info("client imported",
			zap.String("cnpj", clients[i].CNPJ),
			zap.String("name", clients[i].Name),
			zap.String("id", clients[i].ID.String()),
		)
		n++
	}
	return n, nil
}

func formatClients(w io.Writer, clients []model.Client) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCNPJ\tNAME\tREGIONS\tACTIVE")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", c.ID, c.CNPJ, c.Name, strings.Join(c.Regions, ","), c.IsActive)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	clientsListCmd.Flags().Bool("active", false, "only active clients")
	clientsCmd.AddCommand(clientsImportCmd)
	clientsCmd.AddCommand(clientsListCmd)
	rootCmd.AddCommand(clientsCmd)
}
